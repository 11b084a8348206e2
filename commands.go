package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/receipts-service/app/services"
	"github.com/amirphl/receipts-service/config"
	"github.com/amirphl/receipts-service/migrations"
	"github.com/amirphl/receipts-service/sequence"
	"github.com/hashicorp/go-multierror"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect database migrations",
}

func init() {
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator, _ []string) error {
				return m.Up()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator, _ []string) error {
				return m.Down()
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator, _ []string) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version=%d dirty=%t\n", version, dirty)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the migration version without running it, to clear a dirty state",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return m.Force(version)
			}),
		},
	)

	sequenceCmd.AddCommand(
		&cobra.Command{
			Use:   "next <name>",
			Short: "Allocate and print the next value of a counter",
			Args:  cobra.ExactArgs(1),
			RunE: withCounterStore(func(cmd *cobra.Command, store sequence.Backend, name string) error {
				v, err := store.Allocate(cmd.Context(), name)
				if err != nil {
					return err
				}
				cmd.Println(v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "current <name>",
			Short: "Print the last allocated value of a counter without allocating",
			Args:  cobra.ExactArgs(1),
			RunE: withCounterStore(func(cmd *cobra.Command, store sequence.Backend, name string) error {
				v, err := store.Current(cmd.Context(), name)
				if err != nil {
					return err
				}
				cmd.Println(v)
				return nil
			}),
		},
	)

	issueCmd := &cobra.Command{
		Use:   "issue <manager-id>",
		Short: "Issue a manager access token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProductionConfig()
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			ts, err := services.NewTokenService(cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
			if err != nil {
				return err
			}
			token, err := ts.GenerateManagerToken(args[0], name)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	issueCmd.Flags().String("name", "", "manager display name stored in the token")
	tokenCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(tokenCmd)
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Operate on named counters",
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manager token utilities for local environments",
}

func withMigrator(run func(cmd *cobra.Command, m *migrations.Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		m, err := migrations.New(db, log)
		if err != nil {
			_ = db.Close()
			return err
		}
		defer func() {
			var result *multierror.Error
			if err != nil {
				result = multierror.Append(result, err)
			}
			if cerr := m.Close(); cerr != nil {
				result = multierror.Append(result, cerr)
			}
			if cerr := db.Close(); cerr != nil {
				result = multierror.Append(result, cerr)
			}
			err = result.ErrorOrNil()
		}()

		return run(cmd, m, args)
	}
}

func withCounterStore(run func(cmd *cobra.Command, store sequence.Backend, name string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if err := sequence.ValidateName(args[0]); err != nil {
			return err
		}

		var (
			db *gorm.DB
			rc *redis.Client
		)
		switch cfg.Sequence.Backend {
		case config.SequenceBackendPostgres:
			if db, err = initializeDatabase(cfg.Database, log); err != nil {
				return err
			}
			if sqlDB, derr := db.DB(); derr == nil {
				defer sqlDB.Close()
			}
		case config.SequenceBackendRedis:
			if rc, err = initializeRedis(cfg.Cache.RedisURL, log); err != nil {
				return err
			}
			defer rc.Close()
		}

		store, err := openCounterStore(cfg.Sequence, db, rc, log)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := store.close(); cerr != nil {
				log.Warn("Failed to close counter store", zap.Error(cerr))
			}
		}()

		start := time.Now()
		err = run(cmd, store.backend, args[0])
		log.Debug("Counter command finished", zap.String("sequence", args[0]), zap.Duration("took", time.Since(start)))
		return err
	}
}
