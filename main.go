// Package main provides the entry point of the receipts service
//
// @title Receipts Service API
// @version 1.0
// @description Receipt CRUD service; receipt ids come from a named monotonic counter.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the manager access token.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/receipts-service/app/handlers"
	"github.com/amirphl/receipts-service/app/middleware"
	"github.com/amirphl/receipts-service/app/router"
	"github.com/amirphl/receipts-service/app/scheduler"
	"github.com/amirphl/receipts-service/app/services"
	businessflow "github.com/amirphl/receipts-service/business_flow"
	"github.com/amirphl/receipts-service/config"
	"github.com/amirphl/receipts-service/logger"
	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/repository"
	"github.com/amirphl/receipts-service/sequence"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	logger    *zap.Logger
	stopFuncs []func()
	closers   []func() error
}

var rootCmd = &cobra.Command{
	Use:   "receipts-service",
	Short: "Receipt CRUD service with monotonic receipt numbers",
	Long: `Receipt CRUD service. Receipt ids are allocated from a named ` +
		`counter that starts above a configurable floor and never goes back.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return serve(cmd.Context(), cfg, log)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sequenceCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger
func bootstrap() (*config.ProductionConfig, *zap.Logger, error) {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.ProductionConfig) *zap.Logger {
	lc := logger.ProductionConfig()
	if !cfg.Deployment.IsProduction() {
		lc = logger.DefaultConfig()
	}
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.Logging.FilePath
	lc.MaxSizeMB = cfg.Logging.MaxSize
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAgeDays = cfg.Logging.MaxAge
	lc.Compress = cfg.Logging.Compress

	return logger.New(lc).With(
		zap.String("service", "receipts-service"),
		zap.String("version", cfg.Deployment.Version),
		zap.String("env", cfg.Deployment.Environment),
	)
}

func serve(ctx context.Context, cfg *config.ProductionConfig, log *zap.Logger) error {
	log.Info("Starting receipts service")

	app, err := initializeApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	listenErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listenErr <- app.router.Start(address)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-listenErr:
		if err != nil {
			runErr = fmt.Errorf("server stopped: %w", err)
		}
	}

	if err := app.shutdown(); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	log.Info("Server stopped")
	return runErr
}

// shutdown stops background workers, then the server, then releases connections
func (a *Application) shutdown() error {
	for _, fn := range a.stopFuncs {
		fn()
	}

	var result *multierror.Error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.LogLevel), cfg.SlowQueryTime),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return db, nil
}

// initializeRedis connects to url and verifies connectivity
func initializeRedis(url string, log *zap.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis connection established", zap.String("addr", opt.Addr), zap.Int("db", opt.DB))
	return rc, nil
}

// counterStore is the backend the Assigner allocates from, plus whatever must be closed with it
type counterStore struct {
	backend *sequence.InstrumentedStore
	close   func() error
}

// openCounterStore builds the configured counter backend. rc may be nil unless the backend is redis.
func openCounterStore(cfg config.SequenceConfig, db *gorm.DB, rc *redis.Client, log *zap.Logger) (*counterStore, error) {
	noop := func() error { return nil }

	var backend sequence.Backend
	closeFn := noop

	switch cfg.Backend {
	case config.SequenceBackendPostgres:
		if db == nil {
			return nil, errors.New("postgres counter backend requires a database connection")
		}
		backend = repository.NewSequenceCounterRepository(db, cfg.Floor)
	case config.SequenceBackendRedis:
		if rc == nil {
			return nil, errors.New("redis counter backend requires a redis connection")
		}
		backend = sequence.NewRedisStore(rc, cfg.RedisPrefix, cfg.Floor)
	case config.SequenceBackendBolt:
		bs, err := sequence.OpenBoltStore(cfg.BoltPath, cfg.Floor)
		if err != nil {
			return nil, err
		}
		backend = bs
		closeFn = bs.Close
	case config.SequenceBackendMemory:
		log.Warn("Using the in-memory counter backend; receipt ids restart from the floor on every start")
		backend = sequence.NewMemoryStore(cfg.Floor)
	default:
		return nil, fmt.Errorf("unknown sequence backend %q", cfg.Backend)
	}

	log.Info("Counter store ready", zap.String("backend", cfg.Backend), zap.Int64("floor", cfg.Floor))
	return &counterStore{backend: sequence.Instrument(backend, log), close: closeFn}, nil
}

// initializeApplication initializes the main application components
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, log *zap.Logger) (_ *Application, err error) {
	app := &Application{config: cfg, logger: log}
	defer func() {
		if err != nil {
			for i := len(app.closers) - 1; i >= 0; i-- {
				_ = app.closers[i]()
			}
		}
	}()

	db, err := initializeDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	var rc *redis.Client
	if cfg.Cache.Enabled || cfg.Sequence.Backend == config.SequenceBackendRedis {
		rc, err = initializeRedis(cfg.Cache.RedisURL, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rc.Close)
	}

	counters, err := openCounterStore(cfg.Sequence, db, rc, log)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, counters.close)

	// Repositories
	receiptRepo := repository.NewReceiptRepository(db)

	// Services
	tokenService, err := services.NewTokenService(cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	customers := services.NewCustomerClient(cfg.CustomerService.BaseURL, cfg.CustomerService.Timeout, log)
	if cfg.Cache.Enabled {
		customers = customers.WithCache(rc, cfg.Cache.RedisPrefix, cfg.CustomerService.CacheTTL)
	}

	// Flows
	assigner := sequence.NewAssigner(counters.backend, log)
	receiptFlow := businessflow.NewReceiptFlow(receiptRepo, customers, assigner, log)
	sequenceFlow := businessflow.NewSequenceFlow(counters.backend)

	// Background workers
	if cfg.Sequence.AuditInterval > 0 {
		sources := make(map[string]scheduler.MaxIDSource)
		for _, name := range cfg.Sequence.TrackedNames {
			if name != models.ReceiptSequenceName {
				log.Warn("No table is keyed by tracked sequence, skipping audit", zap.String("sequence", name))
				continue
			}
			sources[name] = receiptRepo
		}
		auditor := scheduler.NewSequenceAuditor(counters.backend, sources, cfg.Sequence.Floor, cfg.Sequence.AuditInterval, log)
		app.stopFuncs = append(app.stopFuncs, auditor.Start(ctx))
	}

	healthChecks := map[string]router.HealthCheck{
		"database":       sqlDB.PingContext,
		"sequence_store": counters.backend.Ping,
	}
	if rc != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	app.router = router.NewFiberRouter(cfg, router.Dependencies{
		ReceiptHandler:  handlers.NewReceiptHandler(receiptFlow, log),
		SequenceHandler: handlers.NewSequenceHandler(sequenceFlow, log),
		AuthMiddleware:  middleware.NewAuthMiddleware(tokenService),
		HealthChecks:    healthChecks,
	}, log)

	log.Info("Application initialized",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.String("customer_service", cfg.CustomerService.BaseURL),
	)
	return app, nil
}
