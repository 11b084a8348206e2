package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{Host: "db", Port: 5432, Name: "receipts", User: "postgres", Password: "secret"},
		Server:   ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
		JWT:      JWTConfig{SecretKey: "0123456789abcdef0123456789abcdef", Issuer: "i", Audience: "a"},
		Logging:  LoggingConfig{Level: "info", Output: "stdout"},
		Sequence: SequenceConfig{Backend: SequenceBackendPostgres, Floor: 600},
		CustomerService: CustomerServiceConfig{
			BaseURL: "http://customers", Timeout: time.Second,
		},
		Deployment: DeploymentConfig{Environment: "production"},
	}
}

func TestValidateProductionConfig_Valid(t *testing.T) {
	assert.NoError(t, ValidateProductionConfig(validConfig()))
}

func TestValidateProductionConfig_CollectsEveryViolation(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""
	cfg.JWT.SecretKey = "short"
	cfg.Sequence.Floor = -1

	err := ValidateProductionConfig(cfg)
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
	assert.Contains(t, err.Error(), "SEQUENCE_FLOOR")
}

func TestValidateProductionConfig_SequenceBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProductionConfig)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *ProductionConfig) { c.Sequence.Backend = "etcd" }, wantErr: "SEQUENCE_BACKEND must be one of"},
		{name: "memory in production", mutate: func(c *ProductionConfig) { c.Sequence.Backend = SequenceBackendMemory }, wantErr: "not durable"},
		{name: "bolt without path", mutate: func(c *ProductionConfig) { c.Sequence.Backend = SequenceBackendBolt }, wantErr: "SEQUENCE_BOLT_PATH"},
		{name: "redis without url", mutate: func(c *ProductionConfig) { c.Sequence.Backend = SequenceBackendRedis }, wantErr: "CACHE_REDIS_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateProductionConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := validConfig()
	cfg.Sequence.Backend = SequenceBackendMemory
	cfg.Deployment.Environment = "development"
	assert.NoError(t, ValidateProductionConfig(cfg))
}

func TestLoadProductionConfig_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("SEQUENCE_FLOOR", "1000")
	t.Setenv("SEQUENCE_TRACKED_NAMES", "Receipt, Invoice")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cfg.Sequence.Floor)
	assert.Equal(t, []string{"Receipt", "Invoice"}, cfg.Sequence.TrackedNames)
	assert.Equal(t, SequenceBackendPostgres, cfg.Sequence.Backend)
}

func TestLoadProductionConfig_DefaultFloor(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("SEQUENCE_FLOOR", "")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(600), cfg.Sequence.Floor)
}

func TestLoadEnvFile_ExistingEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RECEIPTS_TEST_A=from-file\nRECEIPTS_TEST_B=\"quoted\"\n"), 0o600))

	t.Setenv("RECEIPTS_TEST_A", "from-env")
	t.Setenv("RECEIPTS_TEST_B", "")
	os.Unsetenv("RECEIPTS_TEST_B")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-env", os.Getenv("RECEIPTS_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("RECEIPTS_TEST_B"))

	assert.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
}
