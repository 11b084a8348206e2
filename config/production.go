// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Sequence backends
const (
	SequenceBackendPostgres = "postgres"
	SequenceBackendRedis    = "redis"
	SequenceBackendBolt     = "bolt"
	SequenceBackendMemory   = "memory"
)

// ProductionConfig holds all configuration for the service
type ProductionConfig struct {
	Database        DatabaseConfig        `json:"database"`
	Server          ServerConfig          `json:"server"`
	Security        SecurityConfig        `json:"security"`
	JWT             JWTConfig             `json:"jwt"`
	Logging         LoggingConfig         `json:"logging"`
	Metrics         MetricsConfig         `json:"metrics"`
	Cache           CacheConfig           `json:"cache"`
	Sequence        SequenceConfig        `json:"sequence"`
	CustomerService CustomerServiceConfig `json:"customer_service"`
	Deployment      DeploymentConfig      `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	LogLevel        string        `json:"log_level"` // silent, error, warn, info
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the libpq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`

	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`
}

// JWTConfig verifies manager tokens issued by the identity service
type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, console
	Output     string `json:"output"` // stdout, stderr, file
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	RedisURL    string        `json:"redis_url"`
	RedisPrefix string        `json:"redis_prefix"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

// SequenceConfig selects and tunes the counter store receipt ids come from
type SequenceConfig struct {
	Backend       string        `json:"backend"`
	Floor         int64         `json:"floor"`
	BoltPath      string        `json:"bolt_path"`
	RedisPrefix   string        `json:"redis_prefix"`
	AuditInterval time.Duration `json:"audit_interval"` // 0 disables the auditor
	TrackedNames  []string      `json:"tracked_names"`
}

type CustomerServiceConfig struct {
	BaseURL  string        `json:"base_url"`
	Timeout  time.Duration `json:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl"` // 0 disables caching
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// IsProduction reports whether APP_ENV is production
func (d DeploymentConfig) IsProduction() bool {
	return d.Environment == "production"
}

// LoadProductionConfig loads and validates configuration from environment variables.
// A .env file in the working directory is read first; variables already set win.
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "receipts"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			LogLevel:        getEnvString("DB_LOG_LEVEL", "warn"),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 1024*1024),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "receipts-service"),
			Audience:       getEnvString("JWT_AUDIENCE", "receipts-service-api"),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:   getEnvString("LOG_FILE_PATH", "/var/log/receipts/app.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "receipts:"),
			DefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),
		},
		Sequence: SequenceConfig{
			Backend:       getEnvString("SEQUENCE_BACKEND", SequenceBackendPostgres),
			Floor:         getEnvInt64("SEQUENCE_FLOOR", 600),
			BoltPath:      getEnvString("SEQUENCE_BOLT_PATH", "/var/lib/receipts/sequences.db"),
			RedisPrefix:   getEnvString("SEQUENCE_REDIS_PREFIX", "receipts:"),
			AuditInterval: getEnvDuration("SEQUENCE_AUDIT_INTERVAL", 5*time.Minute),
			TrackedNames:  getEnvStringSlice("SEQUENCE_TRACKED_NAMES", []string{"Receipt"}),
		},
		CustomerService: CustomerServiceConfig{
			BaseURL:  getEnvString("CUSTOMER_SERVICE_URL", "http://customers:8080/api/v1/customers"),
			Timeout:  getEnvDuration("CUSTOMER_SERVICE_TIMEOUT", 5*time.Second),
			CacheTTL: getEnvDuration("CUSTOMER_SERVICE_CACHE_TTL", time.Minute),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads path into the environment when it exists
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig returns every violation found in cfg
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if cfg.Database.Host == "" {
		add("DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		add("DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		add("DB_NAME is required")
	}
	if cfg.Database.User == "" {
		add("DB_USER is required")
	}
	if cfg.Deployment.IsProduction() && cfg.Database.Password == "" {
		add("DB_PASSWORD is required")
	}

	if len(cfg.JWT.SecretKey) < 32 {
		add("JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.Issuer == "" {
		add("JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		add("JWT_AUDIENCE is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 || cfg.Server.IdleTimeout <= 0 {
		add("SERVER_READ_TIMEOUT, SERVER_WRITE_TIMEOUT and SERVER_IDLE_TIMEOUT must be positive")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, cfg.Logging.Level) {
		add("LOG_LEVEL must be one of: %v", validLevels)
	}
	if (cfg.Logging.Output == "file" || cfg.Logging.Output == "both") && cfg.Logging.FilePath == "" {
		add("LOG_FILE_PATH is required when LOG_OUTPUT is file or both")
	}

	if cfg.Sequence.Floor < 0 {
		add("SEQUENCE_FLOOR must not be negative")
	}
	switch cfg.Sequence.Backend {
	case SequenceBackendPostgres:
	case SequenceBackendRedis:
		if cfg.Cache.RedisURL == "" {
			add("CACHE_REDIS_URL is required when SEQUENCE_BACKEND is redis")
		}
	case SequenceBackendBolt:
		if cfg.Sequence.BoltPath == "" {
			add("SEQUENCE_BOLT_PATH is required when SEQUENCE_BACKEND is bolt")
		}
	case SequenceBackendMemory:
		if cfg.Deployment.IsProduction() {
			add("SEQUENCE_BACKEND memory is not durable and cannot be used in production")
		}
	default:
		add("SEQUENCE_BACKEND must be one of: postgres, redis, bolt, memory")
	}
	if cfg.Sequence.AuditInterval < 0 {
		add("SEQUENCE_AUDIT_INTERVAL must not be negative")
	}

	if cfg.CustomerService.BaseURL == "" {
		add("CUSTOMER_SERVICE_URL is required")
	}
	if cfg.CustomerService.Timeout <= 0 {
		add("CUSTOMER_SERVICE_TIMEOUT must be positive")
	}

	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		add("CACHE_REDIS_URL is required when cache is enabled")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
