package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quayside-labs/saaskit/pkg/observability"
	"github.com/quayside-labs/saaskit/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database postgres.ConnectionConfig

	// Redis configuration (optional second cache tier)
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig

	// Feature flag configuration
	Flags FlagsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds optional redis cache settings. When URL is empty the
// session cache runs with the in-process tier only.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// Enabled reports whether a redis tier is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// AuthConfig holds credential and session settings
type AuthConfig struct {
	// TokenSecret signs invitation, verification, and reset tokens.
	// It has no default and must be set.
	TokenSecret string

	// SessionIdleTTL is how long an untouched session survives before
	// the janitor reaps it.
	SessionIdleTTL time.Duration

	// SecureCookies marks session cookies Secure (disable for local dev).
	SecureCookies bool
}

// FlagsConfig holds feature flag settings
type FlagsConfig struct {
	// File is an optional JSON flags file watched for changes. When
	// empty the compiled-in defaults apply.
	File string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Flags:         loadFlagsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SAASKIT_HOST", "0.0.0.0"),
		Port:            getEnv("SAASKIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SAASKIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SAASKIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SAASKIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SAASKIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SAASKIT_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() postgres.ConnectionConfig {
	cfg := postgres.DefaultConnectionConfig(getEnv("SAASKIT_DATABASE_URL", ""))

	if maxConns := getEnvInt("SAASKIT_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("SAASKIT_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("SAASKIT_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if lifetime := getEnvDuration("SAASKIT_DATABASE_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.MaxLifetime = lifetime
	}

	return cfg
}

// loadRedisConfig loads redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("SAASKIT_REDIS_URL", ""),
		Password: getEnv("SAASKIT_REDIS_PASSWORD", ""),
		DB:       getEnvInt("SAASKIT_REDIS_DB", 0),
		PoolSize: getEnvInt("SAASKIT_REDIS_POOL_SIZE", 10),
	}
}

// loadAuthConfig loads auth configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		TokenSecret:    getEnv("SAASKIT_TOKEN_SECRET", ""),
		SessionIdleTTL: getEnvDuration("SAASKIT_SESSION_IDLE_TTL", 30*24*time.Hour),
		SecureCookies:  getEnvBool("SAASKIT_SECURE_COOKIES", true),
	}
}

// loadFlagsConfig loads feature flag configuration from environment
func loadFlagsConfig() FlagsConfig {
	return FlagsConfig{
		File: getEnv("SAASKIT_FLAGS_FILE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("SAASKIT_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("SAASKIT_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("token secret is required")
	}
	if len(c.Auth.TokenSecret) < 32 {
		return fmt.Errorf("token secret must be at least 32 bytes")
	}
	if c.Auth.SessionIdleTTL <= 0 {
		return fmt.Errorf("session idle TTL must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
