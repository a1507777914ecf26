// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Document store drivers.
const (
	DocStoreMemory   = "memory"
	DocStoreRedis    = "redis"
	DocStorePostgres = "postgres"
	DocStoreMongo    = "mongo"
)

// Identity provider drivers.
const (
	IdentityMemory = "memory"
	IdentityREST   = "rest"
)

// Settings store drivers.
const (
	SettingsSQLite = "sqlite"
	SettingsMemory = "memory"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Document store
	DocStoreDriver string `env:"DOCSTORE_DRIVER" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"`
	MongoURI       string `env:"MONGO_URI"`
	MongoDatabase  string `env:"MONGO_DATABASE" envDefault:"shots"`

	// Identity provider
	IdentityDriver     string `env:"IDENTITY_DRIVER" envDefault:"memory"`
	IdentityAPIKey     string `env:"IDENTITY_API_KEY"`
	IdentityBaseURL    string `env:"IDENTITY_BASE_URL"`
	IdentityTokenURL   string `env:"IDENTITY_TOKEN_URL"`
	IdentityProviderID string `env:"IDENTITY_PROVIDER_ID" envDefault:"apple.com"`
	IdentityRequestURI string `env:"IDENTITY_REQUEST_URI"`

	// Local settings (onboarding flag, persisted session)
	SettingsDriver string `env:"SETTINGS_DRIVER" envDefault:"sqlite"`
	SettingsPath   string `env:"SETTINGS_PATH" envDefault:"shots-settings.db"`
	// Seals the persisted session when set
	SessionVaultSecret string `env:"SESSION_VAULT_SECRET"`

	// Retry policy for provider and document store calls
	RetryAttempts       int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay          time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	AnonymousRetryDelay time.Duration `env:"ANONYMOUS_RETRY_DELAY" envDefault:"1s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting on /v1/auth/*
	RateLimitAuthEnabled bool    `env:"RATE_LIMIT_AUTH_ENABLED" envDefault:"true"`
	RateLimitAuthRPS     float64 `env:"RATE_LIMIT_AUTH_RPS" envDefault:"5"`
	RateLimitAuthBurst   int     `env:"RATE_LIMIT_AUTH_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks that each selected driver has what it needs.
func (c *Config) Validate() error {
	switch c.DocStoreDriver {
	case DocStoreMemory:
	case DocStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s document store", c.DocStoreDriver)
		}
	case DocStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s document store", c.DocStoreDriver)
		}
	case DocStoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the %s document store", c.DocStoreDriver)
		}
	default:
		return fmt.Errorf("unknown DOCSTORE_DRIVER %q", c.DocStoreDriver)
	}

	switch c.IdentityDriver {
	case IdentityMemory:
	case IdentityREST:
		if c.IdentityAPIKey == "" {
			return fmt.Errorf("IDENTITY_API_KEY is required for the %s identity provider", c.IdentityDriver)
		}
	default:
		return fmt.Errorf("unknown IDENTITY_DRIVER %q", c.IdentityDriver)
	}

	switch c.SettingsDriver {
	case SettingsMemory:
	case SettingsSQLite:
		if c.SettingsPath == "" {
			return fmt.Errorf("SETTINGS_PATH is required for the %s settings store", c.SettingsDriver)
		}
	default:
		return fmt.Errorf("unknown SETTINGS_DRIVER %q", c.SettingsDriver)
	}

	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
