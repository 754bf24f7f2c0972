// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/authgrid/authgrid/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	LogLevel  observability.LogLevel
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PostgresConfig holds relational store configuration
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds shared cache configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds token and credential settings
type AuthConfig struct {
	JWTSecret      string
	Issuer         string
	AccessTokenTTL time.Duration
	RefreshTTLDays int
	APIKeyEnv      string // segment embedded in issued key strings, e.g. "live"
	Environment    string // "development" or "production"; controls cookie Secure
	CookiePath     string
}

// RateLimitConfig holds login brute-force protection settings
type RateLimitConfig struct {
	PerIPLimit       int
	PerIPWindow      time.Duration
	PerIdentityLimit int
	IdentityWindow   time.Duration
	BlockDuration    time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AUTHGRID_HOST", "0.0.0.0"),
			Port:            getEnv("AUTHGRID_PORT", "8080"),
			ReadTimeout:     getEnvDuration("AUTHGRID_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUTHGRID_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUTHGRID_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUTHGRID_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          getEnv("AUTHGRID_DATABASE_URL", "postgres://localhost:5432/authgrid?sslmode=disable"),
			MaxOpenConns: getEnvInt("AUTHGRID_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("AUTHGRID_DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("AUTHGRID_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("AUTHGRID_REDIS_PASSWORD", ""),
			DB:       getEnvInt("AUTHGRID_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("AUTHGRID_JWT_SECRET", ""),
			Issuer:         getEnv("AUTHGRID_JWT_ISSUER", "authgrid"),
			AccessTokenTTL: getEnvDuration("AUTHGRID_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTTLDays: getEnvInt("AUTHGRID_REFRESH_TTL_DAYS", 7),
			APIKeyEnv:      getEnv("AUTHGRID_API_KEY_ENV", "live"),
			Environment:    getEnv("AUTHGRID_ENV", "development"),
			CookiePath:     getEnv("AUTHGRID_COOKIE_PATH", "/api/v1/auth"),
		},
		RateLimit: RateLimitConfig{
			PerIPLimit:       getEnvInt("AUTHGRID_LOGIN_IP_LIMIT", 100),
			PerIPWindow:      getEnvDuration("AUTHGRID_LOGIN_IP_WINDOW", 24*time.Hour),
			PerIdentityLimit: getEnvInt("AUTHGRID_LOGIN_IDENTITY_LIMIT", 5),
			IdentityWindow:   getEnvDuration("AUTHGRID_LOGIN_IDENTITY_WINDOW", time.Hour),
			BlockDuration:    getEnvDuration("AUTHGRID_LOGIN_BLOCK_DURATION", 15*time.Minute),
		},
		LogLevel: observability.ParseLogLevel(getEnv("AUTHGRID_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTHGRID_JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTHGRID_JWT_SECRET must be at least 32 bytes")
	}
	if c.Auth.RefreshTTLDays <= 0 {
		return fmt.Errorf("AUTHGRID_REFRESH_TTL_DAYS must be positive")
	}
	if c.Auth.Environment != "development" && c.Auth.Environment != "production" {
		return fmt.Errorf("AUTHGRID_ENV must be development or production, got %q", c.Auth.Environment)
	}
	if c.RateLimit.PerIPLimit <= 0 || c.RateLimit.PerIdentityLimit <= 0 {
		return fmt.Errorf("rate limit caps must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Auth.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
