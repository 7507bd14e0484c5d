// Package config loads sitekit configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/teemow/sitekit/internal/instrumentation"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config holds all configuration for the sitekit service.
type Config struct {
	LogLevel  string `env:"SITEKIT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SITEKIT_LOG_FORMAT" envDefault:"json"`

	// HTTP server
	HTTPAddr  string `env:"SITEKIT_HTTP_ADDR" envDefault:":8080"`
	APIPrefix string `env:"SITEKIT_API_PREFIX" envDefault:"/sitekit/v1"`

	// Metrics server
	MetricsAddr    string `env:"SITEKIT_METRICS_ADDR" envDefault:":9090"`
	MetricsEnabled bool   `env:"SITEKIT_METRICS_ENABLED" envDefault:"true"`

	// Google OAuth client
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL        string `env:"SITEKIT_REDIRECT_URL" envDefault:"http://localhost:8080/sitekit/v1/auth/callback"`

	// StateSecret signs the OAuth state parameter.
	StateSecret string `env:"SITEKIT_STATE_SECRET"`

	// EncryptionKey is a base64 encoded AES-256 key for credentials at rest.
	// Empty disables encryption.
	EncryptionKey string `env:"SITEKIT_ENCRYPTION_KEY"`

	// Upstream behaviour
	TokenTimeout time.Duration `env:"SITEKIT_TOKEN_TIMEOUT" envDefault:"10s"`
	RefreshSkew  time.Duration `env:"SITEKIT_REFRESH_SKEW" envDefault:"5m"`
	AuthRateRPS  float64       `env:"SITEKIT_AUTH_RATE_RPS" envDefault:"5"`
	AuthBurst    int           `env:"SITEKIT_AUTH_RATE_BURST" envDefault:"10"`

	// DataCacheTTL bounds how long module data responses are reused per
	// owner. Zero disables the cache.
	DataCacheTTL time.Duration `env:"SITEKIT_DATA_CACHE_TTL" envDefault:"1h"`

	// AdminUsers may manage options. Every authenticated caller may view.
	AdminUsers []string `env:"SITEKIT_ADMIN_USERS" envSeparator:","`

	// MCPOwner is the caller for MCP sessions whose transport carries no
	// identity, such as stdio.
	MCPOwner string `env:"SITEKIT_MCP_OWNER"`

	// Storage
	StorageType string `env:"SITEKIT_STORAGE" envDefault:"memory"`
	Redis       RedisConfig
	PostgresDSN string `env:"POSTGRES_DSN"`

	Telemetry instrumentation.Config
}

// RedisConfig configures the redis option store.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"sitekit:"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.StorageType {
	case StorageMemory, StorageRedis:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage %q, must be one of: memory, redis, postgres", c.StorageType)
	}

	if c.TokenTimeout <= 0 {
		return fmt.Errorf("token timeout must be positive, got %s", c.TokenTimeout)
	}
	if c.RefreshSkew < 0 {
		return fmt.Errorf("refresh skew must not be negative, got %s", c.RefreshSkew)
	}
	if c.DataCacheTTL < 0 {
		return fmt.Errorf("data cache ttl must not be negative, got %s", c.DataCacheTTL)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api prefix must start with '/', got %q", c.APIPrefix)
	}
	if c.EncryptionKey != "" {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			return err
		}
	}

	return c.Telemetry.Validate()
}

// EncryptionKeyBytes decodes EncryptionKey. It returns nil when no key is set.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// ClientConfigured reports whether Google OAuth client credentials are present.
func (c *Config) ClientConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}
