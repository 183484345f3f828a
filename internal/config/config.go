// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"TTLKV_ENV"`
	HTTPAddr string `mapstructure:"TTLKV_HTTP_ADDR"`

	Storage  StorageConfig  `mapstructure:",squash"`
	Expiry   ExpiryConfig   `mapstructure:",squash"`
	Ops      OpsConfig      `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"TTLKV_BACKEND"` // "memory", "bolt", "redis", "postgres"
	BoltPath        string `mapstructure:"TTLKV_BOLT_PATH"`
	BoltBucket      string `mapstructure:"TTLKV_BOLT_BUCKET"`
	RedisURL        string `mapstructure:"TTLKV_REDIS_URL"`
	RedisPrefix     string `mapstructure:"TTLKV_REDIS_PREFIX"`
	PostgresDSN     string `mapstructure:"TTLKV_POSTGRES_DSN"`
	PostgresMigrate bool   `mapstructure:"TTLKV_POSTGRES_MIGRATE"` // run migrations on startup
	ConnectRetries  int    `mapstructure:"TTLKV_CONNECT_RETRIES"`
}

type ExpiryConfig struct {
	SweepInterval time.Duration `mapstructure:"TTLKV_SWEEP_INTERVAL"`
}

type OpsConfig struct {
	ProbeInterval time.Duration `mapstructure:"TTLKV_PROBE_INTERVAL"`
	LogBuffer     int           `mapstructure:"TTLKV_LOG_BUFFER"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"TTLKV_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"TTLKV_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

// Load reads .env files and the environment, applies defaults and validates.
func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("TTLKV_ENV", "dev")
	v.SetDefault("TTLKV_HTTP_ADDR", ":8080")
	v.SetDefault("TTLKV_BACKEND", "memory")
	v.SetDefault("TTLKV_BOLT_PATH", filepath.Join("data", "ttlkv.bbolt"))
	v.SetDefault("TTLKV_BOLT_BUCKET", "entries")
	v.SetDefault("TTLKV_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("TTLKV_REDIS_PREFIX", "ttlkv")
	v.SetDefault("TTLKV_POSTGRES_DSN", "")
	v.SetDefault("TTLKV_POSTGRES_MIGRATE", true)
	v.SetDefault("TTLKV_CONNECT_RETRIES", 3)
	v.SetDefault("TTLKV_SWEEP_INTERVAL", "10s")
	v.SetDefault("TTLKV_PROBE_INTERVAL", "15s")
	v.SetDefault("TTLKV_LOG_BUFFER", 500)
	v.SetDefault("TTLKV_RATE_LIMIT_RPM", 600)
	v.SetDefault("TTLKV_CORS_ALLOWED_ORIGINS", "*")

	// Handle array parsing for comma-separated values
	if origins := v.GetString("TTLKV_CORS_ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		v.Set("TTLKV_CORS_ALLOWED_ORIGINS", parts)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Expiry.SweepInterval <= 0 {
		return fmt.Errorf("TTLKV_SWEEP_INTERVAL must be positive")
	}
	if c.Ops.ProbeInterval <= 0 {
		return fmt.Errorf("TTLKV_PROBE_INTERVAL must be positive")
	}
	if c.Ops.LogBuffer <= 0 {
		return fmt.Errorf("TTLKV_LOG_BUFFER must be positive")
	}
	if c.Storage.ConnectRetries < 0 {
		return fmt.Errorf("TTLKV_CONNECT_RETRIES must not be negative")
	}

	switch c.Storage.Backend {
	case "memory":
	case "bolt":
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("TTLKV_BOLT_PATH is required when backend is bolt")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("TTLKV_REDIS_URL is required when backend is redis")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("TTLKV_POSTGRES_DSN is required when backend is postgres")
		}
	default:
		return fmt.Errorf("TTLKV_BACKEND %q is not one of memory, bolt, redis, postgres", c.Storage.Backend)
	}
	return nil
}

// IsProd reports whether the process runs with production settings.
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
