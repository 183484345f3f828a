// Package backend selects, connects and watches the storage backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"ttlkv/internal/backend/boltdb"
	"ttlkv/internal/backend/postgres"
	"ttlkv/internal/backend/redis"
	"ttlkv/internal/store"
)

// Kind names a storage backend.
type Kind string

const (
	// KindMemory keeps entries in process memory
	KindMemory Kind = "memory"
	// KindBolt persists entries in a local bbolt file
	KindBolt Kind = "bolt"
	// KindRedis uses Redis as the backend
	KindRedis Kind = "redis"
	// KindPostgres uses a PostgreSQL table
	KindPostgres Kind = "postgres"
)

var ErrUnknownBackend = errors.New("backend: unknown kind")

// Config holds configuration for opening a Backend.
type Config struct {
	Kind Kind

	// BoltPath is the database file (required when Kind is "bolt").
	BoltPath   string
	BoltBucket string

	// RedisURL is the connection string for Redis (required when Kind is "redis").
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	RedisURL    string
	RedisPrefix string

	// PostgresDSN is required when Kind is "postgres".
	PostgresDSN string
	// MigrateOnStart applies pending migrations after connecting.
	MigrateOnStart bool
}

// Opener creates a Backend from cfg.
type Opener func(ctx context.Context, cfg Config) (store.Backend, error)

var (
	openersMu sync.RWMutex
	openers   = map[Kind]Opener{
		KindMemory:   openMemory,
		KindBolt:     openBolt,
		KindRedis:    openRedis,
		KindPostgres: openPostgres,
	}
)

// Register adds or replaces the opener for kind.
func Register(kind Kind, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[kind] = opener
}

// Open connects to the configured backend, retrying per policy. Config
// mistakes fail on the first attempt.
func Open(ctx context.Context, cfg Config, policy RetryPolicy, logger *zap.SugaredLogger) (store.Backend, error) {
	openersMu.RLock()
	opener, ok := openers[cfg.Kind]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Kind)
	}

	var b store.Backend
	err := Retry(ctx, policy, func(attempt int) error {
		var err error
		b, err = opener(ctx, cfg)
		if err != nil {
			logger.Warnw("backend connect failed",
				"backend", cfg.Kind,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Kind, err)
	}

	logger.Infow("backend ready", "backend", cfg.Kind)
	return b, nil
}

func openMemory(context.Context, Config) (store.Backend, error) {
	return store.NewMemory(), nil
}

func openBolt(_ context.Context, cfg Config) (store.Backend, error) {
	if cfg.BoltPath == "" {
		return nil, Permanent(errors.New("bolt path is required when backend is 'bolt'"))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
		return nil, Permanent(err)
	}
	return boltdb.Open(cfg.BoltPath, boltdb.Options{Bucket: cfg.BoltBucket})
}

func openRedis(ctx context.Context, cfg Config) (store.Backend, error) {
	if cfg.RedisURL == "" {
		return nil, Permanent(errors.New("redis URL is required when backend is 'redis'"))
	}
	return redis.New(ctx, cfg.RedisURL, cfg.RedisPrefix)
}

func openPostgres(ctx context.Context, cfg Config) (store.Backend, error) {
	if cfg.PostgresDSN == "" {
		return nil, Permanent(errors.New("postgres DSN is required when backend is 'postgres'"))
	}
	b, err := postgres.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := b.Migrate(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return b, nil
}
