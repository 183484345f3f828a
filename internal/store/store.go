package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"

	"ttlkv/internal/metrics"
)

// Store implements the key-value operations with expiration semantics on
// top of a Backend.
//
// Design principles:
// - Liveness is derived on every access from Entry.IsExpired, using a
//   single clock sample per operation
// - Reads purge expired rows they touch (lazy expiration); Sweep purges
//   the rest in bulk (active expiration)
// - Atomicity is delegated to the Backend; Store holds no locks
type Store struct {
	backend Backend
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. Tests use it to move time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over backend. A nil registry gets a private one.
func New(backend Backend, metricsRegistry *metrics.Registry, opts ...Option) *Store {
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}
	s := &Store{
		backend: backend,
		metrics: metricsRegistry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the storage collaborator the store was built with.
func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// Set inserts or fully replaces the entry for key.
// A ttl <= 0 stores an entry that never expires.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	e := Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: deadline(s.nowMs(), ttl),
	}
	if err := s.backend.Save(ctx, e); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	s.metrics.Inc(metrics.StoreSetsTotal)
	return nil
}

// Get retrieves a live value.
//
// Behavior:
// - Returns ErrNotFound if the key is absent
// - If the key is expired, the stored row is deleted and ErrNotFound returned
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	s.metrics.Inc(metrics.StoreGetsTotal)

	now := s.nowMs()
	e, err := s.load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.Inc(metrics.StoreMissesTotal)
		}
		return "", err
	}

	if !e.IsExpired(now) {
		s.metrics.Inc(metrics.StoreHitsTotal)
		return e.Value, nil
	}

	if err := s.purgeExpired(ctx, key, now); err != nil {
		return "", err
	}
	s.metrics.Inc(metrics.StoreMissesTotal)
	return "", ErrNotFound
}

// purgeExpired deletes key only if the stored entry is still dead at now.
// A concurrent Set that landed after our Load survives.
func (s *Store) purgeExpired(ctx context.Context, key string, now int64) error {
	var purged bool
	err := s.backend.Update(ctx, key, func(current Entry, found bool) (Entry, Op) {
		purged = found && current.IsExpired(now)
		if purged {
			return current, OpDelete
		}
		return current, OpKeep
	})
	if err != nil {
		return fmt.Errorf("purge expired %q: %w", key, err)
	}

	if purged {
		s.metrics.Inc(metrics.StoreLazyExpiredTotal)
	}
	return nil
}

// Details returns key, value and remaining TTL of a live entry.
func (s *Store) Details(ctx context.Context, key string) (Details, error) {
	if err := validateKey(key); err != nil {
		return Details{}, err
	}

	now := s.nowMs()
	e, err := s.load(ctx, key)
	if err != nil {
		return Details{}, err
	}
	if e.IsExpired(now) {
		return Details{}, ErrNotFound
	}

	d, ok := details(e, now)
	if !ok {
		return Details{}, ErrNotFound
	}
	return d, nil
}

// Delete removes key whether it is live or expired but not yet swept.
// Deleting a key that is not physically present returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	removed, err := s.backend.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	if !removed {
		return ErrNotFound
	}

	s.metrics.Inc(metrics.StoreDeletesTotal)
	return nil
}

// Exists reports whether key is present and live. It never deletes.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	now := s.nowMs()
	e, err := s.load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.IsExpired(now), nil
}

// List returns a snapshot of every live entry in backend order.
// Expired entries are skipped, not deleted.
func (s *Store) List(ctx context.Context) ([]Details, error) {
	entries, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	now := s.nowMs()
	out := make([]Details, 0, len(entries))
	for _, e := range entries {
		if e.IsExpired(now) {
			continue
		}
		if d, ok := details(e, now); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Expire sets a new deadline of now+ttl on a live key, keeping its value.
// Absent or already expired keys return ErrNotFound and stay dead.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	now := s.nowMs()
	var updated bool
	err := s.backend.Update(ctx, key, func(current Entry, found bool) (Entry, Op) {
		updated = found && !current.IsExpired(now)
		if !updated {
			return current, OpKeep
		}
		current.ExpiresAt = deadline(now, ttl)
		return current, OpSave
	})
	if err != nil {
		return fmt.Errorf("expire %q: %w", key, err)
	}
	if !updated {
		return ErrNotFound
	}

	s.metrics.Inc(metrics.StoreExpiresTotal)
	return nil
}

// TTL returns the remaining whole seconds of a live key.
//
// Outcomes:
// - ErrNotFound when absent, expired, or less than one second remains
// - mo.None when the key never expires
// - mo.Some(seconds) otherwise
func (s *Store) TTL(ctx context.Context, key string) (mo.Option[int64], error) {
	if err := validateKey(key); err != nil {
		return mo.None[int64](), err
	}

	now := s.nowMs()
	e, err := s.load(ctx, key)
	if err != nil {
		return mo.None[int64](), err
	}
	if e.IsExpired(now) {
		return mo.None[int64](), ErrNotFound
	}
	if !e.HasExpiry() {
		return mo.None[int64](), nil
	}

	secs := e.remaining(now) / 1000
	if secs <= 0 {
		return mo.None[int64](), ErrNotFound
	}
	return mo.Some(secs), nil
}

// FlushAll removes every entry, live or expired.
func (s *Store) FlushAll(ctx context.Context) error {
	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("flush all: %w", err)
	}
	s.metrics.Inc(metrics.StoreFlushesTotal)
	return nil
}

// Sweep removes every expired entry in one bulk backend call and returns
// how many were removed. Used by the background reaper.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.backend.DeleteExpired(ctx, s.nowMs())
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return removed, nil
}

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Store) load(ctx context.Context, key string) (Entry, error) {
	e, err := s.backend.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load %q: %w", key, err)
	}
	return e, nil
}
