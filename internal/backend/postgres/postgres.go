// Package postgres stores entries in a PostgreSQL table through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"ttlkv/internal/store"
)

const (
	qLoad = `SELECT value, expires_at FROM kv_entries WHERE key = $1`

	qLoadForUpdate = qLoad + ` FOR UPDATE`

	qUpsert = `INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	qDelete = `DELETE FROM kv_entries WHERE key = $1`

	qDeleteAll = `DELETE FROM kv_entries`

	qDeleteExpired = `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`

	// COLLATE "C" gives byte order, matching the other backends.
	qList = `SELECT key, value, expires_at FROM kv_entries ORDER BY key COLLATE "C"`
)

// Backend is a PostgreSQL-backed implementation of store.Backend.
type Backend struct {
	pool *pgxpool.Pool
}

var _ store.Backend = (*Backend)(nil)

type row struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	ExpiresAt *int64 `db:"expires_at"`
}

func (r row) entry() store.Entry {
	return store.Entry{Key: r.Key, Value: r.Value, ExpiresAt: fromNullable(r.ExpiresAt)}
}

// toNullable maps "no expiration" to SQL NULL.
func toNullable(expiresAt int64) *int64 {
	if expiresAt <= 0 {
		return nil
	}
	return &expiresAt
}

func fromNullable(expiresAt *int64) int64 {
	if expiresAt == nil {
		return 0
	}
	return *expiresAt
}

// wrap marks connection failures with store.ErrUnavailable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// New opens a pool for dsn and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap(fmt.Errorf("postgres: ping: %w", err))
	}
	return NewFromPool(pool), nil
}

// NewFromPool wraps an existing pool. The backend owns it from now on.
func NewFromPool(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Migrate applies every pending migration through the pool.
func (b *Backend) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(b.pool)
	defer db.Close()
	return Migrate(ctx, db, "up")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func load(ctx context.Context, q querier, query, key string) (store.Entry, bool, error) {
	var r row
	err := q.QueryRow(ctx, query, key).Scan(&r.Value, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, err
	}
	r.Key = key
	return r.entry(), true, nil
}

func (b *Backend) Load(ctx context.Context, key string) (store.Entry, error) {
	e, found, err := load(ctx, b.pool, qLoad, key)
	if err != nil {
		return store.Entry{}, wrap(err)
	}
	if !found {
		return store.Entry{}, store.ErrNotFound
	}
	return e, nil
}

func (b *Backend) Save(ctx context.Context, e store.Entry) error {
	_, err := b.pool.Exec(ctx, qUpsert, e.Key, e.Value, toNullable(e.ExpiresAt))
	return wrap(err)
}

// Update locks the row with SELECT ... FOR UPDATE for the lifetime of the
// transaction, so concurrent updates of one key run one after another.
func (b *Backend) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		current, found, err := load(ctx, tx, qLoadForUpdate, key)
		if err != nil {
			return err
		}

		next, op := fn(current, found)
		switch op {
		case store.OpSave:
			_, err = tx.Exec(ctx, qUpsert, key, next.Value, toNullable(next.ExpiresAt))
		case store.OpDelete:
			_, err = tx.Exec(ctx, qDelete, key)
		}
		return err
	})
	return wrap(err)
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := b.pool.Exec(ctx, qDelete, key)
	if err != nil {
		return false, wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (b *Backend) DeleteAll(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, qDeleteAll)
	return wrap(err)
}

func (b *Backend) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	tag, err := b.pool.Exec(ctx, qDeleteExpired, nowMs)
	if err != nil {
		return 0, wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (b *Backend) List(ctx context.Context) ([]store.Entry, error) {
	rows, err := b.pool.Query(ctx, qList)
	if err != nil {
		return nil, wrap(err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[row])
	if err != nil {
		return nil, wrap(err)
	}

	out := make([]store.Entry, 0, len(collected))
	for _, r := range collected {
		out = append(out, r.entry())
	}
	return out, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return wrap(b.pool.Ping(ctx))
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
