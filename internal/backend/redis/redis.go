// Package redis stores entries in Redis.
//
// Layout under a configurable prefix:
//
//	<prefix>:entry:<key>  hash {value, expires_at}
//	<prefix>:keys         zset, every key with score 0 (lexicographic order)
//	<prefix>:expiry       zset, keys with a deadline scored by expires_at (ms)
//
// All writes touching one key go through MULTI so the three structures never
// disagree. Update uses WATCH on the entry hash for per-key optimistic locking.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ttlkv/internal/store"
)

const (
	fieldValue     = "value"
	fieldExpiresAt = "expires_at"

	// maxTxRetries bounds optimistic retries of Update under contention.
	maxTxRetries = 100
)

// ErrTxConflict is returned when Update keeps losing the WATCH race after
// maxTxRetries attempts.
var ErrTxConflict = errors.New("redis: too many concurrent updates")

// sweepScript removes every entry whose deadline is <= ARGV[1].
// KEYS[1] expiry zset, KEYS[2] key index, ARGV[2] entry key prefix.
var sweepScript = redis.NewScript(`
local dead = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, k in ipairs(dead) do
  redis.call('DEL', ARGV[2] .. k)
  redis.call('ZREM', KEYS[2], k)
end
if #dead > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #dead
`)

// flushScript removes every entry. KEYS[1] key index, KEYS[2] expiry zset,
// ARGV[1] entry key prefix.
var flushScript = redis.NewScript(`
local keys = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, k in ipairs(keys) do
  redis.call('DEL', ARGV[1] .. k)
end
redis.call('DEL', KEYS[1], KEYS[2])
return #keys
`)

// Backend is a Redis-backed implementation of store.Backend.
type Backend struct {
	client *redis.Client
	prefix string
}

var _ store.Backend = (*Backend)(nil)

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// redis.Nil means "key not found"
	if errors.Is(err, redis.Nil) {
		return false
	}

	// Context cancellation by caller is not a backend failure
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ETIMEDOUT:
			return true
		}
	}

	errStr := err.Error()
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"timeout",
		"connection closed",
		"client is closed",
		"EOF",
	}
	for _, connErr := range connectionErrors {
		if strings.Contains(errStr, connErr) {
			return true
		}
	}
	return false
}

// wrap marks connection errors with store.ErrUnavailable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// New connects to redisURL and verifies the connection with a PING.
func New(ctx context.Context, redisURL, prefix string) (*Backend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		// Fallback for simple address format
		u, parseErr := url.Parse("redis://" + redisURL)
		if parseErr != nil {
			return nil, err
		}

		db := 0
		if u.Path != "" && u.Path != "/" {
			if dbNum, dbErr := strconv.Atoi(u.Path[1:]); dbErr == nil {
				db = dbNum
			}
		}
		opt = &redis.Options{Addr: u.Host, DB: db}
		if u.User != nil {
			if password, ok := u.User.Password(); ok {
				opt.Password = password
			}
		}
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, wrap(fmt.Errorf("redis: ping %s: %w", opt.Addr, err))
	}

	return NewFromClient(client, prefix), nil
}

// NewFromClient wraps an existing client. The backend owns it from now on.
func NewFromClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = "ttlkv"
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) entryPrefix() string { return b.prefix + ":entry:" }

func (b *Backend) entryKey(k string) string { return b.entryPrefix() + k }

func (b *Backend) indexKey() string { return b.prefix + ":keys" }

func (b *Backend) expiryKey() string { return b.prefix + ":expiry" }

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (b *Backend) read(ctx context.Context, r hashReader, key string) (store.Entry, bool, error) {
	fields, err := r.HGetAll(ctx, b.entryKey(key)).Result()
	if err != nil {
		return store.Entry{}, false, err
	}
	if len(fields) == 0 {
		return store.Entry{}, false, nil
	}
	e, err := decode(key, fields)
	return e, err == nil, err
}

func decode(key string, fields map[string]string) (store.Entry, error) {
	e := store.Entry{Key: key, Value: fields[fieldValue]}
	if raw := fields[fieldExpiresAt]; raw != "" {
		exp, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return store.Entry{}, fmt.Errorf("redis: bad expires_at for %q: %w", key, err)
		}
		e.ExpiresAt = exp
	}
	return e, nil
}

func (b *Backend) write(ctx context.Context, pipe redis.Pipeliner, e store.Entry) {
	pipe.HSet(ctx, b.entryKey(e.Key), fieldValue, e.Value, fieldExpiresAt, e.ExpiresAt)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: 0, Member: e.Key})
	if e.HasExpiry() {
		pipe.ZAdd(ctx, b.expiryKey(), redis.Z{Score: float64(e.ExpiresAt), Member: e.Key})
	} else {
		pipe.ZRem(ctx, b.expiryKey(), e.Key)
	}
}

func (b *Backend) remove(ctx context.Context, pipe redis.Pipeliner, key string) *redis.IntCmd {
	del := pipe.Del(ctx, b.entryKey(key))
	pipe.ZRem(ctx, b.indexKey(), key)
	pipe.ZRem(ctx, b.expiryKey(), key)
	return del
}

func (b *Backend) Load(ctx context.Context, key string) (store.Entry, error) {
	e, found, err := b.read(ctx, b.client, key)
	if err != nil {
		return store.Entry{}, wrap(err)
	}
	if !found {
		return store.Entry{}, store.ErrNotFound
	}
	return e, nil
}

func (b *Backend) Save(ctx context.Context, e store.Entry) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.write(ctx, pipe, e)
		return nil
	})
	return wrap(err)
}

func (b *Backend) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		current, found, err := b.read(ctx, tx, key)
		if err != nil {
			return err
		}

		next, op := fn(current, found)
		switch op {
		case store.OpSave:
			next.Key = key
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				b.write(ctx, pipe, next)
				return nil
			})
		case store.OpDelete:
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				b.remove(ctx, pipe, key)
				return nil
			})
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := b.client.Watch(ctx, txf, b.entryKey(key))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap(err)
	}
	return fmt.Errorf("%w: key %q", ErrTxConflict, key)
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	var del *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = b.remove(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return false, wrap(err)
	}
	return del.Val() > 0, nil
}

func (b *Backend) DeleteAll(ctx context.Context) error {
	err := flushScript.Run(ctx, b.client,
		[]string{b.indexKey(), b.expiryKey()},
		b.entryPrefix(),
	).Err()
	return wrap(err)
}

func (b *Backend) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	n, err := sweepScript.Run(ctx, b.client,
		[]string{b.expiryKey(), b.indexKey()},
		nowMs, b.entryPrefix(),
	).Int64()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// List reads the key index in lexicographic order, then every hash in one
// pipeline. Keys deleted in between are skipped.
func (b *Backend) List(ctx context.Context) ([]store.Entry, error) {
	keys, err := b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, b.entryKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	out := make([]store.Entry, 0, len(keys))
	for i, k := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		e, err := decode(k, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return wrap(b.client.Ping(ctx).Err())
}

func (b *Backend) Close() error {
	return b.client.Close()
}
