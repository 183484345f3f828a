package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttlkv/internal/backend/boltdb"
	"ttlkv/internal/backend/redis"
	"ttlkv/internal/logs"
	"ttlkv/internal/store"
)

func testLogger() *logs.Buffer {
	return logs.NewBuffer(20, logs.DEBUG)
}

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), Config{Kind: KindMemory}, fastPolicy(0), logs.NewBufferedNop(testLogger()))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &store.Memory{}, b)
}

func TestOpen_Bolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ttlkv.bbolt")

	b, err := Open(context.Background(), Config{Kind: KindBolt, BoltPath: path}, fastPolicy(0), logs.NewBufferedNop(testLogger()))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &boltdb.Backend{}, b)
	assert.NoError(t, b.Ping(context.Background()))
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := Open(context.Background(), Config{Kind: KindRedis, RedisURL: "redis://" + mr.Addr() + "/0"}, fastPolicy(0), logs.NewBufferedNop(testLogger()))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &redis.Backend{}, b)
}

func TestOpen_MissingSettingsAreNotRetried(t *testing.T) {
	tests := []Config{
		{Kind: KindBolt},
		{Kind: KindRedis},
		{Kind: KindPostgres},
	}

	for _, cfg := range tests {
		t.Run(string(cfg.Kind), func(t *testing.T) {
			buf := testLogger()
			_, err := Open(context.Background(), cfg, fastPolicy(5), logs.NewBufferedNop(buf))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "required")
			assert.Equal(t, 1, buf.Len(), "exactly one failed attempt is logged")
		})
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: "etcd"}, fastPolicy(0), logs.NewBufferedNop(testLogger()))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpen_RetriesTransientFailures(t *testing.T) {
	const kind Kind = "flaky"
	calls := 0
	Register(kind, func(context.Context, Config) (store.Backend, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return store.NewMemory(), nil
	})

	buf := testLogger()
	b, err := Open(context.Background(), Config{Kind: kind}, fastPolicy(5), logs.NewBufferedNop(buf))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 3, calls)

	entries := buf.GetLast(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "backend connect failed", entries[0].Message)
	assert.Equal(t, "backend ready", entries[2].Message)
}

func TestOpen_GivesUp(t *testing.T) {
	const kind Kind = "dead"
	Register(kind, func(context.Context, Config) (store.Backend, error) {
		return nil, errors.New("connection refused")
	})

	policy := fastPolicy(1)
	policy.BaseBackoff = time.Millisecond

	_, err := Open(context.Background(), Config{Kind: kind}, policy, logs.NewBufferedNop(testLogger()))
	assert.ErrorContains(t, err, "connection refused")
}
