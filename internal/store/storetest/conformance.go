// Package storetest provides conformance tests for store.Backend implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttlkv/internal/store"
)

// BackendFactory creates a fresh, empty Backend for one subtest.
type BackendFactory func(t *testing.T) store.Backend

// base is an arbitrary "now" used by every case. Backends never read a
// clock themselves, so fixed millisecond instants are enough.
const base int64 = 1_700_000_000_000

// Run runs every conformance case against the backend built by factory.
func Run(t *testing.T, factory BackendFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, b store.Backend)
	}{
		{"SaveLoad", testSaveLoad},
		{"LoadMissing", testLoadMissing},
		{"SaveReplaces", testSaveReplaces},
		{"LoadReturnsExpiredRows", testLoadReturnsExpiredRows},
		{"Delete", testDelete},
		{"DeleteAll", testDeleteAll},
		{"DeleteExpired", testDeleteExpired},
		{"DeleteExpiredBoundary", testDeleteExpiredBoundary},
		{"ListKeyOrder", testListKeyOrder},
		{"UpdateSave", testUpdateSave},
		{"UpdateInsert", testUpdateInsert},
		{"UpdateDelete", testUpdateDelete},
		{"UpdateKeep", testUpdateKeep},
		{"ConcurrentUpdates", testConcurrentUpdates},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := factory(t)
			defer b.Close()
			tt.test(t, b)
		})
	}
}

func testSaveLoad(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "hello world", ExpiresAt: base + 5000}))

	e, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, store.Entry{Key: "k", Value: "hello world", ExpiresAt: base + 5000}, e)

	require.NoError(t, b.Save(ctx, store.Entry{Key: "empty", Value: ""}))
	e, err = b.Load(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "", e.Value)
	assert.False(t, e.HasExpiry())
}

func testLoadMissing(t *testing.T, b store.Backend) {
	_, err := b.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSaveReplaces(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "old", ExpiresAt: base + 1000}))
	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "new"}))

	e, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", e.Value)
	assert.Zero(t, e.ExpiresAt, "save must replace the expiry too")
}

func testLoadReturnsExpiredRows(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "v", ExpiresAt: 1}))

	e, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ExpiresAt)
}

func testDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()

	removed, err := b.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "v"}))

	removed, err = b.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = b.Load(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteAll(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.DeleteAll(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Save(ctx, store.Entry{Key: fmt.Sprintf("k%d", i), Value: "v", ExpiresAt: int64(i)}))
	}
	require.NoError(t, b.DeleteAll(ctx))

	entries, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testDeleteExpired(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "a", Value: "1", ExpiresAt: base - 1000}))
	require.NoError(t, b.Save(ctx, store.Entry{Key: "b", Value: "2", ExpiresAt: base - 1}))
	require.NoError(t, b.Save(ctx, store.Entry{Key: "c", Value: "3", ExpiresAt: base + 1000}))
	require.NoError(t, b.Save(ctx, store.Entry{Key: "d", Value: "4"}))

	removed, err := b.DeleteExpired(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = b.DeleteExpired(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed, "second sweep is a no-op")

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Key)
	assert.Equal(t, "d", entries[1].Key)
}

func testDeleteExpiredBoundary(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "edge", Value: "v", ExpiresAt: base}))

	removed, err := b.DeleteExpired(ctx, base-1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	removed, err = b.DeleteExpired(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "expiry equal to now is dead")
}

func testListKeyOrder(t *testing.T, b store.Backend) {
	ctx := context.Background()

	for _, k := range []string{"charlie", "alpha", "delta", "bravo"} {
		require.NoError(t, b.Save(ctx, store.Entry{Key: k, Value: k}))
	}

	entries, err := b.List(ctx)
	require.NoError(t, err)

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
		assert.Equal(t, e.Key, e.Value)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, keys)
}

func testUpdateSave(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "v"}))

	err := b.Update(ctx, "k", func(current store.Entry, found bool) (store.Entry, store.Op) {
		assert.True(t, found)
		assert.Equal(t, "v", current.Value)
		current.ExpiresAt = base + 10_000
		return current, store.OpSave
	})
	require.NoError(t, err)

	e, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", e.Value)
	assert.Equal(t, base+10_000, e.ExpiresAt)
}

func testUpdateInsert(t *testing.T, b store.Backend) {
	ctx := context.Background()

	err := b.Update(ctx, "new", func(_ store.Entry, found bool) (store.Entry, store.Op) {
		assert.False(t, found)
		return store.Entry{Value: "created"}, store.OpSave
	})
	require.NoError(t, err)

	e, err := b.Load(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", e.Key, "update keys the entry by the requested key")
	assert.Equal(t, "created", e.Value)
}

func testUpdateDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "v", ExpiresAt: 1}))

	err := b.Update(ctx, "k", func(current store.Entry, found bool) (store.Entry, store.Op) {
		return current, store.OpDelete
	})
	require.NoError(t, err)

	_, err = b.Load(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting an absent key through Update is not an error.
	err = b.Update(ctx, "k", func(current store.Entry, found bool) (store.Entry, store.Op) {
		return current, store.OpDelete
	})
	assert.NoError(t, err)
}

func testUpdateKeep(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "k", Value: "v", ExpiresAt: base}))

	err := b.Update(ctx, "k", func(current store.Entry, found bool) (store.Entry, store.Op) {
		return store.Entry{Key: "k", Value: "ignored"}, store.OpKeep
	})
	require.NoError(t, err)

	e, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", e.Value)
	assert.Equal(t, base, e.ExpiresAt)

	err = b.Update(ctx, "absent", func(current store.Entry, found bool) (store.Entry, store.Op) {
		return current, store.OpKeep
	})
	require.NoError(t, err)
	_, err = b.Load(ctx, "absent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// testConcurrentUpdates checks Update is atomic per key: every
// read-modify-write increment must survive.
func testConcurrentUpdates(t *testing.T, b store.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, store.Entry{Key: "counter", Value: "0"}))

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := b.Update(ctx, "counter", func(current store.Entry, found bool) (store.Entry, store.Op) {
					var n int
					_, _ = fmt.Sscanf(current.Value, "%d", &n)
					current.Value = fmt.Sprintf("%d", n+1)
					return current, store.OpSave
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	e, err := b.Load(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", workers*perWorker), e.Value)
}

func testPing(t *testing.T, b store.Backend) {
	assert.NoError(t, b.Ping(context.Background()))
}
