package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ttlkv/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *Memory, *fakeClock, *metrics.Registry) {
	t.Helper()
	clock := newFakeClock()
	mem := NewMemory()
	reg := metrics.NewRegistry()
	return New(mem, reg, WithClock(clock.Now)), mem, clock, reg
}

/* ---------------- set / get ---------------- */

func TestStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s, _, _, reg := newTestStore(t)

	t.Run("set and get existing key", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "key1", "hello", 0))

		val, err := s.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, "hello", val)
	})

	t.Run("get non-existing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty value is distinguishable from absent", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "empty", "", 0))

		val, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Equal(t, "", val)
	})

	snap := reg.Snapshot()
	assert.Equal(t, int64(2), snap[string(metrics.StoreSetsTotal)])
	assert.Equal(t, int64(3), snap[string(metrics.StoreGetsTotal)])
	assert.Equal(t, int64(2), snap[string(metrics.StoreHitsTotal)])
	assert.Equal(t, int64(1), snap[string(metrics.StoreMissesTotal)])
}

func TestStoreSet_ReplacesValueAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "old", 5*time.Second))
	require.NoError(t, s.Set(ctx, "k", "new", 0))

	clock.Advance(10 * time.Second)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", val)

	e, err := mem.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, e.HasExpiry(), "set must not merge the previous expiry")
}

func TestStoreSet_NonPositiveTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "zero", "v", 0))
	require.NoError(t, s.Set(ctx, "negative", "v", -3*time.Second))

	clock.Advance(24 * time.Hour)

	for _, key := range []string{"zero", "negative"} {
		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestStore_BlankKeyRejected(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestStore(t)

	for _, key := range []string{"", "   ", "\t"} {
		assert.ErrorIs(t, s.Set(ctx, key, "v", 0), ErrInvalidKey)

		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrValidation)

		assert.ErrorIs(t, s.Delete(ctx, key), ErrInvalidKey)
		assert.ErrorIs(t, s.Expire(ctx, key, time.Second), ErrInvalidKey)
	}
}

/* ---------------- lazy expiration ---------------- */

func TestStoreGet_ExpiredKeyIsPurged(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, reg := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	clock.Advance(time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mem.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "the read itself must purge the stale row")
	assert.Equal(t, int64(1), reg.Snapshot()[string(metrics.StoreLazyExpiredTotal)])
}

func TestStoreExists_DoesNotPurge(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	clock.Advance(2 * time.Second)

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, mem.Len())
}

// racingBackend saves a fresh live row for the key right after the first
// Load returns, as a concurrent Set would.
type racingBackend struct {
	Backend
	once sync.Once
}

func (b *racingBackend) Load(ctx context.Context, key string) (Entry, error) {
	e, err := b.Backend.Load(ctx, key)
	b.once.Do(func() {
		_ = b.Backend.Save(ctx, Entry{Key: key, Value: "fresh"})
	})
	return e, err
}

func TestStoreGet_PurgeKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := NewMemory()
	reg := metrics.NewRegistry()
	s := New(&racingBackend{Backend: mem}, reg, WithClock(clock.Now))

	require.NoError(t, mem.Save(ctx, Entry{Key: "k", Value: "stale", ExpiresAt: clock.Now().UnixMilli()}))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	e, err := mem.Load(ctx, "k")
	require.NoError(t, err, "the live row written after the read must survive")
	assert.Equal(t, "fresh", e.Value)
	assert.False(t, e.HasExpiry())
	assert.Equal(t, int64(0), reg.Snapshot()[string(metrics.StoreLazyExpiredTotal)])

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", val)
}

func TestStoreSet_SubMillisecondTTLIsLive(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Microsecond))

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := mem.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli()+1, e.ExpiresAt)

	clock.Advance(time.Millisecond)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLFromSeconds(t *testing.T) {
	d, err := TTLFromSeconds(0)
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = TTLFromSeconds(90)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = TTLFromSeconds(MaxTTLSeconds)
	require.NoError(t, err)
	assert.Positive(t, d)

	_, err = TTLFromSeconds(MaxTTLSeconds + 1)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = TTLFromSeconds(-1)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestStoreSet_MaxTTLOutlivesClock(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	ttl, err := TTLFromSeconds(MaxTTLSeconds)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "long", "v", ttl))

	clock.Advance(time.Hour)
	val, err := s.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestStore_ExpirationMonotonicity(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", 3*time.Second))

	clock.Advance(3*time.Second - time.Millisecond)
	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "live until the deadline")

	clock.Advance(time.Millisecond)
	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "dead at the deadline")

	clock.Advance(time.Hour)
	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

/* ---------------- details / ttl ---------------- */

func TestStoreDetails(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "ttl", "a", 10*time.Second))
	require.NoError(t, s.Set(ctx, "forever", "b", 0))

	t.Run("remaining seconds use floor", func(t *testing.T) {
		clock.Advance(1500 * time.Millisecond)

		d, err := s.Details(ctx, "ttl")
		require.NoError(t, err)
		assert.Equal(t, "ttl", d.Key)
		assert.Equal(t, "a", d.Value)
		assert.Equal(t, int64(8), d.TTL.MustGet())
		assert.False(t, d.NoExpiration())
	})

	t.Run("no expiration marker", func(t *testing.T) {
		d, err := s.Details(ctx, "forever")
		require.NoError(t, err)
		assert.True(t, d.NoExpiration())
	})

	t.Run("expired is not found", func(t *testing.T) {
		clock.Advance(time.Minute)
		_, err := s.Details(ctx, "ttl")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("absent is not found", func(t *testing.T) {
		_, err := s.Details(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	t.Run("remaining seconds", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "v", 10*time.Second))
		clock.Advance(2500 * time.Millisecond)

		ttl, err := s.TTL(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(7), ttl.MustGet())
	})

	t.Run("no expiration persists over time", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "p", "v", 0))

		ttl, err := s.TTL(ctx, "p")
		require.NoError(t, err)
		assert.True(t, ttl.IsAbsent())

		clock.Advance(48 * time.Hour)

		ttl, err = s.TTL(ctx, "p")
		require.NoError(t, err)
		assert.True(t, ttl.IsAbsent())
	})

	t.Run("less than one second left collapses to not found", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "short", "v", time.Second))
		clock.Advance(400 * time.Millisecond)

		_, err := s.TTL(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err := s.Exists(ctx, "short")
		require.NoError(t, err)
		assert.True(t, ok, "the key itself is still live")
	})

	t.Run("absent", func(t *testing.T) {
		_, err := s.TTL(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

/* ---------------- delete / expire / flush ---------------- */

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	t.Run("never set key is not found", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
	})

	t.Run("live key", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "v", 0))
		require.NoError(t, s.Delete(ctx, "k"))

		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired but unswept key", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "stale", "v", time.Second))
		clock.Advance(5 * time.Second)

		require.NoError(t, s.Delete(ctx, "stale"))
		assert.Equal(t, 0, mem.Len())
	})
}

func TestStoreExpire(t *testing.T) {
	ctx := context.Background()
	s, _, clock, reg := newTestStore(t)

	t.Run("sets a new deadline and keeps the value", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "v", 0))
		require.NoError(t, s.Expire(ctx, "k", 10*time.Second))

		ttl, err := s.TTL(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(10), ttl.MustGet())

		val, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", val)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		assert.ErrorIs(t, s.Expire(ctx, "k", 0), ErrInvalidTTL)
		assert.ErrorIs(t, s.Expire(ctx, "k", -time.Second), ErrValidation)
	})

	t.Run("rejects dead key without resurrecting it", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "dead", "v", time.Second))
		clock.Advance(2 * time.Second)

		assert.ErrorIs(t, s.Expire(ctx, "dead", 10*time.Second), ErrNotFound)

		ok, err := s.Exists(ctx, "dead")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects absent key", func(t *testing.T) {
		assert.ErrorIs(t, s.Expire(ctx, "missing", 10*time.Second), ErrNotFound)
	})

	assert.Equal(t, int64(1), reg.Snapshot()[string(metrics.StoreExpiresTotal)])
}

func TestStoreFlushAll(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", time.Second))
	clock.Advance(2 * time.Second)

	require.NoError(t, s.FlushAll(ctx))
	assert.Equal(t, 0, mem.Len())

	require.NoError(t, s.FlushAll(ctx), "flushing an empty store succeeds")
}

/* ---------------- list ---------------- */

func TestStoreList_ExcludesExpired(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", "1", time.Second))
	require.NoError(t, s.Set(ctx, "b", "2", 0))
	require.NoError(t, s.Set(ctx, "c", "3", time.Minute))
	clock.Advance(2 * time.Second)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "b", list[0].Key)
	assert.True(t, list[0].NoExpiration())
	assert.Equal(t, "c", list[1].Key)
	assert.Equal(t, int64(58), list[1].TTL.MustGet())

	assert.Equal(t, 3, mem.Len(), "list is a pure read")
}

func TestStoreList_Empty(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

/* ---------------- sweep ---------------- */

func TestStoreSweep_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, mem, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", "1", time.Second))
	require.NoError(t, s.Set(ctx, "b", "2", time.Second))
	require.NoError(t, s.Set(ctx, "c", "3", 0))
	clock.Advance(time.Second)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	assert.Equal(t, 1, mem.Len())
}

func TestStoreSweep_DoesNotChangeReads(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	clock.Advance(2 * time.Second)

	before, err := s.Exists(ctx, "k")
	require.NoError(t, err)

	_, err = s.Sweep(ctx)
	require.NoError(t, err)

	after, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

/* ---------------- wall clock scenario ---------------- */

func TestStore_RealClockScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps 1.5s")
	}
	ctx := context.Background()
	s := New(NewMemory(), metrics.NewRegistry())

	require.NoError(t, s.Set(ctx, "x", "1", time.Second))

	val, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	time.Sleep(1500 * time.Millisecond)

	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	for _, d := range list {
		assert.NotEqual(t, "x", d.Key)
	}
}

/* ---------------- concurrency ---------------- */

func TestStore_ConcurrentSetAndSweep(t *testing.T) {
	ctx := context.Background()
	s, _, clock, _ := newTestStore(t)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, fmt.Sprintf("key-%d", i%5), "value", time.Duration(i%3)*time.Second)
		}(i)
		go func() {
			defer wg.Done()
			clock.Advance(100 * time.Millisecond)
			_, _ = s.Sweep(ctx)
			_, _ = s.Get(ctx, "key-0")
		}()
	}

	wg.Wait()

	// Every surviving key must be either live or removable; never half-written.
	list, err := s.List(ctx)
	require.NoError(t, err)
	for _, d := range list {
		assert.Equal(t, "value", d.Value)
	}
}

/* ---------------- backend failures ---------------- */

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Load(ctx context.Context, key string) (Entry, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(Entry), args.Error(1)
}

func (m *mockBackend) Save(ctx context.Context, e Entry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return m.Called(ctx, key, fn).Error(0)
}

func (m *mockBackend) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockBackend) DeleteAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	args := m.Called(ctx, nowMs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBackend) List(ctx context.Context) ([]Entry, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) Close() error {
	return m.Called().Error(0)
}

func TestStore_PropagatesBackendErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	b := new(mockBackend)
	b.On("Save", mock.Anything, mock.Anything).Return(boom)
	b.On("Load", mock.Anything, "k").Return(Entry{}, boom)
	b.On("Update", mock.Anything, "k", mock.Anything).Return(boom)
	b.On("Delete", mock.Anything, "k").Return(false, boom)
	b.On("DeleteAll", mock.Anything).Return(boom)
	b.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), boom)
	b.On("List", mock.Anything).Return(nil, boom)

	s := New(b, metrics.NewRegistry())

	assert.ErrorIs(t, s.Set(ctx, "k", "v", 0), boom)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.Details(ctx, "k")
	assert.ErrorIs(t, err, boom)

	_, err = s.Exists(ctx, "k")
	assert.ErrorIs(t, err, boom)

	_, err = s.TTL(ctx, "k")
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, s.Delete(ctx, "k"), boom)
	assert.ErrorIs(t, s.Expire(ctx, "k", time.Second), boom)
	assert.ErrorIs(t, s.FlushAll(ctx), boom)

	_, err = s.List(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = s.Sweep(ctx)
	assert.ErrorIs(t, err, boom)

	b.AssertExpectations(t)
}

func TestStoreGet_PurgeFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	boom := errors.New("write failed")

	b := new(mockBackend)
	b.On("Load", mock.Anything, "k").Return(Entry{Key: "k", Value: "v", ExpiresAt: clock.Now().UnixMilli()}, nil)
	b.On("Update", mock.Anything, "k", mock.Anything).Return(boom)

	s := New(b, metrics.NewRegistry(), WithClock(clock.Now))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	b.AssertExpectations(t)
}
