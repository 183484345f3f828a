package store

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is a concurrency-safe in-memory Backend.
//
// Design principles:
// - Safe for concurrent access using RWMutex
// - Every method holds the lock for its whole duration, so per-key
//   operations and the bulk sweep never interleave
type Memory struct {
	mu   sync.RWMutex
	data map[string]Entry
}

var _ Backend = (*Memory)(nil)

// NewMemory initializes and returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]Entry),
	}
}

// Load returns a copy of the stored entry.
func (m *Memory) Load(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Save inserts or fully replaces the entry for e.Key.
func (m *Memory) Save(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[e.Key] = e
	return nil
}

// Update runs fn under the write lock.
func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, found := m.data[key]
	next, op := fn(current, found)

	switch op {
	case OpSave:
		next.Key = key
		m.data[key] = next
	case OpDelete:
		delete(m.data, key)
	}
	return nil
}

// Delete removes a key from the map.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

// DeleteAll swaps in a fresh map.
func (m *Memory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]Entry)
	return nil
}

// DeleteExpired removes all entries dead at nowMs.
func (m *Memory) DeleteExpired(_ context.Context, nowMs int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for k, e := range m.data {
		if e.IsExpired(nowMs) {
			delete(m.data, k)
			removed++
		}
	}
	return removed, nil
}

// List returns a snapshot of all physically present entries, sorted by key.
func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.data))
	for _, e := range m.data {
		out = append(out, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}

// Len returns the number of physically present entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
