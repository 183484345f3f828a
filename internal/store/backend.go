package store

import "context"

// Op tells a Backend what to do with a key after an UpdateFunc ran.
type Op int

const (
	// OpKeep leaves the stored entry untouched.
	OpKeep Op = iota
	// OpSave upserts the entry returned by the UpdateFunc.
	OpSave
	// OpDelete removes the key.
	OpDelete
)

// UpdateFunc inspects the current entry for a key (found is false when the
// key is absent) and decides what the backend must write back.
//
// Optimistic backends may call it more than once; only the decision of the
// last call is applied, so it must not keep state between calls.
type UpdateFunc func(current Entry, found bool) (next Entry, op Op)

// Backend is the storage collaborator consumed by Store.
//
// Implementations own mutation serialization: every method must be atomic
// on its own, and Update must apply the callback's decision atomically with
// respect to every other method touching the same key. Store adds no locks
// of its own.
type Backend interface {
	// Load returns ErrNotFound when the key is physically absent. Expired
	// entries are returned as-is; liveness is the Store's business.
	Load(ctx context.Context, key string) (Entry, error)
	// Save upserts the entry, fully replacing any previous one.
	Save(ctx context.Context, e Entry) error
	// Update runs fn against the current entry and applies its result.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Delete removes the key and reports whether it was physically present.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteAll removes every entry.
	DeleteAll(ctx context.Context) error
	// DeleteExpired removes every entry whose expiry is set and <= nowMs,
	// in one bulk operation, and returns how many were removed.
	DeleteExpired(ctx context.Context, nowMs int64) (int64, error)
	// List enumerates every physically present entry in key order.
	List(ctx context.Context) ([]Entry, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend's resources.
	Close() error
}
