package store

import (
	"math"
	"time"

	"github.com/samber/mo"
)

// Entry represents a single stored key.
//
// ExpiresAt is an absolute deadline in Unix milliseconds.
// Zero value of ExpiresAt means "no expiration".
type Entry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// HasExpiry reports whether the entry carries a deadline at all.
func (e Entry) HasExpiry() bool {
	return e.ExpiresAt > 0
}

// IsExpired checks whether the entry is dead at the given instant (ms).
// This is the only liveness predicate in the package: an entry with a
// deadline is dead once the deadline is at or before now.
func (e Entry) IsExpired(nowMs int64) bool {
	return e.HasExpiry() && e.ExpiresAt <= nowMs
}

// remaining returns the milliseconds left before the deadline.
// Only meaningful when HasExpiry is true.
func (e Entry) remaining(nowMs int64) int64 {
	return e.ExpiresAt - nowMs
}

// MaxTTLSeconds is the largest ttl in seconds a time.Duration can hold.
const MaxTTLSeconds = math.MaxInt64 / int64(time.Second)

// TTLFromSeconds converts a ttl given in whole seconds, rejecting values
// that are negative or do not fit in a time.Duration.
func TTLFromSeconds(secs int64) (time.Duration, error) {
	if secs < 0 || secs > MaxTTLSeconds {
		return 0, ErrInvalidTTL
	}
	return time.Duration(secs) * time.Second, nil
}

// deadline converts a ttl into an absolute expiry relative to nowMs.
// Non-positive ttls produce no expiry; sub-millisecond ttls round up to 1ms
// so a positive ttl never yields an entry that is dead on arrival.
func deadline(nowMs int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return nowMs + max(ttl.Milliseconds(), 1)
}

// Details is the read model returned by Details and List.
// TTL is None when the entry never expires.
type Details struct {
	Key   string           `json:"key"`
	Value string           `json:"value"`
	TTL   mo.Option[int64] `json:"ttl"`
}

// NoExpiration reports whether the entry is persistent.
func (d Details) NoExpiration() bool {
	return d.TTL.IsAbsent()
}

// details builds the read model for a live entry. ok is false when the
// remaining seconds computed negative, which callers treat as not found.
func details(e Entry, nowMs int64) (Details, bool) {
	d := Details{Key: e.Key, Value: e.Value, TTL: mo.None[int64]()}
	if !e.HasExpiry() {
		return d, true
	}

	secs := e.remaining(nowMs) / 1000
	if secs < 0 {
		return Details{}, false
	}
	d.TTL = mo.Some(secs)
	return d, true
}
