// Package boltdb persists entries in a local bbolt file.
package boltdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"ttlkv/internal/store"
)

const headerSize = 8

// ErrCorruptRecord is returned when a stored value is shorter than its expiry header.
var ErrCorruptRecord = errors.New("boltdb: corrupt record")

// Options configures Open.
type Options struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// Backend stores every entry in one bucket.
// Layout per value: 8 bytes big endian expiresAt (ms, 0 = never) || raw value.
//
// bbolt serializes read-write transactions, so every method that writes
// runs inside db.Update and is atomic on its own.
type Backend struct {
	db     *bolt.DB
	bucket []byte
}

var _ store.Backend = (*Backend)(nil)

// Open initializes or opens a bolt file at path.
func Open(path string, opts Options) (*Backend, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %s: %w", path, err)
	}

	bucket := []byte("entries")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Backend{db: db, bucket: bucket}, nil
}

func encode(e store.Entry) []byte {
	buf := make([]byte, headerSize+len(e.Value))
	binary.BigEndian.PutUint64(buf[:headerSize], uint64(e.ExpiresAt))
	copy(buf[headerSize:], e.Value)
	return buf
}

// decode copies out of v; bolt memory is only valid inside the transaction.
func decode(key, v []byte) (store.Entry, error) {
	if len(v) < headerSize {
		return store.Entry{}, fmt.Errorf("%w: key %q", ErrCorruptRecord, key)
	}
	return store.Entry{
		Key:       string(key),
		Value:     string(v[headerSize:]),
		ExpiresAt: int64(binary.BigEndian.Uint64(v[:headerSize])),
	}, nil
}

func expiresAt(v []byte) int64 {
	if len(v) < headerSize {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v[:headerSize]))
}

func (b *Backend) Load(_ context.Context, key string) (store.Entry, error) {
	var out store.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		e, err := decode([]byte(key), v)
		out = e
		return err
	})
	return out, err
}

func (b *Backend) Save(_ context.Context, e store.Entry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(e.Key), encode(e))
	})
}

func (b *Backend) Update(_ context.Context, key string, fn store.UpdateFunc) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)

		var current store.Entry
		v := bkt.Get([]byte(key))
		found := v != nil
		if found {
			e, err := decode([]byte(key), v)
			if err != nil {
				return err
			}
			current = e
		}

		next, op := fn(current, found)
		switch op {
		case store.OpSave:
			next.Key = key
			return bkt.Put([]byte(key), encode(next))
		case store.OpDelete:
			return bkt.Delete([]byte(key))
		}
		return nil
	})
}

func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	var removed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt.Get([]byte(key)) == nil {
			return nil
		}
		removed = true
		return bkt.Delete([]byte(key))
	})
	return removed, err
}

// DeleteAll drops and recreates the bucket in one transaction.
func (b *Backend) DeleteAll(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
}

func (b *Backend) DeleteExpired(_ context.Context, nowMs int64) (int64, error) {
	var removed int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)

		// Collect first: deleting under a live cursor skips siblings.
		var dead [][]byte
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if exp := expiresAt(v); exp > 0 && exp <= nowMs {
				dead = append(dead, append([]byte(nil), k...))
			}
		}
		for _, k := range dead {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		removed = int64(len(dead))
		return nil
	})
	return removed, err
}

// List walks the bucket cursor, which yields keys in byte order.
func (b *Backend) List(_ context.Context) ([]store.Entry, error) {
	var out []store.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(k, v []byte) error {
			e, err := decode(k, v)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (b *Backend) Ping(_ context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(b.bucket) == nil {
			return fmt.Errorf("boltdb: bucket %q missing", b.bucket)
		}
		return nil
	})
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
