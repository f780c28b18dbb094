// Package kv defines the namespaced, TTL-capable key/value store the room
// orchestrator persists into.
//
// Implementations live in subpackages (sqlite, bbolt) plus the in-memory
// Memory store in this package. All of them compute expiration against an
// injected clock: an expired entry behaves exactly like an absent one.
//
// # Error Types
//
//   - ErrNotFound: the key is absent or expired.
package kv

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("kv: key not found")

// Entry is a stored value with its metadata and expiration.
type Entry struct {
	Key      string
	Value    []byte
	Metadata map[string]string
	// ExpiresAt is zero when the entry never expires.
	ExpiresAt time.Time
}

// PutOptions controls expiration and metadata of a write.
type PutOptions struct {
	TTL      time.Duration
	Metadata map[string]string
}

// Store is the contract every backend implements.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	// CompareAndSwap writes value only when the live value equals old.
	// A nil old matches an absent or expired key.
	CompareAndSwap(ctx context.Context, key string, old, value []byte, opts PutOptions) (bool, error)
	// CompareAndDelete removes the key only when the live value equals old.
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns the live keys starting with prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Purger is implemented by backends that physically reclaim expired entries.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Closer is implemented by backends holding an open handle.
type Closer interface {
	Close() error
}

// ExpiryFor converts a TTL into an absolute deadline; zero TTL never expires.
func ExpiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Expired reports whether an entry with the given deadline is dead at now.
func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// Matches reports whether a live value (nil when absent) satisfies a CAS
// expectation.
func Matches(current, expected []byte) bool {
	if expected == nil {
		return current == nil
	}
	return current != nil && bytes.Equal(current, expected)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
