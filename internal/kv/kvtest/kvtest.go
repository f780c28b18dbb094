// Package kvtest holds the conformance suite every kv.Store backend runs.
package kvtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senryu/internal/kv"
)

// Clock is a manually advanced clock shared by a store and its test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory opens a fresh, empty store driven by clock.
type Factory func(t *testing.T, clock func() time.Time) kv.Store

// Run exercises the full kv.Store contract against a backend.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	t.Run("get missing key", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		_, err := store.Get(ctx, "room:missing")
		assert.True(t, errors.Is(err, kv.ErrNotFound))
	})

	t.Run("put then get with metadata", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		err := store.Put(ctx, "room:r1", []byte(`{"id":"r1"}`), kv.PutOptions{
			TTL:      time.Hour,
			Metadata: map[string]string{"gameState": "waiting"},
		})
		require.NoError(t, err)

		entry, err := store.Get(ctx, "room:r1")
		require.NoError(t, err)
		assert.Equal(t, "room:r1", entry.Key)
		assert.Equal(t, `{"id":"r1"}`, string(entry.Value))
		assert.Equal(t, "waiting", entry.Metadata["gameState"])
		assert.True(t, entry.ExpiresAt.Equal(start.Add(time.Hour)), "expires at %v", entry.ExpiresAt)
	})

	t.Run("entry without ttl never expires", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		require.NoError(t, store.Put(ctx, "k", []byte("v"), kv.PutOptions{}))
		clock.Advance(365 * 24 * time.Hour)
		entry, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, entry.ExpiresAt.IsZero())
	})

	t.Run("expired entry reads as not found", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		require.NoError(t, store.Put(ctx, "k", []byte("v"), kv.PutOptions{TTL: time.Minute}))
		clock.Advance(59 * time.Second)
		_, err := store.Get(ctx, "k")
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = store.Get(ctx, "k")
		assert.True(t, errors.Is(err, kv.ErrNotFound))
	})

	t.Run("put refreshes ttl", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		require.NoError(t, store.Put(ctx, "k", []byte("v1"), kv.PutOptions{TTL: time.Minute}))
		clock.Advance(50 * time.Second)
		require.NoError(t, store.Put(ctx, "k", []byte("v2"), kv.PutOptions{TTL: time.Minute}))
		clock.Advance(50 * time.Second)
		entry, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(entry.Value))
	})

	t.Run("compare and swap on absent key", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		ok, err := store.CompareAndSwap(ctx, "lock", nil, []byte("a:1"), kv.PutOptions{})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CompareAndSwap(ctx, "lock", nil, []byte("b:2"), kv.PutOptions{})
		require.NoError(t, err)
		assert.False(t, ok, "second absent-CAS must lose")

		entry, err := store.Get(ctx, "lock")
		require.NoError(t, err)
		assert.Equal(t, "a:1", string(entry.Value))
	})

	t.Run("compare and swap on existing value", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		require.NoError(t, store.Put(ctx, "lock", []byte("a:1"), kv.PutOptions{}))

		ok, err := store.CompareAndSwap(ctx, "lock", []byte("x:0"), []byte("b:2"), kv.PutOptions{})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.CompareAndSwap(ctx, "lock", []byte("a:1"), []byte("b:2"), kv.PutOptions{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("empty value is present", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		require.NoError(t, store.Put(ctx, "k", nil, kv.PutOptions{}))

		entry, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.NotNil(t, entry.Value)
		assert.Empty(t, entry.Value)

		ok, err := store.CompareAndSwap(ctx, "k", nil, []byte("v"), kv.PutOptions{})
		require.NoError(t, err)
		assert.False(t, ok, "empty value must not match absence")

		ok, err = store.CompareAndSwap(ctx, "k", []byte{}, []byte("v"), kv.PutOptions{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("compare and swap treats expired value as absent", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		require.NoError(t, store.Put(ctx, "lock", []byte("a:1"), kv.PutOptions{TTL: time.Second}))
		clock.Advance(2 * time.Second)
		ok, err := store.CompareAndSwap(ctx, "lock", nil, []byte("b:2"), kv.PutOptions{TTL: time.Second})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("compare and delete", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		require.NoError(t, store.Put(ctx, "lock", []byte("a:1"), kv.PutOptions{}))

		ok, err := store.CompareAndDelete(ctx, "lock", []byte("b:1"))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.CompareAndDelete(ctx, "lock", []byte("a:1"))
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.Get(ctx, "lock")
		assert.True(t, errors.Is(err, kv.ErrNotFound))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		require.NoError(t, store.Put(ctx, "k", []byte("v"), kv.PutOptions{}))
		require.NoError(t, store.Delete(ctx, "k"))
		require.NoError(t, store.Delete(ctx, "k"))
		_, err := store.Get(ctx, "k")
		assert.True(t, errors.Is(err, kv.ErrNotFound))
	})

	t.Run("list skips expired and foreign keys", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		require.NoError(t, store.Put(ctx, "room:b", []byte("1"), kv.PutOptions{}))
		require.NoError(t, store.Put(ctx, "room:a", []byte("1"), kv.PutOptions{}))
		require.NoError(t, store.Put(ctx, "room:c", []byte("1"), kv.PutOptions{TTL: time.Second}))
		require.NoError(t, store.Put(ctx, "presentation-end:a", []byte("1"), kv.PutOptions{}))
		clock.Advance(time.Minute)

		keys, err := store.List(ctx, "room:")
		require.NoError(t, err)
		assert.Equal(t, []string{"room:a", "room:b"}, keys)
	})

	t.Run("purge removes expired entries", func(t *testing.T) {
		clock := NewClock(start)
		store := open(t, clock.Now)
		purger, ok := store.(kv.Purger)
		if !ok {
			t.Skip("backend does not purge")
		}
		require.NoError(t, store.Put(ctx, "keep", []byte("1"), kv.PutOptions{}))
		require.NoError(t, store.Put(ctx, "drop", []byte("1"), kv.PutOptions{TTL: time.Second}))
		clock.Advance(time.Minute)

		n, err := purger.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = store.Get(ctx, "keep")
		assert.NoError(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := open(t, NewClock(start).Now)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Get(cctx, "k")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
