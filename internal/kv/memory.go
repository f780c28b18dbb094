package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	metadata  map[string]string
	expiresAt time.Time
}

// Memory is a process-local Store. It backs tests and STORE_DRIVER=memory.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory builds an empty store; a nil clock defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]memEntry), now: now}
}

// Get returns the live entry for key.
func (m *Memory) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Key:       key,
		Value:     cloneValue(e.value),
		Metadata:  copyMetadata(e.metadata),
		ExpiresAt: e.expiresAt,
	}, nil
}

// Put stores value under key, replacing any previous entry.
func (m *Memory) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, opts)
	return nil
}

// CompareAndSwap writes value when the live value equals old.
func (m *Memory) CompareAndSwap(ctx context.Context, key string, old, value []byte, opts PutOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current []byte
	if e, ok := m.live(key); ok {
		current = e.value
	}
	if !Matches(current, old) {
		return false, nil
	}
	m.put(key, value, opts)
	return true, nil
}

// CompareAndDelete removes key when the live value equals old.
func (m *Memory) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || !Matches(e.value, old) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// Delete removes key; deleting a missing key is not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// List returns live keys with the given prefix.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	keys := make([]string, 0)
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && !Expired(e.expiresAt, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// PurgeExpired drops every expired entry.
func (m *Memory) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	purged := 0
	for k, e := range m.entries {
		if Expired(e.expiresAt, now) {
			delete(m.entries, k)
			purged++
		}
	}
	return purged, nil
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if Expired(e.expiresAt, m.now()) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) put(key string, value []byte, opts PutOptions) {
	m.entries[key] = memEntry{
		value:     cloneValue(value),
		metadata:  copyMetadata(opts.Metadata),
		expiresAt: ExpiryFor(m.now(), opts.TTL),
	}
}

// cloneValue copies v, keeping a stored empty value distinct from absence.
func cloneValue(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
