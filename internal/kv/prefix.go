package kv

import (
	"context"
	"strings"
)

// Prefixed namespaces every key of an underlying Store as "prefix:key".
type Prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix wraps store so that several applications can share one backend.
// An empty prefix returns store unchanged.
func WithPrefix(store Store, prefix string) Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return store
	}
	return &Prefixed{inner: store, prefix: prefix + ":"}
}

func (p *Prefixed) key(k string) string { return p.prefix + k }

// Get reads a namespaced key.
func (p *Prefixed) Get(ctx context.Context, key string) (Entry, error) {
	e, err := p.inner.Get(ctx, p.key(key))
	if err != nil {
		return Entry{}, err
	}
	e.Key = key
	return e, nil
}

// Put writes a namespaced key.
func (p *Prefixed) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	return p.inner.Put(ctx, p.key(key), value, opts)
}

// CompareAndSwap swaps a namespaced key.
func (p *Prefixed) CompareAndSwap(ctx context.Context, key string, old, value []byte, opts PutOptions) (bool, error) {
	return p.inner.CompareAndSwap(ctx, p.key(key), old, value, opts)
}

// CompareAndDelete deletes a namespaced key conditionally.
func (p *Prefixed) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	return p.inner.CompareAndDelete(ctx, p.key(key), old)
}

// Delete removes a namespaced key.
func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.key(key))
}

// List returns keys within the namespace with the namespace stripped.
func (p *Prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.List(ctx, p.key(prefix))
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, p.prefix)
	}
	return keys, nil
}
