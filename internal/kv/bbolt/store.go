// Package bbolt provides a BoltDB-backed kv.Store. Expiration is stored
// alongside each value and enforced on read.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"senryu/internal/kv"
)

const entriesBucket = "kv"

// record is the on-disk envelope of one entry.
type record struct {
	Value     []byte            `json:"v"`
	Metadata  map[string]string `json:"m,omitempty"`
	ExpiresAt int64             `json:"e,omitempty"`
}

// Store provides a BoltDB-backed key/value store.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string, now func() time.Time) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if now == nil {
		now = time.Now
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db, now: now}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get fetches the live entry for key.
func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		return kv.Entry{}, err
	}
	var entry kv.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, ok, err := s.live(tx.Bucket([]byte(entriesBucket)), key)
		if err != nil {
			return err
		}
		if !ok {
			return kv.ErrNotFound
		}
		entry = kv.Entry{Key: key, Value: rec.Value, Metadata: rec.Metadata, ExpiresAt: fromMillis(rec.ExpiresAt)}
		return nil
	})
	if err != nil {
		return kv.Entry{}, err
	}
	return entry, nil
}

// Put persists value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.put(tx.Bucket([]byte(entriesBucket)), key, value, opts)
	})
}

// CompareAndSwap writes value when the live value equals old. Bolt
// serializes writers, so the read and the write share one transaction.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, opts kv.PutOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	swapped := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		rec, ok, err := s.live(bucket, key)
		if err != nil {
			return err
		}
		var current []byte
		if ok {
			current = rec.Value
		}
		if !kv.Matches(current, old) {
			return nil
		}
		if err := s.put(bucket, key, value, opts); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

// CompareAndDelete removes key when the live value equals old.
func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	deleted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		rec, ok, err := s.live(bucket, key)
		if err != nil || !ok || !kv.Matches(rec.Value, old) {
			return err
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Delete([]byte(key))
	})
}

// List returns live keys with the given prefix; bolt keys are byte-sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	keys := make([]string, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(entriesBucket)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if kv.Expired(fromMillis(rec.ExpiresAt), now) {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// PurgeExpired removes every expired record.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if kv.Expired(fromMillis(rec.ExpiresAt), now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		purged = len(expired)
		return nil
	})
	return purged, err
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		if err != nil {
			return fmt.Errorf("create kv bucket: %w", err)
		}
		return nil
	})
}

func (s *Store) live(bucket *bbolt.Bucket, key string) (record, bool, error) {
	if bucket == nil {
		return record{}, false, fmt.Errorf("kv bucket is missing")
	}
	payload := bucket.Get([]byte(key))
	if payload == nil {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if kv.Expired(fromMillis(rec.ExpiresAt), s.now()) {
		return record{}, false, nil
	}
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	return rec, true, nil
}

func (s *Store) put(bucket *bbolt.Bucket, key string, value []byte, opts kv.PutOptions) error {
	if bucket == nil {
		return fmt.Errorf("kv bucket is missing")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	rec := record{Value: value, Metadata: opts.Metadata}
	if exp := kv.ExpiryFor(s.now(), opts.TTL); !exp.IsZero() {
		rec.ExpiresAt = exp.UTC().UnixMilli()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return bucket.Put([]byte(key), payload)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
