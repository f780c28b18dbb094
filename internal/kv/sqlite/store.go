// Package sqlite provides a SQLite-backed kv.Store with per-key expiration.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"senryu/internal/kv"
)

// Store persists key/value entries in a single SQLite table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open prepares a SQLite database at path and ensures the schema exists.
// A nil clock defaults to time.Now.
func Open(path string, now func() time.Time) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is empty")
	}
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure db directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: now}, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			metadata TEXT,
			expires_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_expires ON kv_entries(expires_at);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the live entry stored under key.
func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		return kv.Entry{}, err
	}
	var (
		value     []byte
		metadata  sql.NullString
		expiresAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT value, metadata, expires_at FROM kv_entries
		 WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, toMillis(s.now()))
	if err := row.Scan(&value, &metadata, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}

	if value == nil {
		value = []byte{}
	}
	entry := kv.Entry{Key: key, Value: value, ExpiresAt: fromMillis(expiresAt)}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
			return kv.Entry{}, fmt.Errorf("decode metadata %s: %w", key, err)
		}
	}
	return entry, nil
}

// Put upserts key with the given options.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.upsert(ctx, s.db, key, value, opts)
}

// CompareAndSwap writes value when the live value equals old.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, opts kv.PutOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cas %s: %w", key, err)
	}
	defer tx.Rollback()

	current, err := s.liveValue(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if !kv.Matches(current, old) {
		return false, nil
	}
	if err := s.upsert(ctx, tx, key, value, opts); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cas %s: %w", key, err)
	}
	return true, nil
}

// CompareAndDelete removes key when the live value equals old.
func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cad %s: %w", key, err)
	}
	defer tx.Rollback()

	current, err := s.liveValue(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if current == nil || !kv.Matches(current, old) {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cad %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key unconditionally.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns live keys starting with prefix in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries
		 WHERE substr(CAST(key AS BLOB), 1, ?) = CAST(? AS BLOB) AND (expires_at = 0 OR expires_at > ?)
		 ORDER BY key`,
		len(prefix), prefix, toMillis(s.now()))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// PurgeExpired deletes rows whose expiration has passed.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at != 0 AND expires_at <= ?`,
		toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return int(n), nil
}

func (s *Store) liveValue(ctx context.Context, q querier, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, toMillis(s.now())).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *Store) upsert(ctx context.Context, q querier, key string, value []byte, opts kv.PutOptions) error {
	var metadata sql.NullString
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata %s: %w", key, err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, metadata, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, metadata = excluded.metadata, expires_at = excluded.expires_at`,
		key, value, metadata, toMillis(kv.ExpiryFor(s.now(), opts.TTL)))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
