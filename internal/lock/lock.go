// Package lock implements the advisory, time-boxed mutual exclusion that
// guards the advance-presenter transition.
//
// A lock is a single key whose value is "{ownerId}:{acquiredAtEpochMillis}".
// Readers decide staleness: a record older than the staleness window is
// ignored as abandoned, so a crashed caller never wedges a room. The key is
// also written with a native TTL slightly longer than the window so the
// store reclaims it, while the reader-side arithmetic stays authoritative.
//
// Writes go through CompareAndSwap against the value observed on read, so two
// callers that both see "no lock" cannot both win. Holders release with
// Release once their guarded work is done.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"senryu/internal/kv"
)

// DefaultStaleness is the window after which a held lock is ignored.
const DefaultStaleness = 60 * time.Second

// ttlGrace keeps the stored key alive a little past the logical window.
const ttlGrace = time.Second

// ErrConflict matches every *ConflictError.
var ErrConflict = errors.New("lock is held")

// ConflictError reports a live lock held by someone else. RetryIn is how
// long until the record goes stale.
type ConflictError struct {
	Owner   string
	Age     time.Duration
	RetryIn time.Duration
}

func (e *ConflictError) Error() string {
	if e.Owner == "" {
		return "lock is held: lost acquisition race"
	}
	return fmt.Sprintf("lock is held by %s for %s", e.Owner, e.Age)
}

// Is makes errors.Is(err, ErrConflict) work.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Record is the decoded lock value.
type Record struct {
	Owner      string
	AcquiredAt time.Time
}

// String encodes the record as "owner:epochMillis".
func (r Record) String() string {
	return r.Owner + ":" + strconv.FormatInt(r.AcquiredAt.UnixMilli(), 10)
}

// Parse decodes "owner:epochMillis". The owner may itself contain colons.
func Parse(value string) (Record, error) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 || idx == len(value)-1 {
		return Record{}, fmt.Errorf("lock value %q: want owner:millis", value)
	}
	ms, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("lock value %q: %w", value, err)
	}
	return Record{Owner: value[:idx], AcquiredAt: time.UnixMilli(ms).UTC()}, nil
}

// PresentationEndKey is the lock guarding advance-presenter for a room.
func PresentationEndKey(roomID string) string { return "presentation-end:" + roomID }

// Lease identifies a lock this process wrote.
type Lease struct {
	Key    string
	Record Record
}

// Lock acquires and releases advisory locks in a kv.Store.
type Lock struct {
	store     kv.Store
	staleness time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New builds a Lock. Zero staleness selects DefaultStaleness; nil clock and
// logger select time.Now and slog.Default.
func New(store kv.Store, staleness time.Duration, now func() time.Time, logger *slog.Logger) *Lock {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{store: store, staleness: staleness, now: now, logger: logger}
}

// Acquire takes the lock at key for owner. It never blocks: a live lock held
// by anyone yields a *ConflictError.
func (l *Lock) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errors.New("lock owner is required")
	}
	now := l.now()

	var observed []byte
	entry, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("read lock %s: %w", key, err)
	default:
		observed = entry.Value
		held, err := Parse(string(entry.Value))
		if err != nil {
			l.logger.Warn("ignoring unreadable lock", slog.String("key", key), slog.String("error", err.Error()))
			break
		}
		age := now.Sub(held.AcquiredAt)
		if age <= l.staleness {
			return nil, &ConflictError{Owner: held.Owner, Age: age, RetryIn: l.staleness - age}
		}
		l.logger.Info("taking over stale lock", slog.String("key", key), slog.String("previous_owner", held.Owner), slog.Duration("age", age))
	}

	rec := Record{Owner: owner, AcquiredAt: now.UTC()}
	ok, err := l.store.CompareAndSwap(ctx, key, observed, []byte(rec.String()), kv.PutOptions{TTL: l.staleness + ttlGrace})
	if err != nil {
		return nil, fmt.Errorf("write lock %s: %w", key, err)
	}
	if !ok {
		return nil, &ConflictError{}
	}
	return &Lease{Key: key, Record: rec}, nil
}

// Release deletes the lock only if it still carries this lease's value.
func (l *Lock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, lease.Key, []byte(lease.Record.String())); err != nil {
		return fmt.Errorf("release lock %s: %w", lease.Key, err)
	}
	return nil
}
