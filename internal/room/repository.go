// Package room holds the Room aggregate and its key/value repository.
//
// The repository owns the persistence contract: every Save rewrites the whole
// JSON value under room:{id} with a fresh seven-day TTL, and Load
// distinguishes an absent room (ErrNotFound) from a stored value that no
// longer decodes (ErrMalformedState). There is no caching and no merging;
// callers load, mutate and save. A save only lands on the version it was
// loaded from; anything else is ErrVersionConflict and the caller reloads.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"senryu/internal/kv"
)

// DefaultTTL is the rolling inactivity window of a room: 604,800 seconds.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrNotFound indicates the room does not exist or has expired.
	ErrNotFound = errors.New("room not found")
	// ErrMalformedState indicates the stored value failed to decode.
	ErrMalformedState = errors.New("room state is malformed")
	// ErrVersionConflict indicates the room was written since it was loaded.
	ErrVersionConflict = errors.New("room changed since it was loaded")
)

// Key is the store key of a room.
func Key(id string) string { return "room:" + id }

// CodeKey is the store key of the shareable-code index.
func CodeKey(code string) string { return "room-code:" + NormalizeCode(code) }

// NormalizeCode upper-cases and trims a user-typed code.
func NormalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Repository loads and saves rooms.
type Repository struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

// Option customizes a Repository.
type Option func(*Repository)

// WithTTL overrides the rolling expiration.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock injects the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepository builds a repository over store.
func NewRepository(store kv.Store, opts ...Option) *Repository {
	r := &Repository{store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the current room snapshot.
func (r *Repository) Load(ctx context.Context, id string) (Room, error) {
	if strings.TrimSpace(id) == "" {
		return Room{}, ErrNotFound
	}
	entry, err := r.store.Get(ctx, Key(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Room{}, ErrNotFound
		}
		return Room{}, fmt.Errorf("load room %s: %w", id, err)
	}

	var room Room
	if err := json.Unmarshal(entry.Value, &room); err != nil {
		return Room{}, fmt.Errorf("%w: room %s: %w", ErrMalformedState, id, err)
	}
	if room.ID != id || !room.GameState.Valid() {
		return Room{}, fmt.Errorf("%w: room %s: id %q state %q", ErrMalformedState, id, room.ID, room.GameState)
	}
	return room, nil
}

// Save writes the whole room, bumping Version and refreshing the TTL of both
// the room and its code index. room.Version must be the version it was
// loaded at, zero for a room that was never stored. The returned value is
// what was persisted.
func (r *Repository) Save(ctx context.Context, room Room) (Room, error) {
	if strings.TrimSpace(room.ID) == "" {
		return Room{}, errors.New("room id is required")
	}
	expected, err := r.expectedValue(ctx, room)
	if err != nil {
		return Room{}, err
	}

	room.Version++
	room.UpdatedAt = r.now().UTC()
	payload, err := json.Marshal(room)
	if err != nil {
		return Room{}, fmt.Errorf("encode room %s: %w", room.ID, err)
	}

	// The index goes first: an index entry outliving a failed room write
	// still points at the right room.
	if room.Code != "" {
		if err := r.store.Put(ctx, CodeKey(room.Code), []byte(room.ID), kv.PutOptions{TTL: r.ttl}); err != nil {
			return Room{}, fmt.Errorf("save room code %s: %w", room.Code, err)
		}
	}

	opts := kv.PutOptions{
		TTL:      r.ttl,
		Metadata: map[string]string{"gameState": string(room.GameState), "code": room.Code},
	}
	ok, err := r.store.CompareAndSwap(ctx, Key(room.ID), expected, payload, opts)
	if err != nil {
		return Room{}, fmt.Errorf("save room %s: %w", room.ID, err)
	}
	if !ok {
		return Room{}, fmt.Errorf("%w: room %s version %d", ErrVersionConflict, room.ID, room.Version-1)
	}
	return room, nil
}

// expectedValue returns the stored bytes a save of room may replace, nil
// when the room is new.
func (r *Repository) expectedValue(ctx context.Context, room Room) ([]byte, error) {
	entry, err := r.store.Get(ctx, Key(room.ID))
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if room.Version != 0 {
			return nil, fmt.Errorf("%w: room %s expired before save", ErrNotFound, room.ID)
		}
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("save room %s: %w", room.ID, err)
	}

	var stored struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(entry.Value, &stored); err != nil || stored.Version != room.Version {
		return nil, fmt.Errorf("%w: room %s is at version %d, save was based on %d",
			ErrVersionConflict, room.ID, stored.Version, room.Version)
	}
	return entry.Value, nil
}

// ReserveCode claims code for roomID unless a live room already owns it.
func (r *Repository) ReserveCode(ctx context.Context, code, roomID string) (bool, error) {
	ok, err := r.store.CompareAndSwap(ctx, CodeKey(code), nil, []byte(roomID), kv.PutOptions{TTL: r.ttl})
	if err != nil {
		return false, fmt.Errorf("reserve room code %s: %w", code, err)
	}
	return ok, nil
}

// FindByCode resolves a shareable code to its room.
func (r *Repository) FindByCode(ctx context.Context, code string) (Room, error) {
	if NormalizeCode(code) == "" {
		return Room{}, ErrNotFound
	}
	entry, err := r.store.Get(ctx, CodeKey(code))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Room{}, ErrNotFound
		}
		return Room{}, fmt.Errorf("resolve room code %s: %w", code, err)
	}
	return r.Load(ctx, string(entry.Value))
}
