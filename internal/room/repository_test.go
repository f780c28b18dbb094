package room_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senryu/internal/kv"
	"senryu/internal/kv/kvtest"
	"senryu/internal/room"
)

func sampleRoom() room.Room {
	return room.Room{
		ID:     "r1",
		Code:   "ABC234",
		HostID: "H",
		Players: []room.Player{
			{ID: "H", Name: "Host", IsHost: true},
			{ID: "P", Name: "Presenter"},
		},
		GameState:             room.StatePresenting,
		CurrentPresenterIndex: 1,
		SubmittedScores:       map[string]map[string]room.ScoreRecord{},
		RedrawsUsed:           map[string]room.RedrawCounters{},
	}
}

func TestRepositoryLoadNotFound(t *testing.T) {
	repo := room.NewRepository(kv.NewMemory(nil))

	_, err := repo.Load(context.Background(), "nonexistent-room")
	assert.ErrorIs(t, err, room.ErrNotFound)

	_, err = repo.Load(context.Background(), "")
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestRepositorySaveLoadRoundTrip(t *testing.T) {
	clock := kvtest.NewClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory(clock.Now)
	repo := room.NewRepository(store, room.WithClock(clock.Now))
	ctx := context.Background()

	saved, err := repo.Save(ctx, sampleRoom())
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	assert.True(t, saved.UpdatedAt.Equal(clock.Now()))

	loaded, err := repo.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, saved.Players, loaded.Players)
	assert.Equal(t, room.StatePresenting, loaded.GameState)
	assert.Equal(t, 1, loaded.CurrentPresenterIndex)

	again, err := repo.Save(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)
}

func TestRepositorySaveRejectsStaleVersion(t *testing.T) {
	store := kv.NewMemory(nil)
	repo := room.NewRepository(store)
	ctx := context.Background()

	_, err := repo.Save(ctx, sampleRoom())
	require.NoError(t, err)
	first, err := repo.Load(ctx, "r1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, "r1")
	require.NoError(t, err)

	first.CurrentPresenterIndex = 0
	saved, err := repo.Save(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	second.GameState = room.StateScoring
	_, err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, room.ErrVersionConflict)

	_, err = repo.Save(ctx, sampleRoom())
	assert.ErrorIs(t, err, room.ErrVersionConflict, "a new room cannot overwrite a stored one")

	stored, err := repo.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, room.StatePresenting, stored.GameState)
	assert.Equal(t, 0, stored.CurrentPresenterIndex)
}

func TestRepositorySaveOfExpiredRoomIsNotFound(t *testing.T) {
	clock := kvtest.NewClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	repo := room.NewRepository(kv.NewMemory(clock.Now), room.WithClock(clock.Now))
	ctx := context.Background()

	saved, err := repo.Save(ctx, sampleRoom())
	require.NoError(t, err)
	clock.Advance(room.DefaultTTL)

	_, err = repo.Save(ctx, saved)
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestRepositoryMalformedIsNotNotFound(t *testing.T) {
	store := kv.NewMemory(nil)
	repo := room.NewRepository(store)
	ctx := context.Background()

	cases := map[string]string{
		"invalid json":  `{"id": "r1", "players": [`,
		"wrong id":      `{"id":"other","gameState":"waiting"}`,
		"unknown state": `{"id":"r1","gameState":"dancing"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, room.Key("r1"), []byte(raw), kv.PutOptions{}))
			_, err := repo.Load(ctx, "r1")
			require.Error(t, err)
			assert.ErrorIs(t, err, room.ErrMalformedState)
			assert.False(t, errors.Is(err, room.ErrNotFound))
		})
	}
}

func TestRepositorySaveRefreshesTTL(t *testing.T) {
	clock := kvtest.NewClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	store := kv.NewMemory(clock.Now)
	repo := room.NewRepository(store, room.WithClock(clock.Now))
	ctx := context.Background()

	_, err := repo.Save(ctx, sampleRoom())
	require.NoError(t, err)
	entry, err := store.Get(ctx, room.Key("r1"))
	require.NoError(t, err)
	assert.True(t, entry.ExpiresAt.Equal(clock.Now().Add(604800*time.Second)))
	assert.Equal(t, "presenting", entry.Metadata["gameState"])

	clock.Advance(6 * 24 * time.Hour)
	loaded, err := repo.Load(ctx, "r1")
	require.NoError(t, err)
	_, err = repo.Save(ctx, loaded)
	require.NoError(t, err)

	entry, err = store.Get(ctx, room.Key("r1"))
	require.NoError(t, err)
	assert.True(t, entry.ExpiresAt.Equal(clock.Now().Add(604800*time.Second)))

	codeEntry, err := store.Get(ctx, room.CodeKey("ABC234"))
	require.NoError(t, err)
	assert.True(t, codeEntry.ExpiresAt.Equal(entry.ExpiresAt))

	clock.Advance(7 * 24 * time.Hour)
	_, err = repo.Load(ctx, "r1")
	assert.ErrorIs(t, err, room.ErrNotFound, "expired room reads as absent")
}

func TestRepositoryFindByCode(t *testing.T) {
	repo := room.NewRepository(kv.NewMemory(nil))
	ctx := context.Background()

	ok, err := repo.ReserveCode(ctx, "ABC234", "r1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ReserveCode(ctx, "abc234", "r2")
	require.NoError(t, err)
	assert.False(t, ok, "code already held by r1")

	_, err = repo.Save(ctx, sampleRoom())
	require.NoError(t, err)

	found, err := repo.FindByCode(ctx, " abc234 ")
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ID)

	_, err = repo.FindByCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, room.ErrNotFound)
}

type failingStore struct {
	kv.Store
	err error
}

func (f failingStore) Put(context.Context, string, []byte, kv.PutOptions) error { return f.err }
func (f failingStore) Get(context.Context, string) (kv.Entry, error)           { return kv.Entry{}, f.err }

func TestRepositorySurfacesStoreErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	repo := room.NewRepository(failingStore{Store: kv.NewMemory(nil), err: boom})
	ctx := context.Background()

	_, err := repo.Save(ctx, sampleRoom())
	assert.ErrorIs(t, err, boom)

	_, err = repo.Load(ctx, "r1")
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, room.ErrNotFound))
}

func TestNewCode(t *testing.T) {
	src := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		code := room.NewCode(src)
		assert.Len(t, code, room.CodeLength)
		assert.True(t, room.ValidCode(code), code)
	}
	assert.False(t, room.ValidCode("ABCDE0"))
	assert.False(t, room.ValidCode("ABC"))
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := sampleRoom()
	orig.SubmittedScores["P"] = map[string]room.ScoreRecord{"H": {Scores: map[string]int{"humor": 3}}}
	orig.Players[0].Senryu = &room.Senryu{Upper: room.Card{ID: "u1"}}

	clone := orig.Clone()
	clone.Players[0].Name = "changed"
	clone.Players[0].Senryu.Upper.ID = "u2"
	clone.SubmittedScores["P"]["H"].Scores["humor"] = 5
	clone.SubmittedScores["P"]["X"] = room.ScoreRecord{}

	assert.Equal(t, "Host", orig.Players[0].Name)
	assert.Equal(t, "u1", orig.Players[0].Senryu.Upper.ID)
	assert.Equal(t, 3, orig.SubmittedScores["P"]["H"].Scores["humor"])
	assert.Len(t, orig.SubmittedScores["P"], 1)
}
