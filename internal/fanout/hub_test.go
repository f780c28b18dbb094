package fanout

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senryu/internal/room"
)

func snapshot(id string, version int64) room.Room {
	return room.Room{ID: id, Version: version, GameState: room.StateWaiting}
}

func TestPublishReachesRoomSubscribersOnly(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("r1")
	b := h.Subscribe("r1")
	other := h.Subscribe("r2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	h.Publish(snapshot("r1", 1))

	assert.Equal(t, int64(1), (<-a.C).Version)
	assert.Equal(t, int64(1), (<-b.C).Version)
	select {
	case got := <-other.C:
		t.Fatalf("unexpected snapshot for r2: %+v", got)
	default:
	}
}

func TestSlowSubscriberGetsLatestSnapshot(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("r1")
	defer sub.Close()

	for v := int64(1); v <= 5; v++ {
		h.Publish(snapshot("r1", v))
	}
	got := <-sub.C
	assert.Equal(t, int64(5), got.Version)
	select {
	case extra := <-sub.C:
		t.Fatalf("buffer should hold one snapshot, got extra %d", extra.Version)
	default:
	}
}

func TestOlderSnapshotIsDropped(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("r1")
	defer sub.Close()

	h.Publish(snapshot("r1", 4))
	h.Publish(snapshot("r1", 3))
	assert.Equal(t, int64(4), (<-sub.C).Version)
}

func TestPublishClonesPerSubscriber(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("r1")
	b := h.Subscribe("r1")
	defer a.Close()
	defer b.Close()

	snap := snapshot("r1", 1)
	snap.Players = []room.Player{{ID: "H"}}
	h.Publish(snap)

	got := <-a.C
	got.Players[0].ID = "mutated"
	assert.Equal(t, "H", (<-b.C).Players[0].ID)
	assert.Equal(t, "H", snap.Players[0].ID)
}

func TestCloseUnregistersAndClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("r1")
	require.Equal(t, 1, h.Subscribers("r1"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers("r1"))
	_, open := <-sub.C
	assert.False(t, open)

	h.Publish(snapshot("r1", 1))
}

func TestConcurrentPublishAndClose(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		sub := h.Subscribe("r1")
		go func(v int64) {
			defer wg.Done()
			h.Publish(snapshot("r1", v))
		}(int64(i + 1))
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers("r1"))
}
