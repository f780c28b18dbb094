// Package fanout broadcasts room snapshots to streaming observers.
package fanout

import (
	"sync"

	"senryu/internal/room"
)

// Hub keeps the live subscribers of every room. It holds channels only;
// room state always comes from the repository.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*roomSubs
}

type roomSubs struct {
	subs   map[*Subscription]struct{}
	latest int64
}

// Subscription receives snapshots for one room. C holds at most the latest
// undelivered snapshot and is closed by Close.
type Subscription struct {
	C <-chan room.Room

	ch     chan room.Room
	hub    *Hub
	roomID string
	once   sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*roomSubs)}
}

// Subscribe registers a listener for roomID.
func (h *Hub) Subscribe(roomID string) *Subscription {
	ch := make(chan room.Room, 1)
	sub := &Subscription{C: ch, ch: ch, hub: h, roomID: roomID}

	h.mu.Lock()
	rs, ok := h.rooms[roomID]
	if !ok {
		rs = &roomSubs{subs: make(map[*Subscription]struct{})}
		h.rooms[roomID] = rs
	}
	rs.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if rs, ok := s.hub.rooms[s.roomID]; ok {
			delete(rs.subs, s)
			if len(rs.subs) == 0 {
				delete(s.hub.rooms, s.roomID)
			}
		}
		close(s.ch)
	})
}

// Publish hands snap to every subscriber of its room without blocking. A
// subscriber that has not drained its previous snapshot gets it replaced.
// Snapshots not newer than one already published are dropped.
func (h *Hub) Publish(snap room.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rooms[snap.ID]
	if !ok {
		return
	}
	if snap.Version != 0 && snap.Version <= rs.latest {
		return
	}
	rs.latest = snap.Version
	for sub := range rs.subs {
		offer(sub.ch, snap.Clone())
	}
}

func offer(ch chan room.Room, snap room.Room) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Subscribers reports how many listeners roomID has.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs, ok := h.rooms[roomID]; ok {
		return len(rs.subs)
	}
	return 0
}
