package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "senryu/internal/platform/errors"
	"senryu/internal/room"
)

// handleEvents streams room snapshots as Server-Sent Events. Every frame is
// a full snapshot tagged with its version so clients can drop stale ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the first load so no commit between the two is lost.
	sub := s.hub.Subscribe(roomID)
	defer sub.Close()

	current, err := s.rooms.Get(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := bufio.NewWriter(w)
	send := func(snap room.Room) bool {
		if err := writeEvent(enc, snap); err != nil {
			s.logger.Debug("event stream closed", slog.String("room", roomID), slog.String("error", err.Error()))
			return false
		}
		flusher.Flush()
		return true
	}

	fmt.Fprintf(enc, "retry: %d\n\n", s.cfg.PollInterval.Milliseconds())
	if !send(current) {
		return
	}
	last := current.Version

	ticker := time.NewTicker(s.cfg.StreamKeepalive)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, open := <-sub.C:
			if !open {
				return
			}
			if snap.Version <= last {
				continue
			}
			if !send(snap) {
				return
			}
			last = snap.Version
		case <-ticker.C:
			// Commits made by other instances never reach the local hub.
			fresh, newer, gone := s.reload(ctx, roomID, last)
			if gone {
				return
			}
			if newer {
				if !send(fresh) {
					return
				}
				last = fresh.Version
				continue
			}
			enc.WriteString(": keepalive\n\n")
			if err := enc.Flush(); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// reload fetches roomID on a stream tick. newer reports a version past last;
// gone reports that the room expired and the stream should end.
func (s *Server) reload(ctx context.Context, roomID string, last int64) (fresh room.Room, newer, gone bool) {
	fresh, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return room.Room{}, false, apperrors.CodeOf(err) == apperrors.CodeNotFound
	}
	return fresh, fresh.Version > last, false
}

func writeEvent(w *bufio.Writer, snap room.Room) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	w.WriteString("event: room\n")
	w.WriteString("id: " + strconv.FormatInt(snap.Version, 10) + "\n")
	w.WriteString("data: ")
	w.Write(payload)
	w.WriteString("\n\n")
	return w.Flush()
}
