package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"senryu/internal/room"
)

const wsWriteWait = 10 * time.Second

// handleWebsocket streams room snapshots over a WebSocket. The socket is
// push-only; inbound frames other than control frames are discarded.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	sub := s.hub.Subscribe(roomID)
	defer sub.Close()

	current, err := s.rooms.Get(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("websocket upgrade", slog.String("room", roomID), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	s.logger.Info("ws connected", slog.String("room", roomID), slog.Int("peers", s.hub.Subscribers(roomID)))
	defer s.logger.Info("ws disconnected", slog.String("room", roomID))

	closed := make(chan struct{})
	go readPump(conn, 2*s.cfg.StreamKeepalive, closed)

	send := func(snap room.Room) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(streamMessage{Type: "room", Room: snap}) == nil
	}
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
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case <-closed:
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
			fresh, newer, gone := s.reload(ctx, roomID, last)
			if gone {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room expired"),
					time.Now().Add(wsWriteWait))
				return
			}
			if newer {
				if !send(fresh) {
					return
				}
				last = fresh.Version
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump services control frames and signals when the peer goes away.
func readPump(conn *websocket.Conn, pongWait time.Duration, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
