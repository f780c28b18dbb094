package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "senryu/internal/platform/errors"
	"senryu/internal/platform/i18n"
	"senryu/internal/room"
)

const maxBodyBytes = 16 << 10

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	created, hostID, err := s.rooms.CreateRoom(r.Context(), req.HostName, req.GameConfig)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: created, PlayerID: hostID})
}

func (s *Server) handleFindRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "code query parameter is required"))
		return
	}
	found, err := s.rooms.GetByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRoom(w, found)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	current, err := s.rooms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRoom(w, current)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !s.decode(w, r, &req) {
		return
	}
	joined, playerID, err := s.rooms.Join(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: joined, PlayerID: playerID})
}

func (s *Server) handleJoinByCode(w http.ResponseWriter, r *http.Request) {
	var req joinByCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	joined, playerID, err := s.rooms.JoinByCode(r.Context(), req.Code, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: joined, PlayerID: playerID})
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r)(s.rooms.StartGame(r.Context(), r.PathValue("id"), req.PlayerID))
}

func (s *Server) handleRedraw(w http.ResponseWriter, r *http.Request) {
	var req redrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Slot.Valid() {
		s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "slot must be upper, middle or lower"))
		return
	}
	s.respond(w, r)(s.rooms.Redraw(r.Context(), r.PathValue("id"), req.PlayerID, req.Slot))
}

func (s *Server) handleBeginPresentations(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r)(s.rooms.BeginPresentations(r.Context(), r.PathValue("id"), req.PlayerID))
}

func (s *Server) handleStartPresentation(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r)(s.rooms.StartPresentation(r.Context(), r.PathValue("id"), req.PlayerID))
}

func (s *Server) handleNextPresenter(w http.ResponseWriter, r *http.Request) {
	var req nextPresenterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ExpectedState != "" && !req.ExpectedState.Valid() {
		s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "unknown expectedState"))
		return
	}
	s.respond(w, r)(s.rooms.AdvancePresenter(r.Context(), r.PathValue("id"), req.PlayerID, req.ExpectedState))
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r)(s.rooms.SubmitScore(r.Context(), r.PathValue("id"), req.PlayerID, req.Scores))
}

// respond adapts a (room, error) result into a JSON reply.
func (s *Server) respond(w http.ResponseWriter, r *http.Request) func(room.Room, error) {
	return func(updated room.Room, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roomResponse{Room: updated})
	}
}

func (s *Server) writeRoom(w http.ResponseWriter, current room.Room) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Poll-Interval-Ms", strconv.FormatInt(s.cfg.PollInterval.Milliseconds(), 10))
	writeJSON(w, http.StatusOK, roomResponse{Room: current})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		s.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, msg, err))
		return false
	}
	return true
}

// writeError renders err with a localized message. Reasons for client
// mistakes are echoed as detail; server faults never leak their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	body := errorResponse{
		Error: i18n.Message(i18n.ResolveTag(r), code),
		Code:  string(code),
	}
	status := code.HTTPStatus()
	if status < http.StatusInternalServerError {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			body.Detail = appErr.Message
		}
	}
	if code.Retryable() && status != http.StatusInternalServerError {
		retryAfter := apperrors.MetadataOf(err)[apperrors.MetaRetryAfter]
		if retryAfter == "" {
			retryAfter = "1"
		}
		w.Header().Set("Retry-After", retryAfter)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
