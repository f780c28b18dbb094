// Package orchestrator runs room use cases against the store. Each call
// loads a fresh room, checks and applies one state machine transition,
// persists the whole aggregate and publishes the saved snapshot. Nothing is
// cached between calls.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"senryu/internal/game"
	"senryu/internal/lock"
	apperrors "senryu/internal/platform/errors"
	"senryu/internal/platform/otel"
	"senryu/internal/room"
)

// Repository persists rooms. *room.Repository satisfies it.
type Repository interface {
	Load(ctx context.Context, id string) (room.Room, error)
	Save(ctx context.Context, r room.Room) (room.Room, error)
	ReserveCode(ctx context.Context, code, roomID string) (bool, error)
	FindByCode(ctx context.Context, code string) (room.Room, error)
}

// Locker guards advance-presenter. *lock.Lock satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key, owner string) (*lock.Lease, error)
	Release(ctx context.Context, lease *lock.Lease) error
}

// Publisher receives every saved snapshot. *fanout.Hub satisfies it.
type Publisher interface {
	Publish(r room.Room)
}

const codeAttempts = 16

// Service implements the room operations.
type Service struct {
	repo      Repository
	locker    Locker
	machine   *game.Machine
	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	newID     func() string
	newCode   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher sets where saved snapshots go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithIDGenerator overrides uuid room and player ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithCodeGenerator overrides random shareable codes.
func WithCodeGenerator(fn func() string) Option {
	return func(s *Service) { s.newCode = fn }
}

// New builds a Service.
func New(repo Repository, locker Locker, machine *game.Machine, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		locker:  locker,
		machine: machine,
		logger:  slog.Default(),
		tracer:  otel.Tracer("senryu/orchestrator"),
		newID:   uuid.NewString,
		newCode: func() string { return room.NewCode(nil) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom opens a room in waiting with the caller as host.
func (s *Service) CreateRoom(ctx context.Context, hostName string, cfg *room.GameConfig) (room.Room, string, error) {
	ctx, span := s.start(ctx, "CreateRoom", "", "")
	defer span.End()

	roomID, hostID := s.newID(), s.newID()
	d := s.machine.Create(roomID, "", hostID, hostName, cfg)
	if !d.OK() {
		return room.Room{}, "", s.fail(ctx, span, "create room", rejection(d))
	}

	code, err := s.reserveCode(ctx, roomID)
	if err != nil {
		return room.Room{}, "", s.fail(ctx, span, "create room", err)
	}
	d.Room.Code = code

	saved, err := s.repo.Save(ctx, d.Room)
	if err != nil {
		return room.Room{}, "", s.fail(ctx, span, "create room", err)
	}
	s.logger.Info("room created", slog.String("room", saved.ID), slog.String("code", saved.Code))
	return saved, hostID, nil
}

func (s *Service) reserveCode(ctx context.Context, roomID string) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := room.NormalizeCode(s.newCode())
		ok, err := s.repo.ReserveCode(ctx, code, roomID)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeStoreFailure, "reserve code", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", apperrors.New(apperrors.CodeStoreFailure, "no free room code")
}

// Get returns the current snapshot.
func (s *Service) Get(ctx context.Context, roomID string) (room.Room, error) {
	ctx, span := s.start(ctx, "Get", roomID, "")
	defer span.End()

	r, err := s.repo.Load(ctx, roomID)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, "get room", err)
	}
	return r, nil
}

// GetByCode resolves a shareable code.
func (s *Service) GetByCode(ctx context.Context, code string) (room.Room, error) {
	ctx, span := s.start(ctx, "GetByCode", "", "")
	defer span.End()

	r, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, "get room by code", err)
	}
	return r, nil
}

// Join adds a new player and returns their id.
func (s *Service) Join(ctx context.Context, roomID, name string) (room.Room, string, error) {
	playerID := s.newID()
	r, err := s.apply(ctx, "Join", roomID, game.Command{Event: game.EventJoin, PlayerID: playerID, Name: name})
	if err != nil {
		return room.Room{}, "", err
	}
	return r, playerID, nil
}

// JoinByCode joins the room a shareable code points at.
func (s *Service) JoinByCode(ctx context.Context, code, name string) (room.Room, string, error) {
	r, err := s.GetByCode(ctx, code)
	if err != nil {
		return room.Room{}, "", err
	}
	return s.Join(ctx, r.ID, name)
}

// StartGame deals cards and moves the room to distributing.
func (s *Service) StartGame(ctx context.Context, roomID, playerID string) (room.Room, error) {
	return s.apply(ctx, "StartGame", roomID, game.Command{Event: game.EventStartGame, PlayerID: playerID})
}

// Redraw replaces one of the caller's cards.
func (s *Service) Redraw(ctx context.Context, roomID, playerID string, slot room.Slot) (room.Room, error) {
	return s.apply(ctx, "Redraw", roomID, game.Command{Event: game.EventRedraw, PlayerID: playerID, Slot: slot})
}

// BeginPresentations puts the first player on stage.
func (s *Service) BeginPresentations(ctx context.Context, roomID, playerID string) (room.Room, error) {
	return s.apply(ctx, "BeginPresentations", roomID, game.Command{Event: game.EventBeginPresentations, PlayerID: playerID})
}

// StartPresentation flags the current presenter as speaking.
func (s *Service) StartPresentation(ctx context.Context, roomID, playerID string) (room.Room, error) {
	return s.apply(ctx, "StartPresentation", roomID, game.Command{Event: game.EventStartPresentation, PlayerID: playerID})
}

// SubmitScore records the caller's marks for the current presenter.
func (s *Service) SubmitScore(ctx context.Context, roomID, playerID string, scores map[string]int) (room.Room, error) {
	return s.apply(ctx, "SubmitScore", roomID, game.Command{Event: game.EventSubmitScore, PlayerID: playerID, Scores: scores})
}

// AdvancePresenter ends the current presentation, or rotates to the next
// presenter once scoring is done. It is the only operation guarded by the
// distributed lock. Authority is checked before the lock is touched, and a
// held lock leaves the room untouched. expect, when non-empty, must match
// the room's state.
func (s *Service) AdvancePresenter(ctx context.Context, roomID, playerID string, expect room.State) (room.Room, error) {
	ctx, span := s.start(ctx, "AdvancePresenter", roomID, playerID)
	defer span.End()
	const op = "advance presenter"

	cmd := game.Command{Event: game.EventAdvancePresenter, PlayerID: playerID, Expect: expect}
	current, err := s.repo.Load(ctx, roomID)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, op, err)
	}
	if ok, reason := game.Authorize(current, cmd); !ok {
		return room.Room{}, s.fail(ctx, span, op, apperrors.New(apperrors.CodeUnauthorized, reason))
	}

	lease, err := s.locker.Acquire(ctx, lock.PresentationEndKey(roomID), playerID)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, op, err)
	}
	defer s.release(lease)

	// Re-read under the lock so a request queued behind another one sees
	// its result.
	current, err = s.repo.Load(ctx, roomID)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, op, err)
	}
	return s.commit(ctx, span, op, current, cmd)
}

func (s *Service) release(lease *lock.Lease) {
	if err := s.locker.Release(context.Background(), lease); err != nil {
		s.logger.Warn("release lock", slog.String("key", lease.Key), slog.String("error", err.Error()))
	}
}

// apply is the unguarded load-transition-save-publish path.
func (s *Service) apply(ctx context.Context, name, roomID string, cmd game.Command) (room.Room, error) {
	ctx, span := s.start(ctx, name, roomID, cmd.PlayerID)
	defer span.End()
	op := string(cmd.Event)

	current, err := s.repo.Load(ctx, roomID)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, op, err)
	}
	return s.commit(ctx, span, op, current, cmd)
}

func (s *Service) commit(ctx context.Context, span trace.Span, op string, current room.Room, cmd game.Command) (room.Room, error) {
	d := s.machine.Apply(current, cmd)
	if !d.OK() {
		return room.Room{}, s.fail(ctx, span, op, rejection(d))
	}
	saved, err := s.repo.Save(ctx, d.Room)
	if err != nil {
		return room.Room{}, s.fail(ctx, span, op, err)
	}
	if d.Rotated {
		span.AddEvent("presenter rotated", trace.WithAttributes(attribute.Bool("finished", d.Finished)))
	}
	if d.Finished {
		s.logger.Info("game finished", slog.String("room", saved.ID))
	}
	if s.publisher != nil {
		s.publisher.Publish(saved)
	}
	return saved, nil
}

func rejection(d game.Decision) error {
	code := apperrors.CodeInvalidArgument
	switch d.Outcome {
	case game.Unauthorized:
		code = apperrors.CodeUnauthorized
	case game.InvalidState:
		code = apperrors.CodeInvalidState
	}
	return apperrors.New(code, d.Reason)
}

// fail converts err into an *apperrors.Error, logs it by kind and records it
// on the span.
func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	var out *apperrors.Error
	switch {
	case errors.As(err, &out):
	case errors.Is(err, room.ErrNotFound):
		out = apperrors.Wrap(apperrors.CodeNotFound, "room not found", err)
	case errors.Is(err, room.ErrMalformedState):
		out = apperrors.Wrap(apperrors.CodeMalformedState, "room state corrupted", err)
	case errors.Is(err, room.ErrVersionConflict):
		out = apperrors.Wrap(apperrors.CodeLockConflict, "room changed concurrently", err)
	case errors.Is(err, lock.ErrConflict):
		out = lockConflict(err)
	default:
		out = apperrors.Wrap(apperrors.CodeStoreFailure, "store failure", err)
	}

	attrs := []any{slog.String("op", op), slog.String("code", string(out.Code)), slog.String("error", out.Error())}
	switch out.Code {
	case apperrors.CodeMalformedState:
		s.logger.ErrorContext(ctx, "room state corrupted", attrs...)
	case apperrors.CodeStoreFailure, apperrors.CodeUnknown:
		s.logger.ErrorContext(ctx, "store failure", attrs...)
	case apperrors.CodeUnauthorized:
		s.logger.WarnContext(ctx, "unauthorized", attrs...)
	default:
		s.logger.InfoContext(ctx, "request rejected", attrs...)
	}

	span.SetAttributes(attribute.String("error.code", string(out.Code)))
	span.SetStatus(otelcodes.Error, string(out.Code))
	return out
}

// lockConflict describes a held lock, with a retry hint for when it goes stale.
func lockConflict(err error) *apperrors.Error {
	msg, meta := "lock held", map[string]string{}
	var held *lock.ConflictError
	if errors.As(err, &held) && held.Owner != "" {
		msg = "presentation end already in progress for " + held.Age.Round(time.Second).String()
		meta[apperrors.MetaRetryAfter] = strconv.Itoa(max(1, int(math.Ceil(held.RetryIn.Seconds()))))
	}
	out := apperrors.WithMetadata(apperrors.CodeLockConflict, msg, meta)
	out.Cause = err
	return out
}

func (s *Service) start(ctx context.Context, name, roomID, playerID string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, 2)
	if roomID != "" {
		attrs = append(attrs, attribute.String("room.id", roomID))
	}
	if playerID != "" {
		attrs = append(attrs, attribute.String("player.id", playerID))
	}
	return s.tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(attrs...))
}
