// Package game is the room state machine. Every lifecycle change goes through
// Machine.Apply, which looks the (state, event) pair up in a single transition
// table and returns a Decision instead of an error. The input room is never
// mutated.
package game

import (
	"strings"
	"time"
	"unicode/utf8"

	"senryu/internal/room"
)

// Event names a requested transition.
type Event string

const (
	EventJoin               Event = "join"
	EventStartGame          Event = "start-game"
	EventRedraw             Event = "redraw"
	EventBeginPresentations Event = "begin-presentations"
	EventStartPresentation  Event = "start-presentation"
	EventAdvancePresenter   Event = "advance-presenter"
	EventSubmitScore        Event = "submit-score"
)

// Outcome tags a Decision.
type Outcome int

const (
	Applied Outcome = iota
	Unauthorized
	InvalidState
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unauthorized:
		return "unauthorized"
	case InvalidState:
		return "invalid_state"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Command is one caller request against a room.
type Command struct {
	Event    Event
	PlayerID string

	// Name is the display name for join.
	Name string
	// Slot is the line to replace for redraw.
	Slot room.Slot
	// Scores are per-criterion marks for submit-score.
	Scores map[string]int
	// Expect, when set, must equal the room's state.
	Expect room.State
}

// Decision is the result of Apply. Room holds the next aggregate when the
// outcome is Applied and the untouched input otherwise.
type Decision struct {
	Room    room.Room
	Outcome Outcome
	Reason  string

	// Rotated is set when the presenter rotation moved on.
	Rotated bool
	// Finished is set when the room entered results.
	Finished bool
}

// OK reports whether the transition was applied.
func (d Decision) OK() bool { return d.Outcome == Applied }

// Dealer hands out cards. *cards.Deck satisfies it.
type Dealer interface {
	Deal() room.Senryu
	Redraw(slot room.Slot, current room.Card) room.Card
}

const (
	DefaultMinPlayers = 2
	DefaultMaxPlayers = 12
	MaxNameLength     = 20
)

// Machine applies commands to rooms.
type Machine struct {
	dealer      Dealer
	now         func() time.Time
	autoAdvance bool
	minPlayers  int
	maxPlayers  int
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithAutoAdvance controls whether the last missing score rotates the
// presenter without a separate advance-presenter call.
func WithAutoAdvance(enabled bool) Option {
	return func(m *Machine) { m.autoAdvance = enabled }
}

// WithPlayerLimits sets the start-game minimum and the join maximum.
// Non-positive values keep the defaults.
func WithPlayerLimits(minPlayers, maxPlayers int) Option {
	return func(m *Machine) {
		if minPlayers > 0 {
			m.minPlayers = minPlayers
		}
		if maxPlayers > 0 {
			m.maxPlayers = maxPlayers
		}
	}
}

// New builds a Machine dealing from dealer.
func New(dealer Dealer, opts ...Option) *Machine {
	m := &Machine{
		dealer:      dealer,
		now:         time.Now,
		autoAdvance: true,
		minPlayers:  DefaultMinPlayers,
		maxPlayers:  DefaultMaxPlayers,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds a fresh room in waiting with the host as its only player.
func (m *Machine) Create(id, code, hostID, hostName string, cfg *room.GameConfig) Decision {
	name, ok := cleanName(hostName)
	if !ok {
		return reject(room.Room{}, Rejected, "name must be 1 to 20 characters")
	}
	if id == "" || hostID == "" {
		return reject(room.Room{}, Rejected, "room and host ids are required")
	}
	now := m.now().UTC()
	var config *room.GameConfig
	if cfg != nil {
		config = room.Room{GameConfig: cfg}.Clone().GameConfig
	}
	return Decision{
		Outcome: Applied,
		Room: room.Room{
			ID:              id,
			Code:            room.NormalizeCode(code),
			HostID:          hostID,
			Players:         []room.Player{{ID: hostID, Name: name, IsHost: true, JoinedAt: now}},
			GameState:       room.StateWaiting,
			SubmittedScores: map[string]map[string]room.ScoreRecord{},
			RedrawsUsed:     map[string]room.RedrawCounters{},
			GameConfig:      config,
			CreatedAt:       now,
		},
	}
}

// Apply runs cmd against r. Authority is checked before state so that
// callers without authority learn nothing about the room's phase.
func (m *Machine) Apply(r room.Room, cmd Command) Decision {
	if ok, reason := Authorize(r, cmd); !ok {
		return reject(r, Unauthorized, reason)
	}
	if cmd.Expect != "" && cmd.Expect != r.GameState {
		return reject(r, InvalidState, "room is "+string(r.GameState)+", not "+string(cmd.Expect))
	}
	step, ok := transitions[r.GameState][cmd.Event]
	if !ok {
		return reject(r, InvalidState, string(cmd.Event)+" is not allowed while "+string(r.GameState))
	}
	next := r.Clone()
	d := step(m, &next, cmd)
	if !d.OK() {
		d.Room = r
	}
	return d
}

// Authorize reports whether cmd.PlayerID may request cmd.Event on r.
func Authorize(r room.Room, cmd Command) (bool, string) {
	switch cmd.Event {
	case EventJoin:
		return true, ""
	case EventStartGame, EventBeginPresentations:
		if !r.IsHost(cmd.PlayerID) {
			return false, "only the host can do this"
		}
	case EventRedraw:
		if !r.HasPlayer(cmd.PlayerID) {
			return false, "caller is not in this room"
		}
	case EventStartPresentation, EventAdvancePresenter:
		if r.IsHost(cmd.PlayerID) {
			return true, ""
		}
		if p, ok := r.Presenter(); !ok || p.ID != cmd.PlayerID {
			return false, "only the host or the current presenter can do this"
		}
	case EventSubmitScore:
		if !r.HasPlayer(cmd.PlayerID) {
			return false, "caller is not in this room"
		}
		if p, ok := r.Presenter(); ok && p.ID == cmd.PlayerID {
			return false, "presenters cannot score themselves"
		}
	default:
		return false, "unknown event"
	}
	return true, ""
}

func reject(r room.Room, outcome Outcome, reason string) Decision {
	return Decision{Room: r, Outcome: outcome, Reason: reason}
}

func applied(r *room.Room) Decision {
	return Decision{Room: *r, Outcome: Applied}
}

func cleanName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n >= 1 && n <= MaxNameLength
}
