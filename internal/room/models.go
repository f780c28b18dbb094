package room

import "time"

// State is the lifecycle phase of a room.
type State string

const (
	StateWaiting      State = "waiting"
	StateDistributing State = "distributing"
	StatePresenting   State = "presenting"
	StateScoring      State = "scoring"
	StateResults      State = "results"
)

// Valid reports whether s is one of the known phases.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateDistributing, StatePresenting, StateScoring, StateResults:
		return true
	}
	return false
}

// Slot names one of the three lines of a senryu.
type Slot string

const (
	SlotUpper  Slot = "upper"
	SlotMiddle Slot = "middle"
	SlotLower  Slot = "lower"
)

// Slots lists the senryu lines in reading order.
var Slots = []Slot{SlotUpper, SlotMiddle, SlotLower}

// Valid reports whether s names a senryu line.
func (s Slot) Valid() bool {
	return s == SlotUpper || s == SlotMiddle || s == SlotLower
}

// Card is one dealt phrase.
type Card struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Senryu is a player's three-line poem.
type Senryu struct {
	Upper  Card `json:"upper"`
	Middle Card `json:"middle"`
	Lower  Card `json:"lower"`
}

// Card returns the card dealt into slot.
func (s Senryu) Card(slot Slot) Card {
	switch slot {
	case SlotUpper:
		return s.Upper
	case SlotMiddle:
		return s.Middle
	default:
		return s.Lower
	}
}

// WithCard returns a copy of s with slot replaced.
func (s Senryu) WithCard(slot Slot, c Card) Senryu {
	switch slot {
	case SlotUpper:
		s.Upper = c
	case SlotMiddle:
		s.Middle = c
	case SlotLower:
		s.Lower = c
	}
	return s
}

// Player is a room member. Order within Room.Players is join order.
type Player struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IsHost     bool      `json:"isHost"`
	Senryu     *Senryu   `json:"senryu,omitempty"`
	TotalScore int       `json:"totalScore"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// ScoreRecord is one scorer's marks for one presenter, keyed by criterion.
type ScoreRecord struct {
	Scores      map[string]int `json:"scores"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// Total sums the per-criterion marks.
func (r ScoreRecord) Total() int {
	total := 0
	for _, v := range r.Scores {
		total += v
	}
	return total
}

// RedrawCounters tracks redraws spent per card type.
type RedrawCounters struct {
	Upper  int `json:"upper"`
	Middle int `json:"middle"`
	Lower  int `json:"lower"`
}

// Get returns the counter for slot.
func (c RedrawCounters) Get(slot Slot) int {
	switch slot {
	case SlotUpper:
		return c.Upper
	case SlotMiddle:
		return c.Middle
	default:
		return c.Lower
	}
}

// Inc returns c with the slot counter incremented.
func (c RedrawCounters) Inc(slot Slot) RedrawCounters {
	switch slot {
	case SlotUpper:
		c.Upper++
	case SlotMiddle:
		c.Middle++
	case SlotLower:
		c.Lower++
	}
	return c
}

// GameConfig is supplied by the game-setup UI. The orchestrator only reads
// the redraw limit and scoring criteria.
type GameConfig struct {
	PresentationSeconds int      `json:"presentationSeconds,omitempty"`
	ScoringSeconds      int      `json:"scoringSeconds,omitempty"`
	MaxRedraws          *int     `json:"maxRedraws,omitempty"`
	Criteria            []string `json:"criteria,omitempty"`
}

const (
	// DefaultMaxRedraws applies per card type when the config omits it.
	DefaultMaxRedraws = 1
	MinScore          = 1
	MaxScore          = 5
)

// DefaultCriteria are scored when the config names none.
var DefaultCriteria = []string{"wordplay", "cloudNative", "humor"}

// RedrawLimit resolves the per-card-type redraw allowance.
func (c *GameConfig) RedrawLimit() int {
	if c == nil || c.MaxRedraws == nil || *c.MaxRedraws < 0 {
		return DefaultMaxRedraws
	}
	return *c.MaxRedraws
}

// ScoringCriteria resolves the criteria scorers must fill.
func (c *GameConfig) ScoringCriteria() []string {
	if c == nil || len(c.Criteria) == 0 {
		return DefaultCriteria
	}
	return c.Criteria
}

// Ranking is one line of the final standings.
type Ranking struct {
	Rank       int     `json:"rank"`
	PlayerID   string  `json:"playerId"`
	Name       string  `json:"name"`
	TotalScore int     `json:"totalScore"`
	Senryu     *Senryu `json:"senryu,omitempty"`
}

// Results is populated on entering StateResults.
type Results struct {
	Rankings    []Ranking `json:"rankings"`
	CompletedAt time.Time `json:"completedAt"`
}

// Room is the aggregate root of one game session.
type Room struct {
	ID                    string                            `json:"id"`
	Code                  string                            `json:"code"`
	HostID                string                            `json:"hostId"`
	Players               []Player                          `json:"players"`
	GameState             State                             `json:"gameState"`
	CurrentPresenterIndex int                               `json:"currentPresenterIndex"`
	PresentationStarted   bool                              `json:"presentationStarted"`
	SubmittedScores       map[string]map[string]ScoreRecord `json:"submittedScores"`
	GameConfig            *GameConfig                       `json:"gameConfig,omitempty"`
	RedrawsUsed           map[string]RedrawCounters         `json:"redrawsUsed"`
	Results               *Results                          `json:"results,omitempty"`
	CreatedAt             time.Time                         `json:"createdAt"`
	UpdatedAt             time.Time                         `json:"updatedAt"`
	Version               int64                             `json:"version"`
}

// PlayerIndex returns the position of id in join order, or -1.
func (r Room) PlayerIndex(id string) int {
	for i, p := range r.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// HasPlayer reports whether id is a member.
func (r Room) HasPlayer(id string) bool {
	return r.PlayerIndex(id) >= 0
}

// IsHost reports whether id holds host authority. HostID is authoritative;
// Player.IsHost is a convenience copy.
func (r Room) IsHost(id string) bool {
	return id != "" && r.HostID == id
}

// Presenter returns the current presenter when one is defined.
func (r Room) Presenter() (Player, bool) {
	if r.GameState != StatePresenting && r.GameState != StateScoring {
		return Player{}, false
	}
	if r.CurrentPresenterIndex < 0 || r.CurrentPresenterIndex >= len(r.Players) {
		return Player{}, false
	}
	return r.Players[r.CurrentPresenterIndex], true
}

// Clone deep-copies the aggregate so a transition never aliases its input.
func (r Room) Clone() Room {
	out := r
	if r.Players != nil {
		out.Players = make([]Player, len(r.Players))
		for i, p := range r.Players {
			if p.Senryu != nil {
				s := *p.Senryu
				p.Senryu = &s
			}
			out.Players[i] = p
		}
	}
	if r.SubmittedScores != nil {
		out.SubmittedScores = make(map[string]map[string]ScoreRecord, len(r.SubmittedScores))
		for presenter, byScorer := range r.SubmittedScores {
			inner := make(map[string]ScoreRecord, len(byScorer))
			for scorer, rec := range byScorer {
				scores := make(map[string]int, len(rec.Scores))
				for k, v := range rec.Scores {
					scores[k] = v
				}
				rec.Scores = scores
				inner[scorer] = rec
			}
			out.SubmittedScores[presenter] = inner
		}
	}
	if r.GameConfig != nil {
		cfg := *r.GameConfig
		if cfg.MaxRedraws != nil {
			n := *cfg.MaxRedraws
			cfg.MaxRedraws = &n
		}
		cfg.Criteria = append([]string(nil), cfg.Criteria...)
		out.GameConfig = &cfg
	}
	if r.RedrawsUsed != nil {
		out.RedrawsUsed = make(map[string]RedrawCounters, len(r.RedrawsUsed))
		for k, v := range r.RedrawsUsed {
			out.RedrawsUsed[k] = v
		}
	}
	if r.Results != nil {
		res := *r.Results
		res.Rankings = nil
		if r.Results.Rankings != nil {
			res.Rankings = make([]Ranking, len(r.Results.Rankings))
		}
		for i, rk := range r.Results.Rankings {
			if rk.Senryu != nil {
				s := *rk.Senryu
				rk.Senryu = &s
			}
			res.Rankings[i] = rk
		}
		out.Results = &res
	}
	return out
}
