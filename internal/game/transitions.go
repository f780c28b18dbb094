package game

import (
	"fmt"
	"sort"

	"senryu/internal/room"
	"senryu/internal/scoring"
)

type transition func(m *Machine, r *room.Room, cmd Command) Decision

// transitions is the complete lifecycle. Pairs missing here are InvalidState.
var transitions = map[room.State]map[Event]transition{
	room.StateWaiting: {
		EventJoin:      (*Machine).join,
		EventStartGame: (*Machine).startGame,
	},
	room.StateDistributing: {
		EventRedraw:             (*Machine).redraw,
		EventBeginPresentations: (*Machine).beginPresentations,
	},
	room.StatePresenting: {
		EventStartPresentation: (*Machine).startPresentation,
		EventAdvancePresenter:  (*Machine).endPresentation,
	},
	room.StateScoring: {
		EventAdvancePresenter: (*Machine).nextPresenter,
		EventSubmitScore:      (*Machine).submitScore,
	},
}

func (m *Machine) join(r *room.Room, cmd Command) Decision {
	name, ok := cleanName(cmd.Name)
	if !ok {
		return reject(*r, Rejected, "name must be 1 to 20 characters")
	}
	if cmd.PlayerID == "" {
		return reject(*r, Rejected, "player id is required")
	}
	if r.HasPlayer(cmd.PlayerID) {
		return reject(*r, Rejected, "player already joined")
	}
	if len(r.Players) >= m.maxPlayers {
		return reject(*r, Rejected, fmt.Sprintf("room is full (%d players)", m.maxPlayers))
	}
	r.Players = append(r.Players, room.Player{
		ID:       cmd.PlayerID,
		Name:     name,
		IsHost:   r.IsHost(cmd.PlayerID),
		JoinedAt: m.now().UTC(),
	})
	return applied(r)
}

func (m *Machine) startGame(r *room.Room, _ Command) Decision {
	if len(r.Players) < m.minPlayers {
		return reject(*r, Rejected, fmt.Sprintf("need at least %d players", m.minPlayers))
	}
	r.RedrawsUsed = make(map[string]room.RedrawCounters, len(r.Players))
	for i := range r.Players {
		s := m.dealer.Deal()
		r.Players[i].Senryu = &s
		r.Players[i].TotalScore = 0
		r.RedrawsUsed[r.Players[i].ID] = room.RedrawCounters{}
	}
	r.SubmittedScores = map[string]map[string]room.ScoreRecord{}
	r.Results = nil
	r.CurrentPresenterIndex = 0
	r.PresentationStarted = false
	r.GameState = room.StateDistributing
	return applied(r)
}

func (m *Machine) redraw(r *room.Room, cmd Command) Decision {
	if !cmd.Slot.Valid() {
		return reject(*r, Rejected, fmt.Sprintf("unknown slot %q", cmd.Slot))
	}
	idx := r.PlayerIndex(cmd.PlayerID)
	player := r.Players[idx]
	if player.Senryu == nil {
		return reject(*r, Rejected, "no cards dealt to this player")
	}
	used := r.RedrawsUsed[player.ID]
	if limit := r.GameConfig.RedrawLimit(); used.Get(cmd.Slot) >= limit {
		return reject(*r, Rejected, fmt.Sprintf("%s redraw limit of %d reached", cmd.Slot, limit))
	}
	card := m.dealer.Redraw(cmd.Slot, player.Senryu.Card(cmd.Slot))
	s := player.Senryu.WithCard(cmd.Slot, card)
	r.Players[idx].Senryu = &s
	if r.RedrawsUsed == nil {
		r.RedrawsUsed = map[string]room.RedrawCounters{}
	}
	r.RedrawsUsed[player.ID] = used.Inc(cmd.Slot)
	return applied(r)
}

func (m *Machine) beginPresentations(r *room.Room, _ Command) Decision {
	if len(r.Players) == 0 {
		return reject(*r, Rejected, "room has no players")
	}
	r.GameState = room.StatePresenting
	r.CurrentPresenterIndex = 0
	r.PresentationStarted = false
	return applied(r)
}

func (m *Machine) startPresentation(r *room.Room, _ Command) Decision {
	r.PresentationStarted = true
	return applied(r)
}

// endPresentation moves the current presenter into scoring and guarantees
// their score map exists.
func (m *Machine) endPresentation(r *room.Room, _ Command) Decision {
	presenter, ok := r.Presenter()
	if !ok {
		return reject(*r, InvalidState, "no current presenter")
	}
	r.GameState = room.StateScoring
	r.PresentationStarted = false
	scoring.EnsureTarget(r, presenter.ID)
	return applied(r)
}

// nextPresenter rotates once every score is in. The host may force it.
func (m *Machine) nextPresenter(r *room.Room, cmd Command) Decision {
	if !scoring.Complete(*r) && !r.IsHost(cmd.PlayerID) {
		return reject(*r, InvalidState, "scores are still pending")
	}
	return m.rotate(r)
}

func (m *Machine) submitScore(r *room.Room, cmd Command) Decision {
	presenter, ok := r.Presenter()
	if !ok {
		return reject(*r, InvalidState, "no current presenter")
	}
	scores, err := validateScores(r.GameConfig.ScoringCriteria(), cmd.Scores)
	if err != nil {
		return reject(*r, Rejected, err.Error())
	}
	scoring.EnsureTarget(r, presenter.ID)
	// A repeat submission replaces the earlier one.
	r.SubmittedScores[presenter.ID][cmd.PlayerID] = room.ScoreRecord{
		Scores:      scores,
		SubmittedAt: m.now().UTC(),
	}
	if m.autoAdvance && scoring.Complete(*r) {
		return m.rotate(r)
	}
	return applied(r)
}

func (m *Machine) rotate(r *room.Room) Decision {
	finished := scoring.Advance(r, m.now())
	d := applied(r)
	d.Rotated = true
	d.Finished = finished
	return d
}

func validateScores(criteria []string, scores map[string]int) (map[string]int, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("scores are required")
	}
	allowed := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		allowed[c] = true
	}
	var unknown []string
	for k := range scores {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown criteria %v", unknown)
	}
	out := make(map[string]int, len(criteria))
	for _, c := range criteria {
		v, ok := scores[c]
		if !ok {
			return nil, fmt.Errorf("missing score for %s", c)
		}
		if v < room.MinScore || v > room.MaxScore {
			return nil, fmt.Errorf("score for %s must be between %d and %d", c, room.MinScore, room.MaxScore)
		}
		out[c] = v
	}
	return out, nil
}
