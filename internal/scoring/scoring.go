// Package scoring implements presenter rotation and score aggregation over a
// room. Rotation follows join order, fixed once the game starts; every player
// presents exactly once and is scored by everyone else.
package scoring

import (
	"sort"
	"time"

	"senryu/internal/room"
)

// ExpectedScorers lists, in join order, everyone who must score the current
// presenter.
func ExpectedScorers(r room.Room) []string {
	presenter, ok := r.Presenter()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.Players)-1)
	for _, p := range r.Players {
		if p.ID != presenter.ID {
			out = append(out, p.ID)
		}
	}
	return out
}

// PendingScorers lists expected scorers that have not submitted yet.
func PendingScorers(r room.Room) []string {
	presenter, ok := r.Presenter()
	if !ok {
		return nil
	}
	received := r.SubmittedScores[presenter.ID]
	var pending []string
	for _, id := range ExpectedScorers(r) {
		if _, done := received[id]; !done {
			pending = append(pending, id)
		}
	}
	return pending
}

// Complete reports whether every other player has scored the current
// presenter.
func Complete(r room.Room) bool {
	if r.GameState != room.StateScoring {
		return false
	}
	if _, ok := r.Presenter(); !ok {
		return false
	}
	return len(PendingScorers(r)) == 0
}

// EnsureTarget makes SubmittedScores[presenterID] a defined mapping.
func EnsureTarget(r *room.Room, presenterID string) {
	if r.SubmittedScores == nil {
		r.SubmittedScores = make(map[string]map[string]room.ScoreRecord)
	}
	if r.SubmittedScores[presenterID] == nil {
		r.SubmittedScores[presenterID] = make(map[string]room.ScoreRecord)
	}
}

// Advance moves the rotation past the current presenter. It returns true
// when the last player has been scored and the room entered results.
func Advance(r *room.Room, now time.Time) bool {
	next := r.CurrentPresenterIndex + 1
	if next >= len(r.Players) {
		Finalize(r, now)
		return true
	}
	r.CurrentPresenterIndex = next
	r.GameState = room.StatePresenting
	r.PresentationStarted = false
	return false
}

// Totals sums, per player, every criterion from every scorer they received.
func Totals(r room.Room) map[string]int {
	totals := make(map[string]int, len(r.Players))
	for _, p := range r.Players {
		sum := 0
		for _, rec := range r.SubmittedScores[p.ID] {
			sum += rec.Total()
		}
		totals[p.ID] = sum
	}
	return totals
}

// Rank orders players by total score descending; ties keep join order so
// the ranking is a total order.
func Rank(r room.Room) []room.Ranking {
	totals := Totals(r)
	players := append([]room.Player(nil), r.Players...)
	sort.SliceStable(players, func(i, j int) bool {
		return totals[players[i].ID] > totals[players[j].ID]
	})

	rankings := make([]room.Ranking, len(players))
	for i, p := range players {
		var senryu *room.Senryu
		if p.Senryu != nil {
			s := *p.Senryu
			senryu = &s
		}
		rankings[i] = room.Ranking{
			Rank:       i + 1,
			PlayerID:   p.ID,
			Name:       p.Name,
			TotalScore: totals[p.ID],
			Senryu:     senryu,
		}
	}
	return rankings
}

// Finalize writes every TotalScore, the rankings and enters results.
func Finalize(r *room.Room, now time.Time) {
	totals := Totals(*r)
	for i := range r.Players {
		r.Players[i].TotalScore = totals[r.Players[i].ID]
	}
	r.Results = &room.Results{Rankings: Rank(*r), CompletedAt: now.UTC()}
	r.GameState = room.StateResults
	r.PresentationStarted = false
	if len(r.Players) > 0 {
		r.CurrentPresenterIndex = len(r.Players) - 1
	}
}
