// Package cards deals senryu lines from three disjoint card pools.
package cards

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"senryu/internal/room"
)

//go:embed cards.json
var defaultPools []byte

// Pools holds the upper, middle and lower card pools.
type Pools struct {
	Upper  []room.Card `json:"upper"`
	Middle []room.Card `json:"middle"`
	Lower  []room.Card `json:"lower"`
}

func (p Pools) pool(slot room.Slot) []room.Card {
	switch slot {
	case room.SlotUpper:
		return p.Upper
	case room.SlotMiddle:
		return p.Middle
	default:
		return p.Lower
	}
}

// Validate checks that every pool is non-empty and that card ids are unique
// across pools.
func (p Pools) Validate() error {
	seen := make(map[string]room.Slot)
	for _, slot := range room.Slots {
		pool := p.pool(slot)
		if len(pool) == 0 {
			return fmt.Errorf("%s pool is empty", slot)
		}
		for _, c := range pool {
			if c.ID == "" {
				return fmt.Errorf("%s pool has a card without id", slot)
			}
			if prev, ok := seen[c.ID]; ok {
				return fmt.Errorf("card %s appears in %s and %s pools", c.ID, prev, slot)
			}
			seen[c.ID] = slot
		}
	}
	return nil
}

// DefaultPools decodes the embedded card set.
func DefaultPools() (Pools, error) {
	var p Pools
	if err := json.Unmarshal(defaultPools, &p); err != nil {
		return Pools{}, fmt.Errorf("decode card pools: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pools{}, err
	}
	return p, nil
}

// Deck deals uniformly at random. It is safe for concurrent use.
type Deck struct {
	pools Pools
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewDeck builds a deck over pools; a nil rng is seeded randomly.
func NewDeck(pools Pools, rng *rand.Rand) (*Deck, error) {
	if err := pools.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Deck{pools: pools, rng: rng}, nil
}

// Deal draws each line independently.
func (d *Deck) Deal() room.Senryu {
	d.mu.Lock()
	defer d.mu.Unlock()
	return room.Senryu{
		Upper:  d.pick(d.pools.Upper),
		Middle: d.pick(d.pools.Middle),
		Lower:  d.pick(d.pools.Lower),
	}
}

// Redraw draws a replacement for slot different from current when the pool
// allows it.
func (d *Deck) Redraw(slot room.Slot, current room.Card) room.Card {
	pool := d.pools.pool(slot)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(pool) == 1 {
		return pool[0]
	}
	for {
		c := d.pick(pool)
		if c.ID != current.ID {
			return c
		}
	}
}

func (d *Deck) pick(pool []room.Card) room.Card {
	return pool[d.rng.IntN(len(pool))]
}
