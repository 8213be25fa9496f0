package feed

import (
	"sync"

	"github.com/posterwall/backend/internal/models"
)

// Sink receives rendered cards. It stands in for the page's grid container.
type Sink interface {
	Append(cards []Card)
	Clear()
	Update(card Card) bool
	UpdateImage(id models.RecordID, src string) bool
}

// Grid is the server-held render target clients poll.
type Grid struct {
	mu      sync.RWMutex
	cards   []Card
	version uint64
}

// NewGrid returns an empty grid.
func NewGrid() *Grid {
	return &Grid{}
}

// Append adds cards after the live ones.
func (g *Grid) Append(cards []Card) {
	g.mu.Lock()
	g.cards = append(g.cards, cards...)
	g.version++
	g.mu.Unlock()
}

// Clear removes every card.
func (g *Grid) Clear() {
	g.mu.Lock()
	g.cards = nil
	g.version++
	g.mu.Unlock()
}

// Update replaces the card with the same id, keeping its position.
func (g *Grid) Update(card Card) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.cards {
		if g.cards[i].ID == card.ID {
			card.Index = g.cards[i].Index
			g.cards[i] = card
			g.version++
			return true
		}
	}
	return false
}

// UpdateImage swaps only the image source of a live card, in its markup too.
func (g *Grid) UpdateImage(id models.RecordID, src string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.cards {
		if g.cards[i].ID == id {
			html, err := withImage(g.cards[i].HTML, src)
			if err != nil {
				return false
			}
			g.cards[i].Image = src
			g.cards[i].HTML = html
			g.version++
			return true
		}
	}
	return false
}

// Cards returns a copy of the rendered cards in order.
func (g *Grid) Cards() []Card {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Card(nil), g.cards...)
}

// Card returns the live card for id.
func (g *Grid) Card(id models.RecordID) (Card, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// Version increments on every change so clients can skip unchanged polls.
func (g *Grid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}
