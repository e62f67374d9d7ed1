package belt

import (
	"sync/atomic"

	"maxvm/src/heap"
)

// CardTable remembers which parts of the mature belt were written since the last collection. The write barrier
// dirties the card holding the header of the object written, so a minor collection only has to scan the objects
// starting in dirty cards for references into the nursery.
type CardTable struct {
	start heap.Address
	cards []atomic.Bool
}

const (
	CardShift = 9
	CardSize  = 1 << CardShift
)

// NewCardTable returns a clean card table covering size bytes from start.
func NewCardTable(start heap.Address, size int) *CardTable {
	return &CardTable{
		start: start,
		cards: make([]atomic.Bool, (size+CardSize-1)/CardSize),
	}
}

// Index returns the card holding a.
func (c *CardTable) Index(a heap.Address) int {
	return a.Minus(c.start) >> CardShift
}

// Covers returns true if a has a card.
func (c *CardTable) Covers(a heap.Address) bool {
	return a >= c.start && c.Index(a) < len(c.cards)
}

// Mark dirties the card holding a. It is safe for concurrent use.
func (c *CardTable) Mark(a heap.Address) {
	if c.Covers(a) {
		c.cards[c.Index(a)].Store(true)
	}
}

func (c *CardTable) IsDirty(a heap.Address) bool {
	return c.Covers(a) && c.cards[c.Index(a)].Load()
}

// Dirty returns the number of dirty cards.
func (c *CardTable) Dirty() int {
	n := 0
	for i1 := range c.cards {
		if c.cards[i1].Load() {
			n++
		}
	}
	return n
}

// Clear cleans every card.
func (c *CardTable) Clear() {
	for i1 := range c.cards {
		c.cards[i1].Store(false)
	}
}
