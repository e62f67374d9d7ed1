package mse

import (
	"maxvm/src/heap"
	"maxvm/src/heap/layout"
	"maxvm/src/util"
)

// MarkBitmap holds one bit per heap word. An object is white while the bit of its first word is clear, grey while
// the bits of its first two words are set, and black once only the first is set. Objects are at least two words
// long, so the second bit never belongs to another object.
type MarkBitmap struct {
	start heap.Address
	end   heap.Address
	bits  *util.BitSet
}

// NewMarkBitmap returns a bitmap covering nothing.
func NewMarkBitmap() *MarkBitmap {
	return &MarkBitmap{bits: util.NewBitSet(0)}
}

// Cover makes the bitmap cover [start, end). Existing marks are dropped.
func (b *MarkBitmap) Cover(start, end heap.Address) {
	b.start, b.end = start, end
	b.bits = util.NewBitSet(end.Minus(start) / layout.WordSize)
}

func (b *MarkBitmap) Start() heap.Address { return b.start }
func (b *MarkBitmap) End() heap.Address   { return b.end }

// Covers returns true if a lies in the covered range.
func (b *MarkBitmap) Covers(a heap.Address) bool {
	return a >= b.start && a < b.end
}

func (b *MarkBitmap) index(a heap.Address) int {
	return a.Minus(b.start) / layout.WordSize
}

func (b *MarkBitmap) IsMarked(a heap.Address) bool {
	return b.bits.Test(b.index(a))
}

func (b *MarkBitmap) IsGrey(a heap.Address) bool {
	i := b.index(a)
	return b.bits.Test(i) && b.bits.Test(i+1)
}

func (b *MarkBitmap) IsBlack(a heap.Address) bool {
	i := b.index(a)
	return b.bits.Test(i) && !b.bits.Test(i+1)
}

func (b *MarkBitmap) setGrey(a heap.Address) {
	i := b.index(a)
	b.bits.Set(i)
	b.bits.Set(i + 1)
}

func (b *MarkBitmap) setBlack(a heap.Address) {
	b.bits.Clear(b.index(a) + 1)
}

// Clear turns every object white.
func (b *MarkBitmap) Clear() {
	b.bits.Reset()
}

// NextMarked returns the first marked address at or above a, or zero.
func (b *MarkBitmap) NextMarked(a heap.Address) heap.Address {
	i := b.bits.NextSet(b.index(a))
	if i < 0 {
		return 0
	}
	m := b.start.Plus(i * layout.WordSize)
	if m >= b.end {
		return 0
	}
	return m
}

// Count returns the number of set bits.
func (b *MarkBitmap) Count() int {
	return b.bits.Count()
}

// Equal returns true if both bitmaps cover the same range with the same bits set.
func (b *MarkBitmap) Equal(o *MarkBitmap) bool {
	return b.start == o.start && b.end == o.end && b.bits.Equal(o.bits)
}

// Copy returns a snapshot of the bitmap.
func (b *MarkBitmap) Copy() *MarkBitmap {
	return &MarkBitmap{start: b.start, end: b.end, bits: b.bits.Copy()}
}
