package util

import "math/bits"

// BitSet is a growable set of non-negative integers.
type BitSet struct {
	words []uint64
}

// NewBitSet returns a BitSet with room for n bits before it needs to grow.
func NewBitSet(n int) *BitSet {
	return &BitSet{words: make([]uint64, (n+63)>>6)}
}

func (b *BitSet) grow(i int) {
	w := i >> 6
	if w >= len(b.words) {
		nw := make([]uint64, w+1, 2*(w+1))
		copy(nw, b.words)
		b.words = nw
	}
}

// Set adds i to the set.
func (b *BitSet) Set(i int) {
	b.grow(i)
	b.words[i>>6] |= 1 << uint(i&63)
}

// Clear removes i from the set.
func (b *BitSet) Clear(i int) {
	if i>>6 < len(b.words) {
		b.words[i>>6] &^= 1 << uint(i&63)
	}
}

// Test returns true if i is in the set.
func (b *BitSet) Test(i int) bool {
	if i < 0 || i>>6 >= len(b.words) {
		return false
	}
	return b.words[i>>6]&(1<<uint(i&63)) != 0
}

// NextSet returns the smallest member >= i, or -1.
func (b *BitSet) NextSet(i int) int {
	if i < 0 {
		i = 0
	}
	w := i >> 6
	if w >= len(b.words) {
		return -1
	}
	word := b.words[w] >> uint(i&63)
	if word != 0 {
		return i + bits.TrailingZeros64(word)
	}
	for w++; w < len(b.words); w++ {
		if b.words[w] != 0 {
			return w<<6 + bits.TrailingZeros64(b.words[w])
		}
	}
	return -1
}

// NextClear returns the smallest non-member >= i.
func (b *BitSet) NextClear(i int) int {
	if i < 0 {
		i = 0
	}
	w := i >> 6
	if w >= len(b.words) {
		return i
	}
	word := ^b.words[w] >> uint(i&63)
	if word != 0 {
		return i + bits.TrailingZeros64(word)
	}
	for w++; w < len(b.words); w++ {
		if b.words[w] != ^uint64(0) {
			return w<<6 + bits.TrailingZeros64(^b.words[w])
		}
	}
	return len(b.words) << 6
}

// Union adds every member of o.
func (b *BitSet) Union(o *BitSet) {
	if len(o.words) > len(b.words) {
		b.grow(len(o.words)<<6 - 1)
	}
	for i1, e1 := range o.words {
		b.words[i1] |= e1
	}
}

// Difference removes every member of o.
func (b *BitSet) Difference(o *BitSet) {
	for i1 := 0; i1 < len(b.words) && i1 < len(o.words); i1++ {
		b.words[i1] &^= o.words[i1]
	}
}

// Intersects returns true if b and o have a common member.
func (b *BitSet) Intersects(o *BitSet) bool {
	for i1 := 0; i1 < len(b.words) && i1 < len(o.words); i1++ {
		if b.words[i1]&o.words[i1] != 0 {
			return true
		}
	}
	return false
}

// Equal returns true if b and o hold the same members.
func (b *BitSet) Equal(o *BitSet) bool {
	n := len(b.words)
	if len(o.words) > n {
		n = len(o.words)
	}
	for i1 := 0; i1 < n; i1++ {
		var x, y uint64
		if i1 < len(b.words) {
			x = b.words[i1]
		}
		if i1 < len(o.words) {
			y = o.words[i1]
		}
		if x != y {
			return false
		}
	}
	return true
}

// Count returns the number of members.
func (b *BitSet) Count() int {
	n := 0
	for _, e1 := range b.words {
		n += bits.OnesCount64(e1)
	}
	return n
}

// Reset removes all members.
func (b *BitSet) Reset() {
	for i1 := range b.words {
		b.words[i1] = 0
	}
}

// Copy returns an independent copy of b.
func (b *BitSet) Copy() *BitSet {
	c := &BitSet{words: make([]uint64, len(b.words))}
	copy(c.words, b.words)
	return c
}

// Members returns the members in ascending order.
func (b *BitSet) Members() []int {
	res := make([]int, 0, b.Count())
	for i := b.NextSet(0); i >= 0; i = b.NextSet(i + 1) {
		res = append(res, i)
	}
	return res
}
