package heap

import (
	"fmt"

	"maxvm/src/heap/layout"
	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// TLAB is a thread local allocation buffer. Objects are bump allocated between mark and top; the headroom between
// top and the hard limit is always large enough for a dead filler, so retiring the buffer keeps the heap walkable.
// A TLAB is owned by one thread and needs no locking. The zero TLAB is empty.
type TLAB struct {
	start Address
	mark  Address
	top   Address
	hard  Address
}

// Headroom is reserved at the end of every TLAB for the filler written on retirement.
const Headroom = layout.MinObjectSize

func (t *TLAB) Start() Address { return t.start }
func (t *TLAB) Mark() Address  { return t.mark }
func (t *TLAB) Top() Address   { return t.top }
func (t *TLAB) Hard() Address  { return t.hard }

// Size returns the size of the buffer including its headroom.
func (t *TLAB) Size() int { return t.hard.Minus(t.start) }

// Free returns the bytes left for allocation.
func (t *TLAB) Free() int { return t.top.Minus(t.mark) }

// IsEmpty returns true if the TLAB holds no chunk.
func (t *TLAB) IsEmpty() bool { return t.hard == 0 }

// Refill installs the chunk [chunk, chunk+size) as the buffer. The previous chunk must have been retired.
func (t *TLAB) Refill(chunk Address, size int) {
	util.Check(t.IsEmpty(), "refill of unretired TLAB %s", t)
	util.Check(size >= Headroom+layout.MinObjectSize, "TLAB chunk of %d bytes at %s is too small", size, chunk)
	t.start = chunk
	t.mark = chunk
	t.hard = chunk.Plus(size)
	t.top = t.hard.Plus(-Headroom)
}

// Allocate bumps the mark by size bytes, which must be word aligned, and returns the old mark. It returns zero
// when the request does not fit below top.
func (t *TLAB) Allocate(size int) Address {
	a := t.mark
	if t.IsEmpty() || a.Plus(size) > t.top {
		return 0
	}
	t.mark = a.Plus(size)
	return a
}

// AllocateExact allocates size bytes only if they fill the buffer exactly up to the hard limit, reaching into the
// headroom. A buffer used up this way needs no filler. It returns zero otherwise.
func (t *TLAB) AllocateExact(size int) Address {
	a := t.mark
	if t.IsEmpty() || a.Plus(size) != t.hard {
		return 0
	}
	t.mark = t.hard
	t.top = t.hard
	return a
}

// Retire fills the unused part of the buffer, from mark to the hard limit, with a dead filler and empties the TLAB.
func (t *TLAB) Retire(r *memory.Region) {
	if t.IsEmpty() {
		return
	}
	if n := t.hard.Minus(t.mark); n > 0 {
		layout.FillDead(r, t.mark, n)
	}
	*t = TLAB{}
}

func (t *TLAB) String() string {
	return fmt.Sprintf("[%s, %s, %s, %s]", t.start, t.mark, t.top, t.hard)
}
