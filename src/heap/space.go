package heap

import (
	"fmt"
	"sync/atomic"

	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Role tells what a heap range is used for.
type Role int

// Space is the committed prefix of a reserved region, grown and shrunk in pages by the resize policy. Structures
// covering the space, such as mark bitmaps, subscribe to changes of its range.
type Space struct {
	role      Role
	region    *memory.Region
	listeners []func(start, end Address)
}

// Belt is a contiguous range with a bump allocation mark. The mark only moves up between resets. An expandable belt
// may grow its end up to its limit.
type Belt struct {
	role   Role
	region *memory.Region
	start  Address
	mark   atomic.Uintptr
	end    atomic.Uintptr
	limit  Address
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	MarkSweep Role = iota
	Nursery
	Mature
	Reserve
)

var roleNames = [...]string{"mark-sweep", "nursery", "mature", "reserve"}

// ---------------------
// ----- Functions -----
// ---------------------

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// NewSpace returns a space over region with size bytes committed.
func NewSpace(role Role, region *memory.Region, size int) (*Space, error) {
	if err := region.Commit(size); err != nil {
		return nil, err
	}
	return &Space{role: role, region: region}, nil
}

func (s *Space) Role() Role             { return s.role }
func (s *Space) Region() *memory.Region { return s.region }
func (s *Space) Start() Address         { return s.region.Start() }
func (s *Space) End() Address           { return s.region.CommittedEnd() }
func (s *Space) Size() int              { return s.region.Committed() }
func (s *Space) MaxSize() int           { return s.region.Size() }

// OnResize registers fn to be called with the new range whenever the space is resized, and once immediately.
func (s *Space) OnResize(fn func(start, end Address)) {
	s.listeners = append(s.listeners, fn)
	fn(s.Start(), s.End())
}

// Grow commits the space up to size bytes.
func (s *Space) Grow(size int) error {
	if size <= s.Size() {
		return nil
	}
	if err := s.region.Commit(size); err != nil {
		return err
	}
	s.publish()
	return nil
}

// Shrink uncommits the space down to size bytes. The caller must have vacated the range being released.
func (s *Space) Shrink(size int) error {
	if size >= s.Size() {
		return nil
	}
	if err := s.region.Uncommit(size); err != nil {
		return err
	}
	s.publish()
	return nil
}

func (s *Space) publish() {
	for _, e1 := range s.listeners {
		e1(s.Start(), s.End())
	}
}

// NewBelt returns an empty belt over [start, end) that may be expanded up to limit.
func NewBelt(role Role, region *memory.Region, start, end, limit Address) *Belt {
	util.Check(start <= end && end <= limit, "bad %s belt [%s, %s) limit %s", role, start, end, limit)
	b := &Belt{role: role, region: region, start: start, limit: limit}
	b.mark.Store(uintptr(start))
	b.end.Store(uintptr(end))
	return b
}

func (b *Belt) Role() Role     { return b.role }
func (b *Belt) Start() Address { return b.start }
func (b *Belt) Mark() Address  { return Address(b.mark.Load()) }
func (b *Belt) End() Address   { return Address(b.end.Load()) }
func (b *Belt) Limit() Address { return b.limit }
func (b *Belt) Size() int      { return b.End().Minus(b.start) }
func (b *Belt) Used() int      { return b.Mark().Minus(b.start) }
func (b *Belt) Free() int      { return b.End().Minus(b.Mark()) }

// Contains returns true if a lies in the allocated part of the belt.
func (b *Belt) Contains(a Address) bool {
	return a >= b.start && a < b.Mark()
}

// Covers returns true if a lies anywhere in the belt's range up to its limit.
func (b *Belt) Covers(a Address) bool {
	return a >= b.start && a < b.limit
}

// Allocate bumps the mark by size bytes and returns the old mark, or zero if the belt is full. It is safe for
// concurrent use.
func (b *Belt) Allocate(size int) Address {
	for {
		m := b.mark.Load()
		n := m + uintptr(size)
		if n > b.end.Load() {
			return 0
		}
		if b.mark.CompareAndSwap(m, n) {
			return Address(m)
		}
	}
}

// AllocateUpTo claims size bytes, or the rest of the belt if less is left but at least min bytes. It returns the
// chunk and its size, or zero.
func (b *Belt) AllocateUpTo(size, min int) (Address, int) {
	for {
		m := b.mark.Load()
		n := size
		if free := int(b.end.Load() - m); free < n {
			n = free
		}
		if n < min || n <= 0 {
			return 0, 0
		}
		if b.mark.CompareAndSwap(m, m+uintptr(n)) {
			return Address(m), n
		}
	}
}

// Reset empties the belt.
func (b *Belt) Reset() {
	b.mark.Store(uintptr(b.start))
}

// SetMark moves the mark to a.
func (b *Belt) SetMark(a Address) {
	util.Check(a >= b.start && a <= b.End(), "mark %s outside %s belt [%s, %s)", a, b.role, b.start, b.End())
	b.mark.Store(uintptr(a))
}

// SetEnd expands or retracts the belt to end.
func (b *Belt) SetEnd(end Address) {
	util.Check(end >= b.Mark() && end <= b.limit, "end %s outside %s belt [%s, %s] limit %s",
		end, b.role, b.start, b.Mark(), b.limit)
	b.end.Store(uintptr(end))
}

func (b *Belt) String() string {
	return fmt.Sprintf("%s [%s, %s, %s)", b.role, b.start, b.Mark(), b.End())
}
