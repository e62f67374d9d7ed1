package heap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"maxvm/src/heap/layout"
	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// bumpScheme allocates from a single belt and never reclaims anything.
type bumpScheme struct {
	region      *memory.Region
	belt        *Belt
	sp          *Safepoints
	collector   *CollectorThread
	tlabSize    int
	collections int
}

func newBumpScheme(t *testing.T, size, tlabSize int) *bumpScheme {
	r := newRegion(t, size)
	s := &bumpScheme{
		region:   r,
		belt:     NewBelt(Nursery, r, r.Start(), r.CommittedEnd(), r.CommittedEnd()),
		sp:       NewSafepoints(),
		tlabSize: tlabSize,
	}
	s.collector = StartCollector(s.sp, s.collect)
	t.Cleanup(s.Close)
	return s
}

func (s *bumpScheme) collect(reason Reason, size int) bool {
	s.sp.RetireTLABs(s.region)
	s.collections++
	return s.CanSatisfyAllocation(size)
}

func (s *bumpScheme) TryAllocate(size int) Address { return s.belt.Allocate(size) }

func (s *bumpScheme) TryAllocateTLAB(size int) (Address, int) {
	if a := s.belt.Allocate(size); a != 0 {
		return a, size
	}
	return 0, 0
}

func (s *bumpScheme) CanSatisfyAllocation(size int) bool { return s.belt.Free() >= size }
func (s *bumpScheme) Collect(reason Reason, size int) bool {
	return s.collector.Request(reason, size)
}
func (s *bumpScheme) Allocate(size int) Address { return AllocateOrCollect(s, size) }
func (s *bumpScheme) WriteBarrier(Address)      {}
func (s *bumpScheme) TLABSize() int             { return s.tlabSize }
func (s *bumpScheme) Region() *memory.Region    { return s.region }
func (s *bumpScheme) Safepoints() *Safepoints   { return s.sp }
func (s *bumpScheme) Close()                    { s.collector.Stop() }

func (s *bumpScheme) Walk(fn func(a Address, h uint64) bool) {
	layout.Walk(s.region, s.belt.Start(), s.belt.Mark(), fn)
}

func (s *bumpScheme) Stats() Stats {
	return Stats{Scheme: "bump", Collections: s.collections, Committed: s.region.Committed(), Used: s.belt.Used()}
}

// stealingScheme loses the space freed by its next collections to other mutators.
type stealingScheme struct {
	*bumpScheme
	steals int
}

func (s *stealingScheme) TryAllocate(size int) Address {
	if s.steals > 0 {
		return 0
	}
	return s.bumpScheme.TryAllocate(size)
}

func (s *stealingScheme) TryAllocateTLAB(size int) (Address, int) {
	if s.steals > 0 {
		return 0, 0
	}
	return s.bumpScheme.TryAllocateTLAB(size)
}

func (s *stealingScheme) Collect(reason Reason, size int) bool {
	if s.steals > 0 {
		s.steals--
	}
	return s.bumpScheme.Collect(reason, size)
}

func (s *stealingScheme) Allocate(size int) Address { return AllocateOrCollect(s, size) }

// cells walks the scheme and returns the tags and sizes of all cells.
func cells(s Scheme) (tags []layout.Tag, sizes []int) {
	s.Walk(func(a Address, h uint64) bool {
		tags = append(tags, layout.TagOf(h))
		sizes = append(sizes, layout.SizeOf(h))
		return true
	})
	return tags, sizes
}

// fatal runs fn and returns the message of the FatalError it raises.
func fatal(t *testing.T, fn func()) (msg string) {
	defer func() {
		fe := util.AsFatal(recover())
		require.NotNil(t, fe, "expected fatal error")
		msg = fe.Msg
	}()
	fn()
	return ""
}

func TestTLAB(t *testing.T) {
	r := newRegion(t, memory.PageSize())
	var tl TLAB
	require.True(t, tl.IsEmpty())
	require.Zero(t, tl.Allocate(16))

	tl.Refill(r.Start(), 128)
	require.Equal(t, 128-Headroom, tl.Free())
	require.Equal(t, r.Start(), tl.Allocate(64))
	require.Zero(t, tl.Allocate(56), "allocation must not reach into the headroom")
	require.Equal(t, r.Start().Plus(64), tl.Allocate(48))
	require.Zero(t, tl.Free())
	require.Zero(t, tl.AllocateExact(8))
	require.Panics(t, func() { tl.Refill(r.Start(), 128) })

	// The filler covers the headroom.
	layout.WriteObject(r, r.Start(), 64, 0, 0)
	layout.WriteObject(r, r.Start().Plus(64), 48, 0, 0)
	tl.Retire(r)
	require.True(t, tl.IsEmpty())
	h := r.Word(r.Start().Plus(112))
	require.Equal(t, layout.TagDead, layout.TagOf(h))
	require.Equal(t, Headroom, layout.SizeOf(h))

	// A request ending exactly at the hard limit takes the headroom and leaves nothing to fill.
	b := r.Start().Plus(256)
	tl.Refill(b, 64)
	require.Zero(t, tl.Allocate(64))
	require.Zero(t, tl.AllocateExact(56))
	require.Equal(t, b, tl.AllocateExact(64))
	require.Equal(t, tl.Hard(), tl.Mark())
	require.Zero(t, tl.Free())
	layout.WriteObject(r, b, 64, 0, 0)
	tl.Retire(r)
	require.Equal(t, layout.TagObject, layout.TagOf(r.Word(b)))
	require.Equal(t, 64, layout.SizeOf(r.Word(b)))
}

// TestTLABDirectFallback requests more than the TLAB has left while the TLAB is still well filled: the request is
// served outside the TLAB and the TLAB is left untouched.
func TestTLABDirectFallback(t *testing.T) {
	s := newBumpScheme(t, memory.PageSize(), 256)
	th := NewThread("main", s)
	th.Enter()
	defer th.Close()

	th.AllocateObject(16, 0, 0)
	th.AllocateObject(160, 1, 0)
	tl := th.TLAB()
	require.Equal(t, 64, tl.Free())
	mark, hard := tl.Mark(), tl.Hard()

	a := th.AllocateObject(70, 0, 0)
	require.GreaterOrEqual(t, uintptr(a), uintptr(hard))
	require.Equal(t, mark, tl.Mark())
	require.Equal(t, 64, tl.Free())
	st := th.Stats()
	require.Equal(t, 1, st.Refills)
	require.Equal(t, 1, st.Direct)

	// Retiring writes the filler from the mark to the hard limit, and the heap stays walkable.
	tl.Retire(s.Region())
	tags, sizes := cells(s)
	require.Equal(t, []layout.Tag{layout.TagObject, layout.TagObject, layout.TagDead, layout.TagObject}, tags)
	require.Equal(t, []int{16, 160, 80, 72}, sizes)
}

// TestTLABRefill exhausts the TLAB: the old buffer is retired with a filler and a new one is claimed. A request
// that fills the new buffer exactly up to its hard limit takes the headroom instead of refilling again.
func TestTLABRefill(t *testing.T) {
	s := newBumpScheme(t, memory.PageSize(), 256)
	th := NewThread("main", s)
	th.Enter()
	defer th.Close()

	th.AllocateObject(128, 0, 0)
	require.Equal(t, 112, th.TLAB().Free())
	th.AllocateObject(96, 0, 0)
	require.Equal(t, 16, th.TLAB().Free())

	first := th.TLAB().Start()
	th.AllocateObject(24, 0, 0)
	require.Equal(t, first.Plus(256), th.TLAB().Start())
	require.Equal(t, 216, th.TLAB().Free())
	require.Equal(t, 2, th.Stats().Refills)
	require.Zero(t, th.Stats().Direct)

	th.AllocateObject(128, 0, 0)
	th.AllocateObject(80, 0, 0)
	require.Equal(t, 8, th.TLAB().Free())
	a := th.AllocateObject(24, 0, 0)
	require.Equal(t, th.TLAB().Hard(), a.Plus(24))
	require.Zero(t, th.TLAB().Free())
	require.Equal(t, 2, th.Stats().Refills)

	// Requests beyond half a TLAB always go direct.
	th.AllocateObject(200, 0, 0)
	require.Equal(t, 1, th.Stats().Direct)

	s.sp.RetireTLABs(s.Region())
	tags, sizes := cells(s)
	require.Equal(t, []layout.Tag{
		layout.TagObject, layout.TagObject, layout.TagDead,
		layout.TagObject, layout.TagObject, layout.TagObject, layout.TagObject,
		layout.TagObject,
	}, tags)
	require.Equal(t, []int{128, 96, 32, 24, 128, 80, 24, 200}, sizes)
}

// TestOutOfMemory fills the heap: a request for one byte more than what is left collects once and then fails. A
// thread whose TLAB cannot be refilled still allocates a request that fits directly, without collecting.
func TestOutOfMemory(t *testing.T) {
	s := newBumpScheme(t, memory.PageSize(), 256)
	left := s.belt.Free() - 64
	s.Allocate(left)
	msg := fatal(t, func() { s.Allocate(65) })
	require.Contains(t, msg, "out of memory: cannot allocate 72 bytes")
	require.Equal(t, 1, s.collections)

	th := NewThread("main", s)
	th.Enter()
	defer th.Close()
	a := th.Allocate(64)
	require.NotZero(t, a)
	require.Equal(t, 1, th.Stats().Direct)
	require.Equal(t, 1, s.collections)
	require.Contains(t, fatal(t, func() { th.Allocate(16) }), "out of memory")
	require.Equal(t, 2, s.collections)
}

// TestAllocationRetries loses the space freed by several collections in a row: allocation keeps collecting as long as
// the collections succeed.
func TestAllocationRetries(t *testing.T) {
	s := &stealingScheme{bumpScheme: newBumpScheme(t, memory.PageSize(), 256), steals: 3}
	require.NotZero(t, s.Allocate(64))
	require.Equal(t, 3, s.collections)
	require.Zero(t, s.steals)

	s.steals = 2
	th := NewThread("main", s)
	th.Enter()
	defer th.Close()
	require.NotZero(t, th.AllocateObject(32, 0, 0))
	st := th.Stats()
	require.Equal(t, 2, st.Collections)
	require.Equal(t, 1, st.Refills)
	require.Zero(t, st.Direct)
	require.Equal(t, 5, s.collections)

	// A request that fits directly is served after the lost collections.
	s.steals = 1
	require.NotZero(t, th.AllocateObject(200, 0, 0))
	require.Equal(t, 1, th.Stats().Direct)
	require.Equal(t, 6, s.collections)
}

// TestSafepoint checks that a collection waits for a running mutator to reach a poll point.
func TestSafepoint(t *testing.T) {
	s := newBumpScheme(t, memory.PageSize(), 256)
	th := NewThread("main", s)
	th.Enter()
	th.AllocateObject(32, 0, 0)
	require.Equal(t, 1, s.sp.Threads())

	done := make(chan bool)
	go func() { done <- s.Collect(Explicit, 0) }()
	select {
	case <-done:
		t.Fatal("collection ran while a mutator held the safepoint")
	case <-time.After(20 * time.Millisecond):
	}

	th.Poll()
	require.True(t, <-done)
	require.Equal(t, 1, s.collections)
	require.True(t, th.TLAB().IsEmpty(), "the collector retires all TLABs")
	require.False(t, s.sp.IsStopped())

	th.Close()
	require.Zero(t, s.sp.Threads())
}

// TestCollectorFatal checks that a fatal error raised by a collection reaches the requesting goroutine.
func TestCollectorFatal(t *testing.T) {
	sp := NewSafepoints()
	c := StartCollector(sp, func(Reason, int) bool {
		util.Fatalf("heap corrupted")
		return false
	})
	defer c.Stop()
	require.Equal(t, "heap corrupted", fatal(t, func() { c.Request(Explicit, 0) }))
	require.False(t, sp.IsStopped())
}
