// Package mse implements a non-moving mark-sweep heap. Mutators allocate from free chunk lists, directly or through
// TLABs; collections run on a collector goroutine with the world stopped and go through marking, reference
// processing, sweeping and resizing.
package mse

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"maxvm/src/heap"
	"maxvm/src/heap/layout"
	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Config sizes a mark-sweep heap.
type Config struct {
	InitSize       int // Initially committed bytes.
	MaxSize        int // Reserved bytes.
	TLABSize       int
	MinFreePercent int
	MaxFreePercent int
	MinReclaimable int // Gaps below this size are left as dead fillers by the sweeper.
}

// State is the phase of the collector.
type State int32

// Scheme is the mark-sweep heap.
type Scheme struct {
	cfg         Config
	region      *memory.Region
	space       *heap.Space
	free        *heap.FreeSpaceManager
	marker      *Marker
	roots       heap.RootScanner
	sp          *heap.Safepoints
	collector   *heap.CollectorThread
	policy      heap.ResizePolicy
	log         *util.Logger
	state       atomic.Int32
	outOfMemory atomic.Bool
	mu          sync.Mutex
	stats       heap.Stats
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	Idle State = iota
	Marking
	ReferenceProcessing
	Sweeping
	Resizing
)

var stateNames = [...]string{"idle", "marking", "reference processing", "sweeping", "resizing"}

// ---------------------
// ----- Functions -----
// ---------------------

func (s State) String() string {
	return stateNames[s]
}

// New reserves and commits the heap and starts its collector goroutine.
func New(cfg Config, roots heap.RootScanner, sp *heap.Safepoints, log *util.Logger) (*Scheme, error) {
	if cfg.InitSize <= 0 || cfg.MaxSize < cfg.InitSize {
		return nil, fmt.Errorf("invalid heap size: initial %d, maximum %d", cfg.InitSize, cfg.MaxSize)
	}
	if cfg.TLABSize < 2*heap.Headroom || cfg.TLABSize > cfg.InitSize {
		return nil, fmt.Errorf("invalid TLAB size %d for a heap of %d bytes", cfg.TLABSize, cfg.InitSize)
	}
	region, err := memory.Reserve(cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	space, err := heap.NewSpace(heap.MarkSweep, region, cfg.InitSize)
	if err != nil {
		_ = region.Release()
		return nil, err
	}
	s := &Scheme{
		cfg:    cfg,
		region: region,
		space:  space,
		free:   heap.NewFreeSpaceManager(region, cfg.MinReclaimable),
		marker: NewMarker(region),
		roots:  roots,
		sp:     sp,
		policy: heap.ResizePolicy{
			MinFreePercent: cfg.MinFreePercent,
			MaxFreePercent: cfg.MaxFreePercent,
			InitSize:       space.Size(),
			MaxSize:        space.MaxSize(),
			Granularity:    memory.PageSize(),
		},
		log: log,
	}
	space.OnResize(s.marker.Bitmap().Cover)
	s.free.AddChunk(space.Start(), space.Size())
	s.stats.Scheme = "mark-sweep"
	s.collector = heap.StartCollector(sp, s.collect)
	return s, nil
}

func (s *Scheme) Region() *memory.Region            { return s.region }
func (s *Scheme) Safepoints() *heap.Safepoints      { return s.sp }
func (s *Scheme) Space() *heap.Space                { return s.space }
func (s *Scheme) FreeSpace() *heap.FreeSpaceManager { return s.free }
func (s *Scheme) Marker() *Marker                   { return s.marker }
func (s *Scheme) TLABSize() int                     { return s.cfg.TLABSize }
func (s *Scheme) State() State                      { return State(s.state.Load()) }
func (s *Scheme) OutOfMemory() bool                 { return s.outOfMemory.Load() }

func (s *Scheme) setState(st State) {
	s.log.Debugf("mark-sweep: %s -> %s", s.State(), st)
	s.state.Store(int32(st))
}

func (s *Scheme) TryAllocate(size int) heap.Address {
	return s.free.Allocate(size)
}

func (s *Scheme) TryAllocateTLAB(size int) (heap.Address, int) {
	return s.free.AllocateTLAB(size)
}

func (s *Scheme) CanSatisfyAllocation(size int) bool {
	return s.free.CanSatisfy(size)
}

// Allocate allocates size bytes outside of any TLAB, collecting once if needed.
func (s *Scheme) Allocate(size int) heap.Address {
	return heap.AllocateOrCollect(s, size)
}

// Collect runs a collection. Once the heap has run out of memory, no further collection is attempted.
func (s *Scheme) Collect(reason heap.Reason, size int) bool {
	if s.outOfMemory.Load() {
		return false
	}
	return s.collector.Request(reason, size)
}

// WriteBarrier does nothing: a non-moving, non-generational heap needs no barrier.
func (s *Scheme) WriteBarrier(heap.Address) {}

// Walk visits every cell of the committed heap.
func (s *Scheme) Walk(fn func(a heap.Address, h uint64) bool) {
	layout.Walk(s.region, s.space.Start(), s.space.End(), fn)
}

func (s *Scheme) Stats() heap.Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.Committed = s.space.Size()
	st.Free = s.free.FreeBytes()
	st.Used = st.Committed - st.Free
	st.DarkMatter = s.free.DarkMatter()
	st.OutOfMemory = s.outOfMemory.Load()
	return st
}

// Close stops the collector goroutine and releases the heap.
func (s *Scheme) Close() {
	s.collector.Stop()
	_ = s.region.Release()
}

// collect runs on the collector goroutine with the world stopped. It returns false if a request of size bytes
// still cannot be satisfied afterwards.
func (s *Scheme) collect(reason heap.Reason, size int) bool {
	if s.outOfMemory.Load() {
		return false
	}
	if reason == heap.AllocationFailure && size > 0 && s.free.CanSatisfy(size) {
		// An earlier collection already made room.
		return true
	}
	t0 := time.Now()
	s.sp.RetireTLABs(s.region)
	before := s.free.FreeBytes()

	s.setState(Marking)
	s.marker.Start(reason != heap.AllocationFailure)
	s.marker.MarkRoots(s.roots)

	s.setState(ReferenceProcessing)
	cleared := s.marker.ProcessReferences()

	s.setState(Sweeping)
	live := s.sweep()
	reclaimed := s.free.FreeBytes() - before

	s.setState(Resizing)
	resized := s.resize(size)

	s.setState(Idle)
	ok := size <= 0 || s.free.CanSatisfy(size)
	if !ok {
		s.outOfMemory.Store(true)
	}

	s.mu.Lock()
	s.stats.Collections++
	s.stats.Live = live
	s.stats.Reclaimed += int64(reclaimed)
	s.stats.GCTime += time.Since(t0)
	if resized {
		s.stats.Resizes++
	}
	n := s.stats.Collections
	s.mu.Unlock()

	s.log.Debugf("mark-sweep: gc #%d (%s): live %d, reclaimed %d, cleared %d reference(s), heap %d bytes",
		n, reason, live, reclaimed, cleared, s.space.Size())
	return ok
}

// sweep rebuilds the free lists from the gaps between marked objects and returns the live bytes.
func (s *Scheme) sweep() int {
	s.free.Reset()
	bm := s.marker.Bitmap()
	start, end := s.space.Start(), s.space.End()
	live := 0
	gap := start
	for a := bm.NextMarked(start); a != 0; a = bm.NextMarked(gap) {
		util.Check(bm.IsBlack(a), "object %s still grey after marking", a)
		s.free.AddChunk(gap, a.Minus(gap))
		size := layout.SizeOf(s.region.Word(a))
		live += size
		gap = a.Plus(size)
		if gap >= end {
			break
		}
	}
	s.free.AddChunk(gap, end.Minus(gap))
	return live
}

// resize applies the resize policy, then grows further if a pending request of size bytes still does not fit.
// Requests of up to half a TLAB are served by a refill, so for those the heap grows until a whole TLAB fits.
// Shrinking only releases the free chunk at the end of the heap. It returns true if the committed size changed.
func (s *Scheme) resize(size int) bool {
	committed := s.space.Size()
	target := s.policy.Target(committed, s.free.FreeBytes(), size)
	if target > committed {
		s.grow(target)
	} else if target < committed {
		s.shrink(target)
	}
	need := size
	if size > 0 && size <= s.cfg.TLABSize/2 {
		need = s.cfg.TLABSize
	}
	if need > 0 && !s.free.CanSatisfy(need) {
		s.grow(s.space.Size() + need + layout.MinObjectSize)
	}
	return s.space.Size() != committed
}

// grow commits the heap up to size bytes, capped at the maximum, and frees the new range.
func (s *Scheme) grow(size int) {
	if size > s.space.MaxSize() {
		size = s.space.MaxSize()
	}
	old := s.space.End()
	if err := s.space.Grow(size); err != nil {
		s.log.Warnf("mark-sweep: could not grow heap to %d bytes: %s", size, err)
		return
	}
	s.free.AddChunk(old, s.space.End().Minus(old))
}

// shrink uncommits the heap down to size bytes, or as far as the trailing free chunk allows.
func (s *Scheme) shrink(size int) {
	end := s.space.End()
	c, n := s.free.RemoveEndingAt(end)
	if c == 0 {
		return
	}
	keep := memory.AlignUp(c.Minus(s.space.Start()), memory.PageSize())
	if keep < size {
		keep = size
	}
	if keep >= s.space.Size() {
		s.free.AddChunk(c, n)
		return
	}
	cut := s.space.Start().Plus(keep)
	if err := s.space.Shrink(keep); err != nil {
		s.log.Warnf("mark-sweep: could not shrink heap to %d bytes: %s", keep, err)
		s.free.AddChunk(c, n)
		return
	}
	s.free.AddChunk(c, cut.Minus(c))
}
