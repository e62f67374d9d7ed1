// Package belt implements a generational copying heap on two belts. Mutators allocate in the nursery; a minor
// collection promotes the live nursery objects into the mature belt, and a major collection compacts the mature
// belt by copying every live object into a reserve above the nursery and back again.
//
//	start           start+max/2                                  start+max
//	| mature ...    | nursery ... | reserve (nursery expanded) ... |
package belt

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

// Config sizes a belt heap. The whole maximum size is committed up front: half of it is the mature belt, the
// nursery and the copy reserve share the other half.
type Config struct {
	InitSize  int // Twice the nursery size.
	MaxSize   int
	TLABSize  int
	GCThreads int // Scavenging goroutines. One scavenges on the collector goroutine.
}

// Scheme is the generational belt heap.
type Scheme struct {
	cfg         Config
	region      *memory.Region
	mature      *heap.Belt
	nursery     *heap.Belt
	nurserySize int
	cards       *CardTable
	roots       heap.RootScanner
	sp          *heap.Safepoints
	collector   *heap.CollectorThread
	log         *util.Logger
	scavenging  atomic.Bool
	outOfMemory atomic.Bool
	mu          sync.Mutex
	stats       heap.Stats
}

// ---------------------
// ----- Functions -----
// ---------------------

// New reserves and commits the heap and starts its collector goroutine.
func New(cfg Config, roots heap.RootScanner, sp *heap.Safepoints, log *util.Logger) (*Scheme, error) {
	page := memory.PageSize()
	if cfg.MaxSize < 4*page {
		return nil, fmt.Errorf("heap of %d bytes is too small for a belt heap", cfg.MaxSize)
	}
	region, err := memory.Reserve(cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	if err := region.Commit(region.Size()); err != nil {
		_ = region.Release()
		return nil, err
	}
	half := region.Size() / 2 / page * page
	nursery := cfg.InitSize / 2 / page * page
	if nursery < page {
		nursery = page
	}
	if nursery > half/2 {
		nursery = half / 2
	}
	if cfg.TLABSize < 2*heap.Headroom || cfg.TLABSize > nursery {
		_ = region.Release()
		return nil, fmt.Errorf("invalid TLAB size %d for a nursery of %d bytes", cfg.TLABSize, nursery)
	}

	start := region.Start()
	mid := start.Plus(half)
	s := &Scheme{
		cfg:         cfg,
		region:      region,
		mature:      heap.NewBelt(heap.Mature, region, start, mid, mid),
		nursery:     heap.NewBelt(heap.Nursery, region, mid, mid.Plus(nursery), region.End()),
		nurserySize: nursery,
		cards:       NewCardTable(start, half),
		roots:       roots,
		sp:          sp,
		log:         log,
	}
	s.stats.Scheme = "belt"
	s.collector = heap.StartCollector(sp, s.collect)
	return s, nil
}

func (s *Scheme) Region() *memory.Region       { return s.region }
func (s *Scheme) Safepoints() *heap.Safepoints { return s.sp }
func (s *Scheme) Mature() *heap.Belt           { return s.mature }
func (s *Scheme) Nursery() *heap.Belt          { return s.nursery }
func (s *Scheme) Cards() *CardTable            { return s.cards }
func (s *Scheme) TLABSize() int                { return s.cfg.TLABSize }
func (s *Scheme) OutOfMemory() bool            { return s.outOfMemory.Load() }

// InScavenging returns true while scavenging goroutines are copying objects.
func (s *Scheme) InScavenging() bool { return s.scavenging.Load() }

// pretenured returns true if a request is too large for the nursery and goes to the mature belt.
func (s *Scheme) pretenured(size int) bool {
	return size > s.nurserySize/2
}

func (s *Scheme) TryAllocate(size int) heap.Address {
	if s.pretenured(size) {
		return s.mature.Allocate(size)
	}
	return s.nursery.Allocate(size)
}

func (s *Scheme) TryAllocateTLAB(size int) (heap.Address, int) {
	return s.nursery.AllocateUpTo(size, 2*heap.Headroom)
}

func (s *Scheme) CanSatisfyAllocation(size int) bool {
	if s.pretenured(size) {
		return s.mature.Free() >= size
	}
	return s.nursery.Free() >= size
}

// Allocate allocates size bytes outside of any TLAB, collecting once if needed.
func (s *Scheme) Allocate(size int) heap.Address {
	return heap.AllocateOrCollect(s, size)
}

// Collect runs a collection. Explicit collections are full collections. Once the heap has run out of memory, no
// further collection is attempted.
func (s *Scheme) Collect(reason heap.Reason, size int) bool {
	if s.outOfMemory.Load() {
		return false
	}
	return s.collector.Request(reason, size)
}

// WriteBarrier dirties the card of holder if it lives in the mature belt.
func (s *Scheme) WriteBarrier(holder heap.Address) {
	if s.mature.Contains(holder) {
		s.cards.Mark(holder)
	}
}

// Walk visits every cell of the mature belt, then of the nursery.
func (s *Scheme) Walk(fn func(a heap.Address, h uint64) bool) {
	util.Check(!s.InScavenging(), "heap walked while scavenging")
	stop := false
	visit := func(a heap.Address, h uint64) bool {
		stop = !fn(a, h)
		return !stop
	}
	layout.Walk(s.region, s.mature.Start(), s.mature.Mark(), visit)
	if !stop {
		layout.Walk(s.region, s.nursery.Start(), s.nursery.Mark(), visit)
	}
}

func (s *Scheme) Stats() heap.Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.Committed = s.region.Committed()
	st.Used = s.mature.Used() + s.nursery.Used()
	st.Free = s.mature.Free() + s.nursery.Free()
	st.OutOfMemory = s.outOfMemory.Load()
	return st
}

// Close stops the collector goroutine and releases the heap.
func (s *Scheme) Close() {
	s.collector.Stop()
	_ = s.region.Release()
}

// collect runs on the collector goroutine with the world stopped. A minor collection runs first unless promotion
// could overflow the mature belt; a major collection follows when the mature belt could not take another nursery.
func (s *Scheme) collect(reason heap.Reason, size int) bool {
	if s.outOfMemory.Load() {
		return false
	}
	if reason == heap.AllocationFailure && size > 0 && s.CanSatisfyAllocation(size) {
		return true
	}
	t0 := time.Now()
	s.sp.RetireTLABs(s.region)
	keepSoft := reason != heap.AllocationFailure
	before := s.mature.Used() + s.nursery.Used()

	// Without a major collection everything in the mature belt counts as live.
	minor, major := 0, 0
	live := 0
	if s.mature.Used()+s.nursery.Used() > s.mature.Size() {
		live = s.major(keepSoft)
		major++
	} else {
		s.minor(keepSoft)
		minor++
		live = s.mature.Used()
		if reason == heap.Explicit || s.mature.Used()+s.nurserySize > s.mature.Size() {
			live = s.major(keepSoft)
			major++
		}
	}

	ok := size <= 0 || s.CanSatisfyAllocation(size)
	if !ok {
		s.outOfMemory.Store(true)
	}

	s.mu.Lock()
	s.stats.Collections++
	s.stats.Minor += minor
	s.stats.Major += major
	s.stats.Live = live
	s.stats.Reclaimed += int64(before - live)
	s.stats.GCTime += time.Since(t0)
	n := s.stats.Collections
	s.mu.Unlock()

	s.log.Debugf("belt: gc #%d (%s): %d minor, %d major, live %d, reclaimed %d", n, reason, minor, major, live,
		before-live)
	return ok
}

// minor promotes the live nursery objects into the mature belt. Mature objects starting in dirty cards are scanned
// for references into the nursery.
func (s *Scheme) minor(keepSoft bool) {
	from := span{s.nursery.Start(), s.nursery.Mark()}
	e := newEvacuation(s.region, s.mature, s.cfg.GCThreads, &s.scavenging, s.overflow, from)
	e.discover, e.keepSoft = true, keepSoft

	var dirty []heap.Address
	if s.cards.Dirty() > 0 {
		layout.Walk(s.region, s.mature.Start(), s.mature.Mark(), func(a heap.Address, h uint64) bool {
			if layout.TagOf(h) == layout.TagObject && s.cards.IsDirty(a) {
				dirty = append(dirty, a)
			}
			return true
		})
	}
	e.scanRoots(s.roots)
	e.run(dirty)
	cleared := e.processReferences()
	copied, lost := e.copied()

	s.nursery.Reset()
	s.cards.Clear()
	s.mu.Lock()
	s.stats.Promoted += int64(copied)
	s.mu.Unlock()
	s.log.Debugf("belt: minor: promoted %d bytes from %s, %d bytes lost to races, %d dirty object(s), "+
		"cleared %d reference(s)", copied, from, lost, len(dirty), cleared)
}

// major compacts the heap. Live objects of both belts are copied into the reserve, which is the nursery expanded
// up to the end of the heap, then copied back to the start of the mature belt. It returns the live bytes.
func (s *Scheme) major(keepSoft bool) int {
	mature := span{s.mature.Start(), s.mature.Mark()}
	nursery := span{s.nursery.Start(), s.nursery.Mark()}
	reserve := heap.NewBelt(heap.Reserve, s.region, nursery.hi, s.region.End(), s.region.End())

	e := newEvacuation(s.region, reserve, s.cfg.GCThreads, &s.scavenging, s.overflow, mature, nursery)
	e.discover, e.keepSoft = true, keepSoft
	e.scanRoots(s.roots)
	e.run(nil)
	cleared := e.processReferences()
	reserved, _ := e.copied()

	s.mature.Reset()
	back := newEvacuation(s.region, s.mature, s.cfg.GCThreads, &s.scavenging, s.overflow,
		span{reserve.Start(), reserve.Mark()})
	back.scanRoots(s.roots)
	back.run(nil)
	live, _ := back.copied()

	s.nursery.Reset()
	s.cards.Clear()
	s.log.Debugf("belt: major: %d live bytes of %d compacted through %s, cleared %d reference(s)", live,
		mature.hi.Minus(mature.lo)+nursery.hi.Minus(nursery.lo), reserve, cleared)
	util.Check(live == reserved, "major collection copied %d bytes into the reserve but %d back", reserved, live)
	return live
}

// overflow declares the heap out of memory when a copy does not fit in to-space.
func (s *Scheme) overflow(size int) {
	s.outOfMemory.Store(true)
	s.log.Errorf("belt: out of memory: no room for a copy of %d bytes", size)
}
