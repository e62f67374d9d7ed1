package belt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"maxvm/src/heap"
	"maxvm/src/heap/layout"
	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// span is an address range [lo, hi).
type span struct {
	lo, hi heap.Address
}

// evacuation copies the objects reachable in from-space to the to-space belt. Forwarding pointers are installed by
// compare-and-swap on the header word, so any number of workers may copy concurrently: the worker losing the race
// for an object turns its copy into a dead filler and uses the winner's.
type evacuation struct {
	region     *memory.Region
	from       []span
	to         *heap.Belt
	discover   bool // Discover weak reference objects.
	keepSoft   bool // Trace soft referents strongly.
	workers    []*worker
	scavenging *atomic.Bool
	overflow   func(size int)
}

// worker is one scavenging thread. Its grey stack holds copied objects whose references are still to be updated.
type worker struct {
	e      *evacuation
	grey   *util.Stack[heap.Address]
	refs   []heap.Address // Discovered reference objects.
	copied int            // Bytes copied.
	lost   int            // Bytes of copies lost to another worker.
}

// batch is the number of objects handed to a scavenging worker at once.
const batch = 64

// ---------------------
// ----- Functions -----
// ---------------------

func (s span) contains(a heap.Address) bool {
	return a >= s.lo && a < s.hi
}

func newEvacuation(region *memory.Region, to *heap.Belt, threads int, scavenging *atomic.Bool,
	overflow func(int), from ...span) *evacuation {
	if threads < 1 {
		threads = 1
	}
	e := &evacuation{
		region:     region,
		from:       from,
		to:         to,
		scavenging: scavenging,
		overflow:   overflow,
	}
	for i1 := 0; i1 < threads; i1++ {
		e.workers = append(e.workers, &worker{e: e, grey: util.NewStack[heap.Address](256)})
	}
	return e
}

// inFrom returns true if a lies in from-space.
func (e *evacuation) inFrom(a heap.Address) bool {
	for _, e1 := range e.from {
		if e1.contains(a) {
			return true
		}
	}
	return false
}

// Visit is the root visitor. Copies made while visiting roots are scanned by the next call to run.
func (e *evacuation) Visit(ref heap.Address) heap.Address {
	return e.workers[0].forward(ref)
}

// scanRoots evacuates the objects referenced by the roots, the boot heap and compiled code.
func (e *evacuation) scanRoots(roots heap.RootScanner) {
	roots.ScanRoots(e.Visit)
	roots.ScanBootHeap(e.Visit)
	roots.ScanCode(e.Visit)
}

// run scans the grey objects of the root worker and the objects in extra, which lie outside from-space, until no
// grey object is left. With more than one worker the work is spread over scavenging goroutines.
func (e *evacuation) run(extra []heap.Address) {
	w0 := e.workers[0]
	if len(e.workers) == 1 {
		for _, e1 := range extra {
			w0.scan(e1)
		}
		w0.drain()
		return
	}

	work := extra
	for a, ok := w0.grey.Pop(); ok; a, ok = w0.grey.Pop() {
		work = append(work, a)
	}
	items := make(chan []heap.Address, len(work)/batch+1)
	for i1 := 0; i1 < len(work); i1 += batch {
		items <- work[i1:min(i1+batch, len(work))]
	}
	close(items)

	e.scavenging.Store(true)
	defer e.scavenging.Store(false)

	perr := util.NewPerror(len(e.workers))
	wg := sync.WaitGroup{}
	wg.Add(len(e.workers))
	for _, e1 := range e.workers {
		go func(w *worker) {
			defer wg.Done()
			defer perr.Recover()
			for it := range items {
				for _, e2 := range it {
					w.scan(e2)
					w.drain()
				}
			}
		}(e1)
	}
	wg.Wait()
	perr.Stop()
	if fe := perr.Fatal(); fe != nil {
		panic(fe)
	}
}

// processReferences clears the referents of discovered reference objects left in from-space, and updates those
// that were copied. It returns how many referents were cleared.
func (e *evacuation) processReferences() int {
	cleared := 0
	for _, e1 := range e.workers {
		for _, e2 := range e1.refs {
			slot := layout.Referent(e2)
			r := e.region.Ref(slot)
			if r == 0 || !e.inFrom(r) {
				continue
			}
			if to, ok := layout.ForwardedTo(e.region.Word(r)); ok {
				e.region.SetRef(slot, to)
			} else {
				e.region.SetRef(slot, 0)
				cleared++
			}
		}
		e1.refs = nil
	}
	return cleared
}

// copied returns the bytes copied and the bytes of copies lost to races.
func (e *evacuation) copied() (copied, lost int) {
	for _, e1 := range e.workers {
		copied += e1.copied
		lost += e1.lost
	}
	return copied, lost
}

// forward returns the address of the copy of ref, copying the object first if no worker has done so yet.
func (w *worker) forward(ref heap.Address) heap.Address {
	if ref == 0 || !w.e.inFrom(ref) {
		return ref
	}
	r := w.e.region
	for {
		h := r.LoadWord(ref)
		if to, ok := layout.ForwardedTo(h); ok {
			return to
		}
		if layout.TagOf(h) != layout.TagObject {
			util.Fatalf("evacuating %s", layout.Describe(r, ref))
		}
		size := layout.SizeOf(h)
		c := w.e.to.Allocate(size)
		if c == 0 {
			w.e.overflow(size)
			util.Fatalf("%s overflowed copying %d bytes", w.e.to, size)
		}
		r.Copy(c.Plus(layout.WordSize), ref.Plus(layout.WordSize), size-layout.WordSize)
		r.SetWord(c, h)
		if r.CompareAndSwapWord(ref, h, layout.Forwarding(c)) {
			w.copied += size
			w.grey.Push(c)
			return c
		}
		layout.FillDead(r, c, size)
		w.lost += size
	}
}

// scan forwards the references held by the object at a.
func (w *worker) scan(a heap.Address) {
	r := w.e.region
	flags := layout.FlagsOf(r.Word(a))
	discover := w.e.discover && (flags&layout.Weak != 0 || (flags&layout.Soft != 0 && !w.e.keepSoft))
	if discover {
		w.refs = append(w.refs, a)
	}
	layout.ForEachRef(r, a, discover, func(slot heap.Address) {
		if ref := r.Ref(slot); ref != 0 {
			r.SetRef(slot, w.forward(ref))
		}
	})
}

func (w *worker) drain() {
	for a, ok := w.grey.Pop(); ok; a, ok = w.grey.Pop() {
		w.scan(a)
	}
}

func (s span) String() string {
	return fmt.Sprintf("[%s, %s)", s.lo, s.hi)
}
