package heap

import (
	"fmt"

	"maxvm/src/heap/layout"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Thread is a mutator thread allocating in its own TLAB. A thread is used by a single goroutine. While running in
// the VM, between Enter and Leave, the thread holds the safepoint and must Poll regularly.
type Thread struct {
	name     string
	scheme   Scheme
	sp       *Safepoints
	tlab     TLAB
	tlabSize int
	inVM     bool
	stats    ThreadStats
}

// ThreadStats counts the allocation paths taken by one thread.
type ThreadStats struct {
	Allocated   int // Bytes allocated.
	Objects     int // Objects allocated.
	Refills     int // TLAB refills.
	Direct      int // Allocations outside the TLAB.
	Collections int // Collections requested by the thread.
}

// ---------------------
// ----- Functions -----
// ---------------------

// NewThread registers a mutator thread with the safepoints of s.
func NewThread(name string, s Scheme) *Thread {
	t := &Thread{
		name:     name,
		scheme:   s,
		sp:       s.Safepoints(),
		tlabSize: s.TLABSize(),
	}
	t.sp.register(t)
	return t
}

func (t *Thread) Name() string       { return t.name }
func (t *Thread) TLAB() *TLAB        { return &t.tlab }
func (t *Thread) Stats() ThreadStats { return t.stats }

// Enter acquires the safepoint. It blocks while a collection is running.
func (t *Thread) Enter() {
	util.Check(!t.inVM, "thread %s entered the VM twice", t.name)
	t.sp.enter()
	t.inVM = true
}

// Leave releases the safepoint, allowing collections to run.
func (t *Thread) Leave() {
	util.Check(t.inVM, "thread %s left the VM without entering", t.name)
	t.inVM = false
	t.sp.leave()
}

// Poll is a safepoint poll: it parks the thread if a collection is pending.
func (t *Thread) Poll() {
	if t.inVM {
		t.sp.leave()
		t.sp.enter()
	}
}

// Blocking runs fn with the safepoint released, as for a blocking call out of the VM.
func (t *Thread) Blocking(fn func()) {
	if !t.inVM {
		fn()
		return
	}
	t.sp.leave()
	defer t.sp.enter()
	fn()
}

// Allocate returns size bytes, rounded up to an aligned object size, from the TLAB or through the slow path. The
// caller formats the cell before the next poll. Running out of memory is fatal.
func (t *Thread) Allocate(size int) Address {
	size = layout.AlignSize(size)
	a := t.tlab.Allocate(size)
	if a == 0 {
		a = t.slowPath(size)
	}
	t.stats.Allocated += size
	t.stats.Objects++
	return a
}

// AllocateObject allocates and formats an object with reference map refs.
func (t *Thread) AllocateObject(size int, refs uint64, flags layout.Flags) Address {
	size = layout.AlignSize(size)
	a := t.Allocate(size)
	layout.WriteObject(t.scheme.Region(), a, size, refs, flags)
	return a
}

// refillThreshold is the free space below which a TLAB is worth retiring.
func (t *Thread) refillThreshold() int {
	return t.tlabSize / 10
}

// slowPath allocates when the request does not fit below the TLAB top. A request that fills the TLAB exactly up to
// its hard limit takes the headroom. Large requests, and requests made while the TLAB still has plenty of room, go
// directly to the heap; otherwise the TLAB is retired and refilled. Failed attempts collect and start over until
// the scheme reports that the request cannot be satisfied.
func (t *Thread) slowPath(size int) Address {
	if a := t.tlab.AllocateExact(size); a != 0 {
		return a
	}
	if t.tlab.Free() > t.refillThreshold() || size > t.tlabSize/2 {
		return t.allocateDirect(size)
	}
	t.tlab.Retire(t.scheme.Region())
	for {
		if chunk, n := t.scheme.TryAllocateTLAB(t.tlabSize); chunk != 0 {
			t.stats.Refills++
			t.tlab.Refill(chunk, n)
			if a := t.tlab.Allocate(size); a != 0 {
				return a
			}
			if a := t.tlab.AllocateExact(size); a != 0 {
				return a
			}
			return t.allocateDirect(size)
		}
		// No chunk left, but the request itself may still fit.
		if a := t.scheme.TryAllocate(size); a != 0 {
			t.stats.Direct++
			return a
		}
		if !t.collect(AllocationFailure, size) {
			OutOfMemory(t.scheme, size)
		}
	}
}

// allocateDirect allocates outside the TLAB, collecting as often as needed.
func (t *Thread) allocateDirect(size int) Address {
	t.stats.Direct++
	for {
		if a := t.scheme.TryAllocate(size); a != 0 {
			return a
		}
		if !t.collect(AllocationFailure, size) {
			OutOfMemory(t.scheme, size)
		}
	}
}

// Collect requests an explicit collection and waits for it.
func (t *Thread) Collect() {
	t.collect(Explicit, 0)
}

// collect runs a collection with the safepoint released. The collector retires this thread's TLAB along with all
// others.
func (t *Thread) collect(reason Reason, size int) bool {
	t.stats.Collections++
	ok := false
	t.Blocking(func() {
		ok = t.scheme.Collect(reason, size)
	})
	return ok
}

// Close retires the TLAB and unregisters the thread.
func (t *Thread) Close() {
	if !t.inVM {
		t.Enter()
	}
	t.tlab.Retire(t.scheme.Region())
	t.Leave()
	t.sp.unregister(t)
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %s tlab %s", t.name, &t.tlab)
}

// AllocateOrCollect implements Scheme.Allocate on top of TryAllocate and Collect. It collects until the request
// fits or a collection reports that it cannot be satisfied.
func AllocateOrCollect(s Scheme, size int) Address {
	size = layout.AlignSize(size)
	for {
		if a := s.TryAllocate(size); a != 0 {
			return a
		}
		// Another thread may take the space freed by a successful collection before the retry.
		if !s.Collect(AllocationFailure, size) {
			OutOfMemory(s, size)
		}
	}
}

// OutOfMemory raises the fatal out of memory error for a request of size bytes.
func OutOfMemory(s Scheme, size int) {
	st := s.Stats()
	util.Fatalf("out of memory: cannot allocate %d bytes, %d of %d bytes in use after %d collection(s)",
		size, st.Used, st.Committed, st.Collections)
}
