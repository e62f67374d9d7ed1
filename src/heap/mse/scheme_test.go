package mse

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"maxvm/src/heap"
	"maxvm/src/heap/layout"
	"maxvm/src/util"
)

// roots is a root set of handle slices, one per mutator, plus boot heap and code references.
type roots struct {
	mu      sync.Mutex
	handles [][]heap.Address
	boot    []heap.Address
	code    []heap.Address
	scanned []State
	scheme  *Scheme
}

func visitAll(refs []heap.Address, v heap.RefVisitor) {
	for i1, e1 := range refs {
		if e1 != 0 {
			refs[i1] = v(e1)
		}
	}
}

func (r *roots) ScanRoots(v heap.RefVisitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheme != nil {
		r.scanned = append(r.scanned, r.scheme.State())
	}
	for _, e1 := range r.handles {
		visitAll(e1, v)
	}
}

func (r *roots) ScanBootHeap(v heap.RefVisitor) { visitAll(r.boot, v) }
func (r *roots) ScanCode(v heap.RefVisitor)     { visitAll(r.code, v) }

// add registers a handle slice of n entries.
func (r *roots) add(n int) []heap.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := make([]heap.Address, n)
	r.handles = append(r.handles, h)
	return h
}

const kb = 1024

func newScheme(t *testing.T, cfg Config) (*Scheme, *roots) {
	if cfg.InitSize == 0 {
		cfg.InitSize = 64 * kb
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = cfg.InitSize
	}
	if cfg.TLABSize == 0 {
		cfg.TLABSize = 4 * kb
	}
	if cfg.MaxFreePercent == 0 {
		cfg.MaxFreePercent = 100
	}
	r := &roots{}
	s, err := New(cfg, r, heap.NewSafepoints(), util.Discard())
	require.NoError(t, err)
	r.scheme = s
	t.Cleanup(s.Close)
	return s, r
}

// object allocates and formats an object outside any TLAB.
func object(s *Scheme, size int, refs uint64, flags layout.Flags) heap.Address {
	size = layout.AlignSize(size)
	a := s.Allocate(size)
	layout.WriteObject(s.Region(), a, size, refs, flags)
	return a
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

// walk checks that the heap is tiled by cells and returns the bytes per tag.
func walk(t *testing.T, s *Scheme) map[layout.Tag]int {
	cells := make(map[layout.Tag]int)
	total := 0
	s.Walk(func(a heap.Address, h uint64) bool {
		cells[layout.TagOf(h)] += layout.SizeOf(h)
		total += layout.SizeOf(h)
		return true
	})
	require.Equal(t, s.Space().Size(), total)
	return cells
}

func TestNew(t *testing.T) {
	_, err := New(Config{InitSize: 64 * kb, MaxSize: 32 * kb, TLABSize: kb}, &roots{}, heap.NewSafepoints(), nil)
	require.Error(t, err)
	_, err = New(Config{InitSize: 64 * kb, MaxSize: 64 * kb, TLABSize: 8}, &roots{}, heap.NewSafepoints(), nil)
	require.Error(t, err)

	s, _ := newScheme(t, Config{})
	require.Equal(t, Idle, s.State())
	require.Equal(t, 64*kb, s.FreeSpace().FreeBytes())
	require.Equal(t, s.Space().End(), s.Marker().Bitmap().End())
}

// TestCollectFreesGarbage runs a full cycle with garbage between live objects: afterwards the free lists hold
// exactly the committed size minus the live objects.
func TestCollectFreesGarbage(t *testing.T) {
	s, r := newScheme(t, Config{})
	h := r.add(1)
	reg := s.Region()

	head := object(s, 32, 1, 0)
	object(s, 48, 0, 0)
	mid := object(s, 64, 3, 0)
	object(s, 1000, 0, 0)
	tail := object(s, 16, 0, 0)
	object(s, 24, 0, 0)
	boot := object(s, 40, 0, 0)
	code := object(s, 16, 0, 0)

	reg.SetRef(layout.Slot(head, 0), mid)
	reg.SetRef(layout.Slot(mid, 0), tail)
	reg.SetRef(layout.Slot(mid, 1), head)
	h[0] = head
	r.boot = []heap.Address{boot}
	r.code = []heap.Address{0, code}

	require.True(t, s.Collect(heap.Explicit, 0))
	st := s.Stats()
	live := 32 + 64 + 16 + 40 + 16
	require.Equal(t, 1, st.Collections)
	require.Equal(t, live, st.Live)
	require.Equal(t, st.Committed-live, s.FreeSpace().FreeBytes())
	require.Equal(t, int64(48+1000+24), st.Reclaimed)
	// Every gap is at least the default MinReclaimable, so none is left as dark matter. TestDarkMatter covers the
	// general case, where free and dark matter bytes together make up the committed size minus the live objects.
	require.Zero(t, st.DarkMatter)

	cells := walk(t, s)
	require.Equal(t, live, cells[layout.TagObject])
	require.Equal(t, st.Committed-live, cells[layout.TagFree])

	// Live objects are untouched.
	require.Equal(t, mid, reg.Ref(layout.Slot(head, 0)))
	require.Equal(t, tail, reg.Ref(layout.Slot(mid, 0)))
	require.Equal(t, head, h[0])

	// Collecting again reclaims nothing.
	require.True(t, s.Collect(heap.Explicit, 0))
	require.Equal(t, int64(48+1000+24), s.Stats().Reclaimed)
	require.Equal(t, st.Committed-live, s.FreeSpace().FreeBytes())
}

// TestDarkMatter sweeps gaps below MinReclaimable into dead fillers that are not counted as free.
func TestDarkMatter(t *testing.T) {
	s, r := newScheme(t, Config{MinReclaimable: 64})
	h := r.add(3)
	h[0] = object(s, 32, 0, 0)
	object(s, 48, 0, 0)
	h[1] = object(s, 64, 0, 0)
	object(s, 24, 0, 0)
	h[2] = object(s, 40, 0, 0)

	require.True(t, s.Collect(heap.Explicit, 0))
	st := s.Stats()
	live := 32 + 64 + 40
	require.Equal(t, live, st.Live)
	require.Equal(t, 48+24, st.DarkMatter)
	require.Equal(t, st.Committed-live-48-24, st.Free)
	require.Equal(t, st.Committed-st.Live, st.Free+st.DarkMatter)

	cells := walk(t, s)
	require.Equal(t, 48+24, cells[layout.TagDead])
	require.Equal(t, st.Free, cells[layout.TagFree])
}

// TestFragmentation leaves only gaps below the smallest sized free list bin after a collection. Small requests are
// still served from them, directly and through TLABs.
func TestFragmentation(t *testing.T) {
	s, r := newScheme(t, Config{})
	h := r.add(256)
	for i1 := 0; i1 < 255; i1++ {
		h[i1] = object(s, 64, 0, 0)
		object(s, 192, 0, 0)
	}
	h[255] = object(s, 256, 0, 0)
	require.Zero(t, s.FreeSpace().FreeBytes())

	require.True(t, s.Collect(heap.Explicit, 0))
	require.Equal(t, 255*192, s.FreeSpace().FreeBytes())
	require.True(t, s.CanSatisfyAllocation(16))
	require.True(t, s.CanSatisfyAllocation(192))
	require.False(t, s.CanSatisfyAllocation(256))

	a := object(s, 16, 0, 0)
	require.NotZero(t, a)
	require.Equal(t, 255*192-16, s.FreeSpace().FreeBytes())
	require.Equal(t, 1, s.Stats().Collections)
	require.False(t, s.OutOfMemory())

	th := heap.NewThread("t", s)
	th.Enter()
	defer th.Close()
	require.NotZero(t, th.AllocateObject(128, 0, 0))
	require.Equal(t, 1, th.Stats().Refills)
	require.Less(t, th.TLAB().Size(), s.TLABSize(), "a refill takes the first chunk large enough")
	require.Equal(t, 1, s.Stats().Collections)
	require.False(t, s.OutOfMemory())
}

func TestMarkIdempotent(t *testing.T) {
	s, _ := newScheme(t, Config{})
	reg := s.Region()
	a := object(s, 32, 1, 0)
	b := object(s, 32, 1, 0)
	reg.SetRef(layout.Slot(a, 0), b)
	reg.SetRef(layout.Slot(b, 0), a)

	m := s.Marker()
	m.Start(true)
	m.MarkObject(a)
	require.True(t, m.Bitmap().IsGrey(a))
	require.False(t, m.Bitmap().IsMarked(b))
	m.Drain()
	require.True(t, m.Bitmap().IsBlack(a))
	require.True(t, m.Bitmap().IsBlack(b))
	once := m.Bitmap().Copy()
	require.Equal(t, 2, once.Count())

	m.MarkObject(a)
	m.MarkObject(b)
	m.Drain()
	require.True(t, once.Equal(m.Bitmap()))

	// References outside the heap are ignored.
	m.MarkObject(s.Space().End())
	m.MarkObject(0)
	require.True(t, once.Equal(m.Bitmap()))
}

func TestReferences(t *testing.T) {
	t.Run("weak", func(t *testing.T) {
		s, r := newScheme(t, Config{})
		reg := s.Region()
		h := r.add(3)
		dead := object(s, 32, 0, 0)
		alive := object(s, 32, 0, 0)
		w1 := object(s, 24, 1, layout.Weak)
		w2 := object(s, 24, 1, layout.Weak)
		reg.SetRef(layout.Referent(w1), dead)
		reg.SetRef(layout.Referent(w2), alive)
		h[0], h[1], h[2] = w1, w2, alive

		require.True(t, s.Collect(heap.Explicit, 0))
		require.Zero(t, reg.Ref(layout.Referent(w1)))
		require.Equal(t, alive, reg.Ref(layout.Referent(w2)))
		require.Equal(t, 24+24+32, s.Stats().Live)
	})

	t.Run("soft", func(t *testing.T) {
		s, r := newScheme(t, Config{})
		reg := s.Region()
		h := r.add(1)
		target := object(s, 32, 0, 0)
		soft := object(s, 24, 1, layout.Soft)
		reg.SetRef(layout.Referent(soft), target)
		h[0] = soft

		// Soft referents survive explicit collections.
		require.True(t, s.Collect(heap.Explicit, 0))
		require.Equal(t, target, reg.Ref(layout.Referent(soft)))

		// Fill the heap with garbage until an allocation has to collect.
		for a := s.TryAllocate(kb); a != 0; a = s.TryAllocate(kb) {
			layout.WriteObject(reg, a, kb, 0, 0)
		}
		before := s.Stats().Collections
		object(s, kb, 0, 0)
		require.Equal(t, before+1, s.Stats().Collections)
		require.Zero(t, reg.Ref(layout.Referent(soft)))
	})
}

// TestOutOfMemory requests one byte more than the heap has left with nothing to reclaim: the collection attempt
// fails, out of memory is fatal, and no further collection is attempted.
func TestOutOfMemory(t *testing.T) {
	s, r := newScheme(t, Config{})
	h := r.add(64)
	for i1 := 0; i1 < 63; i1++ {
		h[i1] = object(s, kb, 0, 0)
	}
	h[63] = object(s, 1000, 0, 0)
	regionFree := s.FreeSpace().FreeBytes()
	require.Equal(t, 24, regionFree)

	msg := fatal(t, func() { s.Allocate(regionFree + 1) })
	require.Contains(t, msg, "out of memory: cannot allocate 32 bytes")
	require.True(t, s.OutOfMemory())
	require.Equal(t, 1, s.Stats().Collections)

	require.False(t, s.Collect(heap.Explicit, 0))
	require.Equal(t, 1, s.Stats().Collections)
	require.True(t, s.Stats().OutOfMemory)
}

// TestResize grows the heap when little is free after a collection and shrinks it back once the garbage is gone.
func TestResize(t *testing.T) {
	s, r := newScheme(t, Config{InitSize: 64 * kb, MaxSize: 512 * kb, MinFreePercent: 40, MaxFreePercent: 70})
	h := r.add(52)
	for i1 := range h {
		h[i1] = object(s, kb, 0, 0)
	}
	require.True(t, s.Collect(heap.Explicit, 0))
	st := s.Stats()
	require.Greater(t, st.Committed, 64*kb)
	require.Equal(t, 1, st.Resizes)
	require.GreaterOrEqual(t, st.Free*100, st.Committed*40)
	require.Equal(t, s.Space().End(), s.Marker().Bitmap().End())
	walk(t, s)

	clear(h)
	require.True(t, s.Collect(heap.Explicit, 0))
	st = s.Stats()
	require.Equal(t, 64*kb, st.Committed)
	require.Equal(t, 2, st.Resizes)
	require.Equal(t, 64*kb, st.Free)
	require.Equal(t, s.Space().End(), s.Marker().Bitmap().End())
	walk(t, s)
}

// TestResizeForRefill fills the heap with live objects while a mutator needs a TLAB: the heap grows by a whole TLAB
// rather than by the size of the pending object.
func TestResizeForRefill(t *testing.T) {
	s, r := newScheme(t, Config{InitSize: 64 * kb, MaxSize: 256 * kb, TLABSize: 8 * kb})
	h := r.add(64)
	for i1 := range h {
		h[i1] = object(s, kb, 0, 0)
	}
	require.Zero(t, s.FreeSpace().FreeBytes())

	th := heap.NewThread("t", s)
	th.Enter()
	defer th.Close()
	require.NotZero(t, th.AllocateObject(32, 0, 0))
	require.Equal(t, 8*kb, th.TLAB().Size())
	st := s.Stats()
	require.Equal(t, 1, st.Collections)
	require.Equal(t, 1, st.Resizes)
	require.GreaterOrEqual(t, st.Committed, 64*kb+8*kb)
	require.False(t, s.OutOfMemory())

	// At the maximum size the heap cannot make room for a whole TLAB. The collection still succeeds because the
	// object fits, and the refill takes the smaller chunk it freed.
	s2, r2 := newScheme(t, Config{InitSize: 64 * kb, TLABSize: 8 * kb})
	h2 := r2.add(63)
	for i1 := range h2[:62] {
		h2[i1] = object(s2, kb, 0, 0)
	}
	object(s2, kb, 0, 0)
	h2[62] = object(s2, 1000, 0, 0)
	require.Equal(t, 24, s2.FreeSpace().FreeBytes())

	th2 := heap.NewThread("t2", s2)
	th2.Enter()
	defer th2.Close()
	require.NotZero(t, th2.AllocateObject(32, 0, 0))
	require.Equal(t, kb, th2.TLAB().Size())
	require.Equal(t, 1, s2.Stats().Collections)
	require.Equal(t, 64*kb, s2.Stats().Committed)
	require.False(t, s2.OutOfMemory())
}

// TestStateMachine checks the order of the collector phases.
func TestStateMachine(t *testing.T) {
	var buf bytes.Buffer
	r := &roots{}
	s, err := New(Config{InitSize: 64 * kb, MaxSize: 64 * kb, TLABSize: 4 * kb, MaxFreePercent: 100}, r,
		heap.NewSafepoints(), util.NewLoggerTo(&buf, true))
	require.NoError(t, err)
	r.scheme = s
	defer s.Close()

	require.True(t, s.Collect(heap.Explicit, 0))
	require.Equal(t, []State{Marking}, r.scanned)
	require.Equal(t, Idle, s.State())

	var transitions []string
	for _, e1 := range strings.Split(buf.String(), "\n") {
		if i := strings.Index(e1, "mark-sweep: "); i >= 0 && strings.Contains(e1, " -> ") {
			transitions = append(transitions, e1[i+len("mark-sweep: "):])
		}
	}
	require.Equal(t, []string{
		"idle -> marking",
		"marking -> reference processing",
		"reference processing -> sweeping",
		"sweeping -> resizing",
		"resizing -> idle",
	}, transitions)
}

// TestMutators runs several mutator threads allocating through their TLABs and keeping their most recent objects
// alive.
func TestMutators(t *testing.T) {
	const threads, rounds, keep = 4, 3000, 8
	s, r := newScheme(t, Config{InitSize: 128 * kb, TLABSize: 2 * kb})

	var wg sync.WaitGroup
	for i1 := 0; i1 < threads; i1++ {
		h := r.add(keep)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			th := heap.NewThread("t", s)
			th.Enter()
			defer th.Close()
			for i2 := 0; i2 < rounds; i2++ {
				h[i2%keep] = th.AllocateObject(16+8*(i2%12), 0, 0)
				th.Poll()
			}
		}(i1)
	}
	wg.Wait()

	require.Greater(t, s.Stats().Collections, 0)
	require.True(t, s.Collect(heap.Explicit, 0))
	st := s.Stats()
	require.Equal(t, st.Committed-st.Live, st.Free+st.DarkMatter)
	cells := walk(t, s)
	require.Equal(t, st.Live, cells[layout.TagObject])
	for _, e1 := range r.handles {
		for _, e2 := range e1 {
			require.Equal(t, layout.TagObject, layout.TagOf(s.Region().Word(e2)))
		}
	}
}
