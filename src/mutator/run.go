package mutator

import (
	"fmt"
	"sync"

	"maxvm/src/heap"
	"maxvm/src/heap/layout"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Result summarises a workload run.
type Result struct {
	Threads map[string]heap.ThreadStats
	Heap    heap.Stats
}

// mutator runs the script of one thread.
type mutator struct {
	script  *Script
	thread  *heap.Thread
	scheme  heap.Scheme
	handles Handles
	roots   *Roots
	barrier *barrier
	log     *util.Logger
}

// barrier blocks threads at sync commands until every thread still running has arrived.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	gen     int
}

// ---------------------
// ----- Functions -----
// ---------------------

func newBarrier(n int) *barrier {
	b := &barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.waiting++
	if b.waiting >= b.parties {
		b.release()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// leave removes a finished thread from the barrier.
func (b *barrier) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties--
	if b.waiting > 0 && b.waiting >= b.parties {
		b.release()
	}
}

func (b *barrier) release() {
	b.waiting = 0
	b.gen++
	b.cond.Broadcast()
}

// Run runs every thread of w to completion. Script errors, such as unknown handles or failed expectations, are
// returned; running out of memory is fatal and re-raised on the calling goroutine.
func Run(w *Workload, s heap.Scheme, roots *Roots, log *util.Logger) (Result, error) {
	res := Result{Threads: make(map[string]heap.ThreadStats)}
	mx := sync.Mutex{}
	b := newBarrier(len(w.Scripts))
	perr := util.NewPerror(len(w.Scripts))

	wg := sync.WaitGroup{}
	wg.Add(len(w.Scripts))
	for _, e1 := range w.Scripts {
		m := &mutator{
			script:  e1,
			thread:  heap.NewThread(e1.Name, s),
			scheme:  s,
			handles: roots.Handles(e1.Name),
			roots:   roots,
			barrier: b,
			log:     log,
		}
		go func(m *mutator) {
			defer wg.Done()
			defer perr.Recover()
			defer b.leave()
			defer func() {
				m.thread.Close()
				mx.Lock()
				res.Threads[m.script.Name] = m.thread.Stats()
				mx.Unlock()
			}()
			m.thread.Enter()
			perr.Append(m.run())
		}(m)
	}
	wg.Wait()
	perr.Stop()
	res.Heap = s.Stats()

	if fe := perr.Fatal(); fe != nil {
		panic(fe)
	}
	if perr.Len() > 0 {
		var first error
		for e1 := range perr.Errors() {
			log.Errorf("%s", e1)
			if first == nil {
				first = e1
			}
		}
		return res, fmt.Errorf("%d thread(s) failed, first: %s", perr.Len(), first)
	}
	return res, nil
}

func (m *mutator) run() error {
	for _, e1 := range m.script.Commands {
		for i1 := 0; i1 < e1.Repeat; i1++ {
			if err := m.exec(e1); err != nil {
				return fmt.Errorf("thread %s, line %d: %s: %s", m.script.Name, e1.Line, e1.Op, err)
			}
			m.thread.Poll()
		}
	}
	return nil
}

func (m *mutator) handle(name string) (heap.Address, error) {
	a, ok := m.handles[name]
	if !ok {
		return 0, fmt.Errorf("unknown handle %s", name)
	}
	return a, nil
}

// slot returns payload word i of the object held by handle name, which must be a reference field.
func (m *mutator) slot(name string, i int) (heap.Address, heap.Address, error) {
	a, err := m.handle(name)
	if err != nil {
		return 0, 0, err
	}
	if i >= layout.MaxRefWords || layout.RefMap(m.scheme.Region(), a)&(1<<uint(i)) == 0 {
		return 0, 0, fmt.Errorf("payload word %d of %s is not a reference", i, name)
	}
	return a, layout.Slot(a, i), nil
}

func refMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(n) - 1
}

func (m *mutator) exec(c Command) error {
	r := m.scheme.Region()
	switch c.Op {
	case OpAlloc:
		m.handles[c.Handle] = m.thread.AllocateObject(c.Size, refMask(c.Refs), 0)
	case OpWeak, OpSoft:
		if _, err := m.handle(c.Other); err != nil {
			return err
		}
		flags := layout.Weak
		if c.Op == OpSoft {
			flags = layout.Soft
		}
		a := m.thread.AllocateObject(c.Size, 1, flags)
		r.SetRef(layout.Referent(a), m.handles[c.Other])
		m.scheme.WriteBarrier(a)
		m.handles[c.Handle] = a
	case OpStore:
		holder, slot, err := m.slot(c.Handle, c.Index)
		if err != nil {
			return err
		}
		v, err := m.handle(c.Other)
		if err != nil {
			return err
		}
		r.SetRef(slot, v)
		m.scheme.WriteBarrier(holder)
	case OpLoad:
		_, slot, err := m.slot(c.Other, c.Index)
		if err != nil {
			return err
		}
		if v := r.Ref(slot); v != 0 {
			m.handles[c.Handle] = v
		} else {
			delete(m.handles, c.Handle)
		}
	case OpClear:
		_, slot, err := m.slot(c.Handle, c.Index)
		if err != nil {
			return err
		}
		r.SetRef(slot, 0)
	case OpDrop:
		if _, err := m.handle(c.Handle); err != nil {
			return err
		}
		delete(m.handles, c.Handle)
	case OpRoot:
		a, err := m.handle(c.Handle)
		if err != nil {
			return err
		}
		m.roots.Pin(a, c.Kind == "code")
	case OpGC:
		m.thread.Collect()
	case OpSync:
		m.thread.Blocking(m.barrier.wait)
	case OpExpect:
		return m.expect(c)
	case OpStats:
		st := m.scheme.Stats()
		ts := m.thread.Stats()
		m.log.Infof("%s: heap %s: %d collection(s), %d of %d bytes used; thread: %d object(s), %d bytes, %d refill(s)",
			m.script.Name, st.Scheme, st.Collections, st.Used, st.Committed, ts.Objects, ts.Allocated, ts.Refills)
	}
	return nil
}

func (m *mutator) expect(c Command) error {
	r := m.scheme.Region()
	if c.Kind == ExpectCollections {
		if n := m.scheme.Stats().Collections; n < c.Count {
			return fmt.Errorf("expected at least %d collection(s), got %d", c.Count, n)
		}
		return nil
	}
	a, err := m.handle(c.Handle)
	if err != nil {
		return err
	}
	h := r.Word(a)
	if layout.TagOf(h) != layout.TagObject {
		return fmt.Errorf("handle %s holds %s", c.Handle, layout.Describe(r, a))
	}
	if c.Kind == ExpectLive {
		return nil
	}
	if layout.FlagsOf(h)&(layout.Weak|layout.Soft) == 0 {
		return fmt.Errorf("handle %s is not a reference object", c.Handle)
	}
	referent := r.Ref(layout.Referent(a))
	switch {
	case c.Kind == ExpectCleared && referent != 0:
		return fmt.Errorf("referent of %s was not cleared", c.Handle)
	case c.Kind == ExpectReferent && referent == 0:
		return fmt.Errorf("referent of %s was cleared", c.Handle)
	}
	return nil
}
