package mutator

import (
	"sort"
	"sync"

	"maxvm/src/heap"
)

// Roots is the root set of a workload: the handles of every thread, plus objects pinned as boot heap or code
// references. A thread only touches its own handles, and only while it holds the safepoint, so the collector can
// update them with the world stopped.
type Roots struct {
	mu      sync.Mutex
	threads map[string]Handles
	boot    []heap.Address
	code    []heap.Address
}

// Handles maps handle names to objects.
type Handles map[string]heap.Address

func NewRoots() *Roots {
	return &Roots{threads: make(map[string]Handles)}
}

// Handles returns the handles of thread name, creating them on first use.
func (r *Roots) Handles(name string) Handles {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.threads[name]
	if !ok {
		h = make(Handles)
		r.threads[name] = h
	}
	return h
}

// Pin keeps a alive as a boot heap reference, or as a code reference if code is true.
func (r *Roots) Pin(a heap.Address, code bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code {
		r.code = append(r.code, a)
	} else {
		r.boot = append(r.boot, a)
	}
}

// Len returns the number of references in the root set.
func (r *Roots) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.boot) + len(r.code)
	for _, e1 := range r.threads {
		n += len(e1)
	}
	return n
}

// ScanRoots visits the handles thread by thread, in name order.
func (r *Roots) ScanRoots(v heap.RefVisitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.threads))
	for k := range r.threads {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, e1 := range names {
		h := r.threads[e1]
		for k, a := range h {
			h[k] = v(a)
		}
	}
}

func (r *Roots) ScanBootHeap(v heap.RefVisitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	visit(r.boot, v)
}

func (r *Roots) ScanCode(v heap.RefVisitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	visit(r.code, v)
}

func visit(refs []heap.Address, v heap.RefVisitor) {
	for i1, e1 := range refs {
		refs[i1] = v(e1)
	}
}
