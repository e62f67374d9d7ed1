package heap

import (
	"sync"
	"sync/atomic"

	"maxvm/src/heap/memory"
)

// Safepoints implements the stop-the-world protocol. Mutator threads hold the read side of a RWMutex while they run
// in the VM and release it briefly at every poll point; the collector takes the write side for a whole collection.
// Since a pending writer blocks new readers, a poll parks the thread until the collection has completed.
type Safepoints struct {
	world   sync.RWMutex
	mu      sync.Mutex
	threads map[*Thread]struct{}
	stopped atomic.Bool
}

// NewSafepoints returns the safepoint protocol of one heap, with no threads registered.
func NewSafepoints() *Safepoints {
	return &Safepoints{threads: make(map[*Thread]struct{})}
}

func (s *Safepoints) register(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t] = struct{}{}
}

func (s *Safepoints) unregister(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, t)
}

// Threads returns the number of registered mutator threads.
func (s *Safepoints) Threads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// StopTheWorld returns once every mutator thread is parked outside the VM.
func (s *Safepoints) StopTheWorld() {
	s.world.Lock()
	s.stopped.Store(true)
}

// ResumeTheWorld lets parked mutator threads continue.
func (s *Safepoints) ResumeTheWorld() {
	s.stopped.Store(false)
	s.world.Unlock()
}

// IsStopped returns true while a collection holds the world.
func (s *Safepoints) IsStopped() bool {
	return s.stopped.Load()
}

// RetireTLABs fills the TLABs of all registered threads so that the heap can be walked. The world must be stopped.
func (s *Safepoints) RetireTLABs(r *memory.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.threads {
		t.tlab.Retire(r)
	}
}

func (s *Safepoints) enter() { s.world.RLock() }
func (s *Safepoints) leave() { s.world.RUnlock() }
