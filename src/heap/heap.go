// Package heap holds the parts of the heap shared by the collectors: spaces and belts carved from a reserved
// region, free chunk lists, the resize policy, thread local allocation buffers and the mutator threads owning them,
// the safepoint protocol, and the collector goroutine running collections while the world is stopped.
package heap

import (
	"maxvm/src/heap/memory"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Address aliases memory.Address for brevity in the collectors.
type Address = memory.Address

// RefVisitor is called with every reference of a root set and returns the reference to store back, which differs
// from its argument when the collector moved the object.
type RefVisitor func(ref Address) Address

// RootScanner supplies the references held outside the collected heap. Each method visits its references
// synchronously; zero references are never passed to the visitor.
type RootScanner interface {
	ScanRoots(v RefVisitor)    // Thread stacks and handles.
	ScanBootHeap(v RefVisitor) // Reference fields of the boot image.
	ScanCode(v RefVisitor)     // References embedded in compiled code.
}

// Reason tells why a collection was requested.
type Reason int

// Scheme is implemented by the collectors.
type Scheme interface {
	// TryAllocate allocates size bytes without collecting, and returns zero if that is not possible.
	TryAllocate(size int) Address

	// TryAllocateTLAB claims a chunk of at most size bytes for a thread local allocation buffer without
	// collecting. It returns zero if no chunk is available.
	TryAllocateTLAB(size int) (Address, int)

	// CanSatisfyAllocation returns true if a request for size bytes would succeed without a collection.
	CanSatisfyAllocation(size int) bool

	// Collect runs a collection on the collector goroutine and returns once it has completed. The caller must not
	// hold the safepoint. It returns false if the heap is out of memory for a request of size bytes.
	Collect(reason Reason, size int) bool

	// Allocate allocates size bytes, collecting once if needed. Running out of memory is fatal. The caller must
	// not hold the safepoint.
	Allocate(size int) Address

	// WriteBarrier is called after a reference was stored into object holder.
	WriteBarrier(holder Address)

	// TLABSize returns the preferred size of thread local allocation buffers.
	TLABSize() int

	Region() *memory.Region
	Safepoints() *Safepoints

	// Walk visits every cell of the heap in address order. The world must be stopped.
	Walk(fn func(a Address, h uint64) bool)

	Stats() Stats
	Close()
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	AllocationFailure Reason = iota // A mutator could not allocate.
	Explicit                        // Requested by a mutator or the VM.
)

// ---------------------
// ----- Functions -----
// ---------------------

func (r Reason) String() string {
	switch r {
	case AllocationFailure:
		return "allocation failure"
	case Explicit:
		return "explicit"
	}
	return "unknown"
}
