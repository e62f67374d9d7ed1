package mse

import (
	"maxvm/src/heap"
	"maxvm/src/heap/layout"
	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// Marker traces the object graph from the roots with an explicit grey stack. Weak reference objects, and soft
// ones when soft references are not kept, are discovered instead of traced through their referent.
type Marker struct {
	region   *memory.Region
	bitmap   *MarkBitmap
	grey     *util.Stack[heap.Address]
	refs     []heap.Address
	keepSoft bool
}

// NewMarker returns a marker for objects in region.
func NewMarker(region *memory.Region) *Marker {
	return &Marker{
		region: region,
		bitmap: NewMarkBitmap(),
		grey:   util.NewStack[heap.Address](256),
	}
}

// Bitmap returns the mark bitmap.
func (m *Marker) Bitmap() *MarkBitmap { return m.bitmap }

// Start clears all marks and discovered references before a new marking phase.
func (m *Marker) Start(keepSoft bool) {
	m.bitmap.Clear()
	m.grey.Reset()
	m.refs = m.refs[:0]
	m.keepSoft = keepSoft
}

// Visit is the root visitor of the marking phase.
func (m *Marker) Visit(ref heap.Address) heap.Address {
	m.MarkObject(ref)
	return ref
}

// MarkRoots marks everything reachable from the roots, the boot heap and compiled code.
func (m *Marker) MarkRoots(roots heap.RootScanner) {
	roots.ScanRoots(m.Visit)
	roots.ScanBootHeap(m.Visit)
	roots.ScanCode(m.Visit)
	m.Drain()
}

// MarkObject greys a white object in the covered range. Marking a grey or black object, or a reference outside the
// heap, does nothing.
func (m *Marker) MarkObject(a heap.Address) {
	if a == 0 || !m.bitmap.Covers(a) || m.bitmap.IsMarked(a) {
		return
	}
	h := m.region.Word(a)
	if layout.TagOf(h) != layout.TagObject {
		util.Fatalf("reference to %s", layout.Describe(m.region, a))
	}
	m.bitmap.setGrey(a)
	m.grey.Push(a)
}

// Drain blackens grey objects, greying their referents, until none are left.
func (m *Marker) Drain() {
	for a, ok := m.grey.Pop(); ok; a, ok = m.grey.Pop() {
		flags := layout.FlagsOf(m.region.Word(a))
		discover := flags&layout.Weak != 0 || (flags&layout.Soft != 0 && !m.keepSoft)
		if discover {
			m.refs = append(m.refs, a)
		}
		layout.ForEachRef(m.region, a, discover, func(slot heap.Address) {
			m.MarkObject(m.region.Ref(slot))
		})
		m.bitmap.setBlack(a)
	}
}

// ProcessReferences clears the referents of discovered reference objects that were not marked otherwise, and
// returns how many were cleared.
func (m *Marker) ProcessReferences() int {
	cleared := 0
	for _, e1 := range m.refs {
		slot := layout.Referent(e1)
		if r := m.region.Ref(slot); r != 0 && m.bitmap.Covers(r) && !m.bitmap.IsMarked(r) {
			m.region.SetRef(slot, 0)
			cleared++
		}
	}
	m.refs = m.refs[:0]
	return cleared
}
