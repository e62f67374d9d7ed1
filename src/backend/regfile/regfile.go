// Package regfile provides the architecture independent view of physical registers used by the register allocator.
package regfile

import (
	"maxvm/src/ir/eir"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Register defines a physical register. Every architecture implements it with a closed enumeration backed by a
// table, so registers are comparable values usable as eir.Location.
type Register interface {
	eir.Location
	Id() int       // The unique id of the register within its architecture.
	Width() int    // Width returns the register width in bits.
	Encode() uint8 // Encode returns the hardware encoding of the register.
}

// Architecture defines the register file and calling convention of a target, and the allocation policy hooks an
// architecture may override.
type Architecture interface {
	Name() string                 // Name returns the architecture identifier.
	IntegerRegisters() []Register // Allocatable integer registers in order of preference.
	FloatRegisters() []Register   // Allocatable floating point registers in order of preference.
	IntegerParameters() []Register
	FloatParameters() []Register
	IntegerReturn() Register
	FloatReturn() Register
	StackSlotSize() int                  // StackSlotSize returns the size of a frame slot in bytes.
	Lookup(name string) (Register, bool) // Lookup returns the register with assembler name name.
	IsAllocatable(r Register) bool       // IsAllocatable returns true if the allocator may hand out r.
	AllocateRegisterFor(v *eir.Variable, available *Set) Register
	RemoveInterferingRegisters(l eir.Location, available *Set)
}

// Set is a set of registers of one architecture that remembers the preference order of its universe.
type Set struct {
	order   []Register
	members *util.BitSet
}

// Policy implements the default allocation hooks of Architecture. Architectures embed it and shadow the methods they
// need to refine, for instance when registers alias each other.
type Policy struct{}

// ---------------------
// ----- Functions -----
// ---------------------

// NewSet returns a set holding all registers of regs, in that order of preference.
func NewSet(regs []Register) *Set {
	s := &Set{
		order:   regs,
		members: util.NewBitSet(len(regs)),
	}
	for _, e1 := range regs {
		s.members.Set(e1.Id())
	}
	return s
}

// Contains returns true if r is in the set.
func (s *Set) Contains(r Register) bool {
	return s.members.Test(r.Id())
}

// Remove deletes r from the set.
func (s *Set) Remove(r Register) {
	s.members.Clear(r.Id())
}

// First returns the most preferred member, or <nil>.
func (s *Set) First() Register {
	for _, e1 := range s.order {
		if s.members.Test(e1.Id()) {
			return e1
		}
	}
	return nil
}

// Len returns the number of members.
func (s *Set) Len() int {
	return s.members.Count()
}

// AllocateRegisterFor returns the most preferred available register, or <nil>.
func (Policy) AllocateRegisterFor(v *eir.Variable, available *Set) Register {
	return available.First()
}

// RemoveInterferingRegisters removes the register at location l, if any, from the available set.
func (Policy) RemoveInterferingRegisters(l eir.Location, available *Set) {
	if r, ok := l.(Register); ok {
		available.Remove(r)
	}
}
