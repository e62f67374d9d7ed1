package eir

import (
	"fmt"

	"maxvm/src/ir/eir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Location is a machine resident place for a value: a register, a stack slot or an immediate.
// Locations are compared with ==, so implementations must be comparable value types.
type Location interface {
	Category() types.LocationCategory // Category returns the single category of the location.
	String() string                   // String returns the assembler string of the location.
}

// SlotPurpose distinguishes slots in the caller's argument area from slots in the method's own frame.
type SlotPurpose uint8

// StackSlot is a frame slot identified by its offset and purpose.
type StackSlot struct {
	Offset  int
	Purpose SlotPurpose
}

// Immediate is a constant encoded directly in an instruction.
type Immediate struct {
	Value int64
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	Local     SlotPurpose = iota // Local identifies a slot in the method's own frame.
	Parameter                    // Parameter identifies an incoming stack parameter.
)

// ---------------------
// ----- Functions -----
// ---------------------

// Category returns types.StackSlot.
func (s StackSlot) Category() types.LocationCategory {
	return types.StackSlot
}

// String returns "local:<offset>" or "param:<offset>".
func (s StackSlot) String() string {
	if s.Purpose == Parameter {
		return fmt.Sprintf("param:%d", s.Offset)
	}
	return fmt.Sprintf("local:%d", s.Offset)
}

// Category returns types.Immediate.
func (i Immediate) Category() types.LocationCategory {
	return types.Immediate
}

// String returns "#<value>".
func (i Immediate) String() string {
	return fmt.Sprintf("#%d", i.Value)
}

// IsStackSlot returns the StackSlot held by Location l, if any.
func IsStackSlot(l Location) (StackSlot, bool) {
	s, ok := l.(StackSlot)
	return s, ok
}
