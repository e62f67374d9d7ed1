// Package types defines EIR value kinds, operand effects, location categories and instruction types.
package types

import "strings"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Kind defines the kind of value held by an EIR variable.
type Kind uint8

// Effect defines how an instruction accesses the value of an operand.
type Effect uint8

// LocationCategory is a bit set of the location classes an operand or variable may be assigned to.
type LocationCategory uint8

// InstructionType defines the different types of EIR instructions.
type InstructionType uint8

// ---------------------
// ----- Constants -----
// ---------------------

const (
	Int       Kind = iota // Int identifies integer and word sized values.
	Float                 // Float identifies floating point values.
	Reference             // Reference identifies heap references tracked by the garbage collector.
)

const (
	Definition Effect = iota // Definition identifies an operand that is written by its instruction.
	Use                      // Use identifies an operand that is read by its instruction.
	Update                   // Update identifies an operand that is both read and written by its instruction.
)

const (
	IntegerRegister       LocationCategory = 1 << iota // IntegerRegister identifies general purpose registers.
	FloatingPointRegister                              // FloatingPointRegister identifies floating point registers.
	StackSlot                                          // StackSlot identifies frame slots.
	Immediate                                          // Immediate identifies constants encoded in the instruction.
)

// Common category sets.
const (
	None      LocationCategory = 0
	Registers                  = IntegerRegister | FloatingPointRegister
	Any                        = IntegerRegister | FloatingPointRegister | StackSlot | Immediate
)

const (
	Operation  InstructionType = iota // Operation is an arbitrary machine operation.
	Assignment                        // Assignment copies its source operand into its destination operand.
	Branch                            // Branch transfers control to the successors of its block.
	Return                            // Return leaves the method.
	Call                              // Call invokes another method.
	Filler                            // Filler is a redundant placeholder left behind by removed instructions.
)

// -------------------
// ----- Globals -----
// -------------------

// kTyp provides string literals for Kind constants.
var kTyp = [...]string{
	"int",
	"float",
	"ref",
}

// eTyp provides string literals for Effect constants.
var eTyp = [...]string{
	"def",
	"use",
	"upd",
}

// cTyp provides string literals for LocationCategory bits in ascending bit order.
var cTyp = [...]string{
	"reg",
	"freg",
	"stack",
	"imm",
}

// iTyp provides string literals for InstructionType constants.
var iTyp = [...]string{
	"op",
	"mov",
	"br",
	"ret",
	"call",
	"nop",
}

// ---------------------
// ----- Functions -----
// ---------------------

// String provides a print friendly string representation of the Kind.
func (k Kind) String() string {
	return kTyp[k]
}

// IsReference returns true for the Reference kind.
func (k Kind) IsReference() bool {
	return k == Reference
}

// Registers returns the register category values of Kind k may reside in.
func (k Kind) Registers() LocationCategory {
	if k == Float {
		return FloatingPointRegister
	}
	return IntegerRegister
}

// String provides a print friendly string representation of the Effect.
func (e Effect) String() string {
	return eTyp[e]
}

// Reads returns true if the effect reads the operand's value.
func (e Effect) Reads() bool {
	return e != Definition
}

// Writes returns true if the effect writes the operand's value.
func (e Effect) Writes() bool {
	return e != Use
}

// Contains returns true if every category in o is also in c.
func (c LocationCategory) Contains(o LocationCategory) bool {
	return c&o == o
}

// Intersects returns true if c and o have a category in common.
func (c LocationCategory) Intersects(o LocationCategory) bool {
	return c&o != 0
}

// String provides a print friendly string representation of the LocationCategory, e.g. "reg|stack".
func (c LocationCategory) String() string {
	if c == None {
		return "none"
	}
	parts := make([]string, 0, len(cTyp))
	for i1, e1 := range cTyp {
		if c&(1<<uint(i1)) != 0 {
			parts = append(parts, e1)
		}
	}
	return strings.Join(parts, "|")
}

// String provides a print friendly string representation of the InstructionType.
func (t InstructionType) String() string {
	return iTyp[t]
}
