// Package riscv provides the RV64GC register file and calling convention used by the register allocator.
package riscv

import (
	"fmt"

	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Register is a base integer register x0-x31 or a floating point register f0-f31.
type Register uint8

// Arch implements regfile.Architecture for RV64GC.
type Arch struct {
	regfile.Policy
}

// ---------------------
// ----- Constants -----
// ---------------------

// Base registers (integer).
const (
	x0  Register = iota // Zero register, RO.
	x1                  // Return address (caller save).
	x2                  // Stack pointer (callee save).
	x3                  // Global pointer.
	x4                  // Thread pointer.
	x5                  // Temp register (caller saved).
	x6                  // Temp register (caller saved).
	x7                  // Temp register (caller saved).
	x8                  // Frame pointer (callee saved).
	x9                  // Saved (callee saved).
	x10                 // Function args and return (caller saved).
	x11                 // Function args and return (caller saved).
	x12                 // Function arguments (caller saved).
	x13                 // Function arguments (caller saved).
	x14                 // Function arguments (caller saved).
	x15                 // Function arguments (caller saved).
	x16                 // Function arguments (caller saved).
	x17                 // Function arguments (caller saved).
	x18                 // Saved (callee saved).
	x19                 // Saved (callee saved).
	x20                 // Saved (callee saved).
	x21                 // Saved (callee saved).
	x22                 // Saved (callee saved).
	x23                 // Saved (callee saved).
	x24                 // Saved (callee saved).
	x25                 // Saved (callee saved).
	x26                 // Saved (callee saved).
	x27                 // Saved (callee saved).
	x28                 // Temp (caller saved).
	x29                 // Temp (caller saved).
	x30                 // Temp (caller saved).
	x31                 // Temp (caller saved).
)

// Floating point registers from the F extension.
const (
	f0 Register = iota + x31 + 1
	f1
	f2
	f3
	f4
	f5
	f6
	f7
	f8
	f9
	f10
	f11
	f12
	f13
	f14
	f15
	f16
	f17
	f18
	f19
	f20
	f21
	f22
	f23
	f24
	f25
	f26
	f27
	f28
	f29
	f30
	f31
)

// Aliases.
const (
	zero = x0 // Zero.
	ra   = x1 // Return address.
	sp   = x2 // Stack pointer.
	gp   = x3 // Global pointer.
	tp   = x4 // Thread pointer.
	fp   = x8 // Frame pointer.
	a0   = x10
	fa0  = f10
)

const word64 = 8 // word64 defines the length of a 64-bit architecture word.

// -------------------
// ----- Globals -----
// -------------------

// abi contains the ABI mnemonics of the base integer registers.
var abi = [...]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"fp", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// fabi contains the ABI mnemonics of the floating point registers.
var fabi = [...]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

var (
	// Temporaries and argument registers first, then saved registers.
	allocatableI = []regfile.Register{
		x5, x6, x7, x28, x29, x30, x31,
		x10, x11, x12, x13, x14, x15, x16, x17,
		x9, x18, x19, x20, x21, x22, x23, x24, x25, x26, x27,
	}
	allocatableF = []regfile.Register{
		f0, f1, f2, f3, f4, f5, f6, f7, f28, f29, f30, f31,
		f10, f11, f12, f13, f14, f15, f16, f17,
		f8, f9, f18, f19, f20, f21, f22, f23, f24, f25, f26, f27,
	}
	parametersI = []regfile.Register{x10, x11, x12, x13, x14, x15, x16, x17}
	parametersF = []regfile.Register{f10, f11, f12, f13, f14, f15, f16, f17}
)

// lookup accepts both the numeric and the ABI names.
var lookup = func() map[string]regfile.Register {
	m := make(map[string]regfile.Register, 128)
	for i1 := range abi {
		m[abi[i1]] = Register(i1)
		m[fmt.Sprintf("x%d", i1)] = Register(i1)
		m[fabi[i1]] = f0 + Register(i1)
		m[fmt.Sprintf("f%d", i1)] = f0 + Register(i1)
	}
	m["s0"] = fp
	return m
}()

// ----------------------------
// ----- Register methods -----
// ----------------------------

// String returns the ABI mnemonic of the register.
func (r Register) String() string {
	if r >= f0 {
		return fabi[r-f0]
	}
	return abi[r]
}

// Id returns the index of the register r.
func (r Register) Id() int {
	return int(r)
}

// Width returns 64: RV64 with the D extension.
func (r Register) Width() int {
	return word64 * 8
}

// Encode returns the 5-bit register number.
func (r Register) Encode() uint8 {
	if r >= f0 {
		return uint8(r - f0)
	}
	return uint8(r)
}

// Category returns the register's location category.
func (r Register) Category() types.LocationCategory {
	if r >= f0 {
		return types.FloatingPointRegister
	}
	return types.IntegerRegister
}

// ------------------------
// ----- Arch methods -----
// ------------------------

// New returns the RV64GC architecture.
func New() *Arch {
	return &Arch{}
}

func (a *Arch) Name() string                          { return "riscv64" }
func (a *Arch) IntegerRegisters() []regfile.Register  { return allocatableI }
func (a *Arch) FloatRegisters() []regfile.Register    { return allocatableF }
func (a *Arch) IntegerParameters() []regfile.Register { return parametersI }
func (a *Arch) FloatParameters() []regfile.Register   { return parametersF }
func (a *Arch) IntegerReturn() regfile.Register       { return a0 }
func (a *Arch) FloatReturn() regfile.Register         { return fa0 }
func (a *Arch) StackSlotSize() int                    { return word64 }

// Lookup returns the register with numeric or ABI name name.
func (a *Arch) Lookup(name string) (regfile.Register, bool) {
	r, ok := lookup[name]
	return r, ok
}

// IsAllocatable returns false for zero, ra, sp, gp, tp and fp.
func (a *Arch) IsAllocatable(r regfile.Register) bool {
	switch r {
	case zero, ra, sp, gp, tp, fp:
		return false
	}
	return true
}
