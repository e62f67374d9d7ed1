// Package amd64 provides the x86-64 register file and System V calling convention used by the register allocator.
package amd64

import (
	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Register is an x86-64 general purpose or XMM register.
type Register uint8

// Arch implements regfile.Architecture for x86-64.
type Arch struct {
	regfile.Policy
}

// ---------------------
// ----- Constants -----
// ---------------------

// General purpose registers, in hardware encoding order.
const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XMM registers.
const (
	XMM0 Register = iota + 16
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

// R14 holds the thread locals pointer and R11 is the scratch register of the code generator.
const (
	latch   = R14
	scratch = R11
)

const slotSize = 8 // Frame slot size in bytes.

// -------------------
// ----- Globals -----
// -------------------

// names defines print friendly string representations of the registers.
var names = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
	"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
}

// Allocatable registers in order of preference: caller saved first.
var (
	allocatableI = []regfile.Register{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, RBX, R12, R13, R15}
	allocatableF = []regfile.Register{
		XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
		XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15,
	}
	parametersI = []regfile.Register{RDI, RSI, RDX, RCX, R8, R9}
	parametersF = []regfile.Register{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
)

// lookup maps assembler names to registers.
var lookup = func() map[string]regfile.Register {
	m := make(map[string]regfile.Register, len(names))
	for i1, e1 := range names {
		m[e1] = Register(i1)
	}
	return m
}()

// ----------------------------
// ----- Register methods -----
// ----------------------------

// String returns the assembler string of the register.
func (r Register) String() string {
	return names[r]
}

// Id returns the index of the register r.
func (r Register) Id() int {
	return int(r)
}

// Width returns 64 for general purpose registers and 128 for XMM registers.
func (r Register) Width() int {
	if r >= XMM0 {
		return 128
	}
	return 64
}

// Encode returns the 4-bit hardware encoding; the REX extension bit is bit 3.
func (r Register) Encode() uint8 {
	return uint8(r) & 0xf
}

// Category returns the register's location category.
func (r Register) Category() types.LocationCategory {
	if r >= XMM0 {
		return types.FloatingPointRegister
	}
	return types.IntegerRegister
}

// ------------------------
// ----- Arch methods -----
// ------------------------

// New returns the x86-64 architecture.
func New() *Arch {
	return &Arch{}
}

func (a *Arch) Name() string                          { return "amd64" }
func (a *Arch) IntegerRegisters() []regfile.Register  { return allocatableI }
func (a *Arch) FloatRegisters() []regfile.Register    { return allocatableF }
func (a *Arch) IntegerParameters() []regfile.Register { return parametersI }
func (a *Arch) FloatParameters() []regfile.Register   { return parametersF }
func (a *Arch) IntegerReturn() regfile.Register       { return RAX }
func (a *Arch) FloatReturn() regfile.Register         { return XMM0 }
func (a *Arch) StackSlotSize() int                    { return slotSize }

// Lookup returns the register with assembler name name.
func (a *Arch) Lookup(name string) (regfile.Register, bool) {
	r, ok := lookup[name]
	return r, ok
}

// IsAllocatable returns false for the stack and frame pointers, the thread locals latch and the scratch register.
func (a *Arch) IsAllocatable(r regfile.Register) bool {
	switch r {
	case RSP, RBP, latch, scratch:
		return false
	}
	return true
}
