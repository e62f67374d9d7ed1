// Package arm provides the aarch64 register file and procedure call standard used by the register allocator.
package arm

import (
	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Register defines a physical register: integer registers x0-x30 and sp, followed by floating point registers d0-d31.
type Register uint8

// Arch implements regfile.Architecture for aarch64.
type Arch struct {
	regfile.Policy
}

// ---------------------
// ----- Constants -----
// ---------------------

const wordSize64 = 8 // Word size in bytes for 64-bit architecture.

// loopWeight is the smallest variable weight that indicates an operand inside a loop: a single use at loop depth one
// weighs 3 * (1*8 + 1).
const loopWeight = 27

// Integer general purpose registers.
const (
	r0 Register = iota
	r1
	r2
	r3
	r4
	r5
	r6
	r7
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
	r16
	r17
	r18
	r19
	r20
	r21
	r22
	r23
	r24
	r25
	r26
	r27
	r28
	r29
	r30
	sp
)

// Floating point general purpose registers.
const (
	v0 Register = iota + sp + 1
	v1
	v2
	v3
	v4
	v5
	v6
	v7
	v8
	v9
	v10
	v11
	v12
	v13
	v14
	v15
	v16
	v17
	v18
	v19
	v20
	v21
	v22
	v23
	v24
	v25
	v26
	v27
	v28
	v29
	v30
	v31
)

// From: https://documentation-service.arm.com/static/5fa43415b1a7c5445f292563?token=
//
// General purpose integer registers.
//
// r19-28	Callee saved registers.
// r18		Do not use for platform independent code.
// r16-r17	Intra-procedure-call scratch registers.
// r9-r15	Temporary registers (caller saved).
// r8		Indirect result location register.
// r0-r7	Parameter and result registers.
//
// Floating point registers.
//
// v0-v7	Parameter and result registers.
// v8-v15	Callee saved registers.
// v16-v31	Temporary registers.

const (
	lr = r30 // Link register.
	fp = r29 // Frame pointer (top of stack frame).
)

// -------------------
// ----- Globals -----
// -------------------

// names defines print friendly string representations of the registers.
var names = [...]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28", "fp", "lr", "sp",
	"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7",
	"d8", "d9", "d10", "d11", "d12", "d13", "d14", "d15",
	"d16", "d17", "d18", "d19", "d20", "d21", "d22", "d23",
	"d24", "d25", "d26", "d27", "d28", "d29", "d30", "d31",
}

var (
	// Temporaries first, then callee saved registers.
	allocatableI = []regfile.Register{
		r9, r10, r11, r12, r13, r14, r15, r0, r1, r2, r3, r4, r5, r6, r7, r8,
		r19, r20, r21, r22, r23, r24, r25, r26, r27, r28,
	}
	allocatableF = []regfile.Register{
		v16, v17, v18, v19, v20, v21, v22, v23, v24, v25, v26, v27, v28, v29, v30, v31,
		v0, v1, v2, v3, v4, v5, v6, v7, v8, v9, v10, v11, v12, v13, v14, v15,
	}
	calleeSavedI = []regfile.Register{r19, r20, r21, r22, r23, r24, r25, r26, r27, r28}
	calleeSavedF = []regfile.Register{v8, v9, v10, v11, v12, v13, v14, v15}
	parametersI  = []regfile.Register{r0, r1, r2, r3, r4, r5, r6, r7}
	parametersF = []regfile.Register{v0, v1, v2, v3, v4, v5, v6, v7}
)

var lookup = func() map[string]regfile.Register {
	m := make(map[string]regfile.Register, len(names)+2)
	for i1, e1 := range names {
		m[e1] = Register(i1)
	}
	m["x29"] = fp
	m["x30"] = lr
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

// Width returns the register size in bits.
func (r Register) Width() int {
	return wordSize64 * 8
}

// Encode returns the 5-bit register number used in instruction encodings. sp encodes as 31.
func (r Register) Encode() uint8 {
	if r >= v0 {
		return uint8(r - v0)
	}
	return uint8(r)
}

// Category returns the register's location category.
func (r Register) Category() types.LocationCategory {
	if r >= v0 {
		return types.FloatingPointRegister
	}
	return types.IntegerRegister
}

// ------------------------
// ----- Arch methods -----
// ------------------------

// New returns the aarch64 architecture.
func New() *Arch {
	return &Arch{}
}

func (a *Arch) Name() string                          { return "aarch64" }
func (a *Arch) IntegerRegisters() []regfile.Register  { return allocatableI }
func (a *Arch) FloatRegisters() []regfile.Register    { return allocatableF }
func (a *Arch) IntegerParameters() []regfile.Register { return parametersI }
func (a *Arch) FloatParameters() []regfile.Register   { return parametersF }
func (a *Arch) IntegerReturn() regfile.Register       { return r0 }
func (a *Arch) FloatReturn() regfile.Register         { return v0 }
func (a *Arch) StackSlotSize() int                    { return wordSize64 }

// Lookup returns the register with assembler name name.
func (a *Arch) Lookup(name string) (regfile.Register, bool) {
	r, ok := lookup[name]
	return r, ok
}

// IsAllocatable returns false for the platform register, the intra-procedure-call scratch registers, fp, lr and sp.
func (a *Arch) IsAllocatable(r regfile.Register) bool {
	switch r {
	case r16, r17, r18, fp, lr, sp:
		return false
	}
	return true
}

// AllocateRegisterFor prefers callee saved registers for variables whose weight shows they are used inside loops,
// keeping the caller saved temporaries for short lived values.
func (a *Arch) AllocateRegisterFor(v *eir.Variable, available *regfile.Set) regfile.Register {
	if v.Weight() >= loopWeight {
		saved := calleeSavedI
		if v.Kind() == types.Float {
			saved = calleeSavedF
		}
		for _, e1 := range saved {
			if available.Contains(e1) {
				return e1
			}
		}
	}
	return a.Policy.AllocateRegisterFor(v, available)
}
