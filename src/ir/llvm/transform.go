// Package llvm imports LLVM IR modules, as parsed by the system installed LLVM runtime, into EIR methods for the
// register allocator.
package llvm

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// function holds the state of converting one LLVM function.
type function struct {
	arch   regfile.Architecture
	fn     llvm.Value
	m      *eir.Method
	values map[llvm.Value]eir.Value
	blocks map[llvm.BasicBlock]*eir.Block
	phis   []llvm.Value
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	parameterBase = 16 // Frame offset of the first stack parameter, past return address and frame pointer.
)

// -------------------
// ----- Globals -----
// -------------------

// mnemonics names the LLVM opcodes that commonly appear in functions. Others are named by number.
var mnemonics = map[llvm.Opcode]string{
	llvm.Add:           "add",
	llvm.FAdd:          "fadd",
	llvm.Sub:           "sub",
	llvm.FSub:          "fsub",
	llvm.Mul:           "mul",
	llvm.FMul:          "fmul",
	llvm.UDiv:          "udiv",
	llvm.SDiv:          "sdiv",
	llvm.FDiv:          "fdiv",
	llvm.URem:          "urem",
	llvm.SRem:          "srem",
	llvm.Shl:           "shl",
	llvm.LShr:          "lshr",
	llvm.AShr:          "ashr",
	llvm.And:           "and",
	llvm.Or:            "or",
	llvm.Xor:           "xor",
	llvm.Alloca:        "alloca",
	llvm.Load:          "load",
	llvm.Store:         "store",
	llvm.GetElementPtr: "gep",
	llvm.Trunc:         "trunc",
	llvm.ZExt:          "zext",
	llvm.SExt:          "sext",
	llvm.SIToFP:        "sitofp",
	llvm.FPToSI:        "fptosi",
	llvm.BitCast:       "bitcast",
	llvm.ICmp:          "icmp",
	llvm.FCmp:          "fcmp",
	llvm.Select:        "select",
}

// ---------------------
// ----- Functions -----
// ---------------------

// Import parses the LLVM IR file at path and converts every function defined in it into an EIR method. Arguments
// arrive in the parameter registers of arch, or in parameter stack slots once those run out; call arguments, call
// results and return values require the corresponding registers.
func Import(path string, arch regfile.Architecture) ([]*eir.Method, error) {
	ctx := llvm.NewContext()
	defer ctx.Dispose()

	buf, err := llvm.NewMemoryBufferFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read LLVM IR file %q: %w", path, err)
	}
	mod, err := ctx.ParseIR(buf)
	if err != nil {
		return nil, fmt.Errorf("could not parse LLVM IR file %q: %w", path, err)
	}
	defer mod.Dispose()

	var methods []*eir.Method
	for fn := mod.FirstFunction(); !fn.IsNil(); fn = llvm.NextFunction(fn) {
		if fn.IsDeclaration() {
			continue
		}
		f := &function{
			arch:   arch,
			fn:     fn,
			m:      eir.NewMethod(fn.Name()),
			values: make(map[llvm.Value]eir.Value),
			blocks: make(map[llvm.BasicBlock]*eir.Block),
		}
		methods = append(methods, f.convert())
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no function definitions in %q", path)
	}
	return methods, nil
}

// kindOf returns the EIR kind of LLVM type t, and false for void.
func kindOf(t llvm.Type) (types.Kind, bool) {
	switch t.TypeKind() {
	case llvm.VoidTypeKind, llvm.LabelTypeKind, llvm.MetadataTypeKind:
		return 0, false
	case llvm.FloatTypeKind, llvm.DoubleTypeKind, llvm.X86_FP80TypeKind, llvm.FP128TypeKind:
		return types.Float, true
	case llvm.PointerTypeKind:
		return types.Reference, true
	}
	return types.Int, true
}

// mnemonic returns the EIR mnemonic of opcode op.
func mnemonic(op llvm.Opcode) string {
	if s, ok := mnemonics[op]; ok {
		return s
	}
	return fmt.Sprintf("op%d", int(op))
}

// convert builds the EIR method of the function.
func (f *function) convert() *eir.Method {
	// Blocks in layout order, then loop depths from back edges.
	var order []llvm.BasicBlock
	for bb := f.fn.FirstBasicBlock(); !bb.IsNil(); bb = llvm.NextBasicBlock(bb) {
		name := bb.AsValue().Name()
		if len(name) == 0 {
			name = fmt.Sprintf("bb%d", len(order))
		}
		f.blocks[bb] = f.m.NewBlock(name, 0)
		order = append(order, bb)
	}

	// Every instruction producing a value defines a variable.
	for _, e1 := range order {
		for inst := e1.FirstInstruction(); !inst.IsNil(); inst = llvm.NextInstruction(inst) {
			if k, ok := kindOf(inst.Type()); ok {
				f.values[inst] = f.m.NewVariable(inst.Name(), k)
			}
		}
	}

	f.parameters()
	for _, e1 := range order {
		for inst := e1.FirstInstruction(); !inst.IsNil(); inst = llvm.NextInstruction(inst) {
			f.instruction(f.blocks[e1], inst)
		}
	}
	f.resolvePhis()
	f.loopDepths()
	return f.m
}

// parameters copies the incoming arguments out of their pre-allocated locations at the start of the entry block, so
// that argument registers are free for outgoing calls.
func (f *function) parameters() {
	entry := f.m.Blocks()[0]
	var nInt, nFloat, nStack int
	for i1, e1 := range f.fn.Params() {
		k, _ := kindOf(e1.Type())
		var l eir.Location
		switch {
		case k == types.Float && nFloat < len(f.arch.FloatParameters()):
			l = f.arch.FloatParameters()[nFloat]
			nFloat++
		case k != types.Float && nInt < len(f.arch.IntegerParameters()):
			l = f.arch.IntegerParameters()[nInt]
			nInt++
		default:
			l = eir.StackSlot{Offset: parameterBase + nStack*f.arch.StackSlotSize(), Purpose: eir.Parameter}
			nStack++
		}
		name := e1.Name()
		if len(name) == 0 {
			name = fmt.Sprintf("arg%d", i1)
		}
		p := f.m.NewFixed(name+".in", k, l)
		v := f.m.NewVariable(name, k)
		entry.Assign(v, p)
		f.values[e1] = v
	}
}

// value returns the EIR value of LLVM operand v, creating constants on demand. Constants other than integers are
// only tracked by kind.
func (f *function) value(v llvm.Value) eir.Value {
	if r, ok := f.values[v]; ok {
		return r
	}
	k, _ := kindOf(v.Type())
	var c *eir.Constant
	if !v.IsAConstantInt().IsNil() {
		c = f.m.NewConstant(k, v.SExtValue())
	} else {
		c = f.m.NewConstant(k, 0)
	}
	f.values[v] = c
	return c
}

// returnRegister returns the register holding return values of kind k.
func (f *function) returnRegister(k types.Kind) eir.Location {
	if k == types.Float {
		return f.arch.FloatReturn()
	}
	return f.arch.IntegerReturn()
}

// instruction appends the EIR form of inst to block b.
func (f *function) instruction(b *eir.Block, inst llvm.Value) {
	op := inst.InstructionOpcode()
	switch op {
	case llvm.PHI:
		// Resolved by assignments in the predecessors once all blocks are converted.
		f.phis = append(f.phis, inst)
	case llvm.Ret:
		if inst.OperandsCount() == 0 {
			b.Return()
			return
		}
		v := f.value(inst.Operand(0))
		b.Return(eir.Use(v).Require(f.returnRegister(v.Kind())))
	case llvm.Br, llvm.Switch, llvm.IndirectBr:
		var ops []*eir.Operand
		for i1 := 0; i1 < inst.OperandsCount(); i1++ {
			o := inst.Operand(i1)
			if o.IsBasicBlock() {
				b.AddSuccessor(f.blocks[o.AsBasicBlock()])
				continue
			}
			ops = append(ops, eir.Use(f.value(o)))
		}
		b.Jump(ops...)
	case llvm.Unreachable:
		b.Return()
	case llvm.Call:
		f.call(b, inst)
	default:
		var ops []*eir.Operand
		if v, ok := f.values[inst]; ok {
			ops = append(ops, eir.Def(v))
		}
		for i1 := 0; i1 < inst.OperandsCount(); i1++ {
			o := inst.Operand(i1)
			if o.IsBasicBlock() {
				continue
			}
			ops = append(ops, eir.Use(f.value(o)))
		}
		b.Op(mnemonic(op), ops...)
	}
}

// call converts a call: arguments are passed in parameter registers while they last and on the stack after that,
// and the result is returned in the return register of its kind.
func (f *function) call(b *eir.Block, inst llvm.Value) {
	n := inst.OperandsCount() - 1 // The last operand is the callee.
	callee := inst.Operand(n)
	indirect := callee.IsAFunction().IsNil()
	name := callee.Name()
	if indirect {
		name = "indirect"
	}

	var ops []*eir.Operand
	if v, ok := f.values[inst]; ok {
		ops = append(ops, eir.Def(v).Require(f.returnRegister(v.Kind())))
	}
	var nInt, nFloat int
	for i1 := 0; i1 < n; i1++ {
		v := f.value(inst.Operand(i1))
		o := eir.Use(v)
		switch {
		case v.Kind() == types.Float && nFloat < len(f.arch.FloatParameters()):
			o.Require(f.arch.FloatParameters()[nFloat])
			nFloat++
		case v.Kind() != types.Float && nInt < len(f.arch.IntegerParameters()):
			o.Require(f.arch.IntegerParameters()[nInt])
			nInt++
		}
		ops = append(ops, o)
	}
	if indirect {
		// Call through a register.
		ops = append(ops, eir.Use(f.value(callee)))
	}
	b.Append(eir.NewInstruction(types.Call, name, ops...))
}

// resolvePhis replaces every PHI node by assignments in front of the terminators of its predecessors.
func (f *function) resolvePhis() {
	for _, e1 := range f.phis {
		dst := f.values[e1]
		for i2 := 0; i2 < e1.IncomingCount(); i2++ {
			pred := f.blocks[e1.IncomingBlock(i2)]
			mov := eir.NewAssignment(dst, f.value(e1.IncomingValue(i2)))
			insts := pred.Instructions()
			if len(insts) == 0 {
				pred.Append(mov)
				continue
			}
			pred.InsertBefore(insts[len(insts)-1], mov)
		}
	}
}

// loopDepths increments the loop depth of every block between the target and source of each back edge, in layout
// order.
func (f *function) loopDepths() {
	blocks := f.m.Blocks()
	for _, e1 := range blocks {
		for _, e2 := range e1.Successors() {
			if e2.Serial() > e1.Serial() {
				continue
			}
			for _, e3 := range blocks[e2.Serial() : e1.Serial()+1] {
				e3.SetLoopDepth(e3.LoopDepth() + 1)
			}
		}
	}
}
