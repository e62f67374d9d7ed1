package eir

import (
	"strings"

	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// Instruction is one EIR instruction with its operands.
type Instruction struct {
	serial   int                   // Position in the method's instruction numbering.
	block    *Block                // Block holding the instruction.
	typ      types.InstructionType // Instruction type.
	op       string                // Mnemonic of operations and calls.
	operands []*Operand            // Operands in textual order.
	live     *util.BitSet          // Serials of variables live at the instruction.
}

// NewInstruction returns an unattached instruction of type typ with mnemonic op.
func NewInstruction(typ types.InstructionType, op string, operands ...*Operand) *Instruction {
	i := &Instruction{
		typ:      typ,
		op:       op,
		operands: make([]*Operand, 0, len(operands)),
		live:     util.NewBitSet(0),
	}
	for _, e1 := range operands {
		i.AddOperand(e1)
	}
	return i
}

// NewAssignment returns the copy instruction "dst := src".
func NewAssignment(dst, src Value) *Instruction {
	return NewInstruction(types.Assignment, "mov", Def(dst), Use(src))
}

// AddOperand appends operand o and registers it with its value.
func (i *Instruction) AddOperand(o *Operand) {
	o.inst = i
	i.operands = append(i.operands, o)
	o.value.addOperand(o)
}

func (i *Instruction) Serial() int                 { return i.serial }
func (i *Instruction) Block() *Block               { return i.block }
func (i *Instruction) Type() types.InstructionType { return i.typ }
func (i *Instruction) Op() string                  { return i.op }
func (i *Instruction) Operands() []*Operand        { return i.operands }
func (i *Instruction) Live() *util.BitSet          { return i.live }

// IsAssignment returns true for copy instructions.
func (i *Instruction) IsAssignment() bool {
	return i.typ == types.Assignment
}

// IsRedundant returns true for fillers left behind by removed instructions.
func (i *Instruction) IsRedundant() bool {
	return i.typ == types.Filler
}

// Destination returns the destination operand of an assignment.
func (i *Instruction) Destination() *Operand {
	util.Check(i.typ == types.Assignment && len(i.operands) == 2, "%s is not an assignment", i)
	return i.operands[0]
}

// Source returns the source operand of an assignment.
func (i *Instruction) Source() *Operand {
	util.Check(i.typ == types.Assignment && len(i.operands) == 2, "%s is not an assignment", i)
	return i.operands[1]
}

// Defines returns true if the instruction writes value v.
func (i *Instruction) Defines(v Value) bool {
	for _, e1 := range i.operands {
		if e1.value == v && e1.effect.Writes() {
			return true
		}
	}
	return false
}

// MakeRedundant turns the instruction into a filler and detaches all its operands from their values.
// Instruction numbering, and therefore live ranges, stay valid.
func (i *Instruction) MakeRedundant() {
	for _, e1 := range i.operands {
		e1.value.removeOperand(e1)
	}
	i.operands = nil
	i.typ = types.Filler
	i.op = ""
}

// String returns the textual EIR representation of the instruction.
func (i *Instruction) String() string {
	sb := strings.Builder{}
	switch i.typ {
	case types.Operation, types.Call:
		sb.WriteString(i.typ.String())
		sb.WriteRune(' ')
		sb.WriteString(i.op)
	case types.Assignment:
		sb.WriteString("mov ")
		sb.WriteString(operandString(i.operands[0]))
		sb.WriteRune(' ')
		sb.WriteString(operandString(i.operands[1]))
		return sb.String()
	default:
		sb.WriteString(i.typ.String())
	}
	for _, e1 := range i.operands {
		sb.WriteRune(' ')
		sb.WriteString(e1.String())
	}
	return sb.String()
}

// operandString returns an assignment operand without its effect prefix.
func operandString(o *Operand) string {
	s := o.value.String()
	if o.required != nil && o.value.Location() == nil {
		s += "@" + o.required.String()
	}
	return s
}
