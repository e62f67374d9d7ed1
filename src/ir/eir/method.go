// Package eir provides the machine level intermediate representation consumed by the register allocator: methods made
// of basic blocks of instructions whose operands refer to variables and constants, together with the liveness and
// interference model computed over them.
package eir

import (
	"fmt"
	"strings"

	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Method is a compiled method in EIR form. The first block is the entry block.
type Method struct {
	name          string
	adapterFrames bool        // Method is compiled with adapter frames.
	blocks        []*Block    // Blocks in layout order.
	variables     []*Variable // Variables indexed by serial.
	constants     []*Constant // Constants indexed by serial.
	labels        map[string]*Block
	instructions  int  // Number of instructions after the last numbering.
	numbered      bool // Instruction serials are current.
	frameSlots    int  // Number of local stack slots used after allocation.
}

// ---------------------
// ----- functions -----
// ---------------------

// NewMethod returns an empty method.
func NewMethod(name string) *Method {
	return &Method{
		name:   name,
		labels: make(map[string]*Block),
	}
}

func (m *Method) Name() string            { return m.name }
func (m *Method) Blocks() []*Block        { return m.blocks }
func (m *Method) Variables() []*Variable  { return m.variables }
func (m *Method) Constants() []*Constant  { return m.constants }
func (m *Method) AdapterFrames() bool     { return m.adapterFrames }
func (m *Method) SetAdapterFrames(a bool) { m.adapterFrames = a }
func (m *Method) FrameSlots() int         { return m.frameSlots }
func (m *Method) SetFrameSlots(n int)     { m.frameSlots = n }

// NewBlock appends a new block labelled name with loop nesting depth depth.
func (m *Method) NewBlock(name string, depth int) *Block {
	if len(name) == 0 {
		name = fmt.Sprintf("b%d", len(m.blocks))
	}
	b := &Block{
		serial:    len(m.blocks),
		name:      name,
		loopDepth: depth,
		method:    m,
		liveIn:    util.NewBitSet(0),
		liveOut:   util.NewBitSet(0),
	}
	m.blocks = append(m.blocks, b)
	m.labels[name] = b
	return b
}

// Block returns the block labelled name.
func (m *Method) Block(name string) (*Block, bool) {
	b, ok := m.labels[name]
	return b, ok
}

// NewVariable creates a variable of kind k. An empty name gets a generated one.
func (m *Method) NewVariable(name string, k types.Kind) *Variable {
	if len(name) == 0 {
		name = fmt.Sprintf("t%d", len(m.variables))
	}
	v := &Variable{
		serial:      len(m.variables),
		name:        name,
		kind:        k,
		liveRange:   util.NewBitSet(m.instructions),
		interfering: util.NewBitSet(len(m.variables)),
		method:      m,
	}
	v.ResetLocationCategories()
	m.variables = append(m.variables, v)
	return v
}

// NewFixed creates a pre-allocated variable residing at location l.
func (m *Method) NewFixed(name string, k types.Kind, l Location) *Variable {
	v := m.NewVariable(name, k)
	v.fixed = true
	v.location = l
	v.categories = l.Category()
	return v
}

// NewConstant creates a constant of kind k.
func (m *Method) NewConstant(k types.Kind, value int64) *Constant {
	c := &Constant{
		serial: len(m.constants),
		kind:   k,
		value:  value,
	}
	m.constants = append(m.constants, c)
	return c
}

// Number assigns consecutive serials to all instructions in block order.
func (m *Method) Number() {
	if m.numbered {
		return
	}
	n := 0
	for _, e1 := range m.blocks {
		for _, e2 := range e1.instructions {
			e2.serial = n
			n++
		}
	}
	m.instructions = n
	m.numbered = true
}

// InstructionCount returns the number of instructions in the method.
func (m *Method) InstructionCount() int {
	m.Number()
	return m.instructions
}

// Instruction returns the instruction with serial s.
func (m *Method) Instruction(s int) *Instruction {
	m.Number()
	for _, e1 := range m.blocks {
		if s < len(e1.instructions) {
			return e1.instructions[s]
		}
		s -= len(e1.instructions)
	}
	return nil
}

// Instructions returns all instructions in block order.
func (m *Method) Instructions() []*Instruction {
	m.Number()
	res := make([]*Instruction, 0, m.instructions)
	for _, e1 := range m.blocks {
		res = append(res, e1.instructions...)
	}
	return res
}

// Trim removes all redundant instructions and returns the number removed.
func (m *Method) Trim() int {
	n := 0
	for _, e1 := range m.blocks {
		n += e1.Trim()
	}
	return n
}

// LiveVariables returns the variables that have at least one operand.
func (m *Method) LiveVariables() []*Variable {
	res := make([]*Variable, 0, len(m.variables))
	for _, e1 := range m.variables {
		if len(e1.operands) > 0 {
			res = append(res, e1)
		}
	}
	return res
}

// String returns the textual EIR representation of the method.
func (m *Method) String() string {
	sb := strings.Builder{}
	sb.WriteString("method ")
	sb.WriteString(m.name)
	if m.adapterFrames {
		sb.WriteString(" adapters")
	}
	sb.WriteRune('\n')
	for _, e1 := range m.variables {
		if len(e1.operands) == 0 {
			continue
		}
		if e1.fixed {
			sb.WriteString(fmt.Sprintf("  fixed %s %s %s\n", e1.name, e1.kind, e1.location))
		} else if e1.location != nil {
			sb.WriteString(fmt.Sprintf("  var %s %s %s @%s\n", e1.name, e1.kind, e1.categories, e1.location))
		} else {
			sb.WriteString(fmt.Sprintf("  var %s %s %s\n", e1.name, e1.kind, e1.categories))
		}
	}
	for _, e1 := range m.blocks {
		sb.WriteString(e1.String())
	}
	sb.WriteString("end\n")
	return sb.String()
}
