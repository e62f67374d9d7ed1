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

// Block defines a basic block: a sequence of instructions with control flow edges to its successors.
type Block struct {
	serial       int            // Index of block in its method.
	name         string         // Label of the block.
	loopDepth    int            // Loop nesting depth.
	method       *Method        // Parent method.
	instructions []*Instruction // Instructions in order.
	successors   []*Block       // Control flow successors.
	predecessors []*Block       // Control flow predecessors.
	liveIn       *util.BitSet   // Variables live on block entry.
	liveOut      *util.BitSet   // Variables live on block exit.
}

// ---------------------
// ----- functions -----
// ---------------------

func (b *Block) Serial() int                  { return b.serial }
func (b *Block) Name() string                 { return b.name }
func (b *Block) LoopDepth() int               { return b.loopDepth }
func (b *Block) Method() *Method              { return b.method }
func (b *Block) Instructions() []*Instruction { return b.instructions }
func (b *Block) Successors() []*Block         { return b.successors }
func (b *Block) Predecessors() []*Block       { return b.predecessors }
func (b *Block) LiveIn() *util.BitSet         { return b.liveIn }
func (b *Block) LiveOut() *util.BitSet        { return b.liveOut }

// SetLoopDepth sets the loop nesting depth of the block.
func (b *Block) SetLoopDepth(d int) {
	b.loopDepth = d
}

// AddSuccessor adds a control flow edge from b to s.
func (b *Block) AddSuccessor(s *Block) {
	for _, e1 := range b.successors {
		if e1 == s {
			return
		}
	}
	b.successors = append(b.successors, s)
	s.predecessors = append(s.predecessors, b)
}

// Append adds instruction i to the end of the block and returns it.
func (b *Block) Append(i *Instruction) *Instruction {
	i.block = b
	b.instructions = append(b.instructions, i)
	b.method.numbered = false
	return i
}

// Op appends the operation op with the given operands.
func (b *Block) Op(op string, operands ...*Operand) *Instruction {
	return b.Append(NewInstruction(types.Operation, op, operands...))
}

// Assign appends the assignment dst := src.
func (b *Block) Assign(dst, src Value) *Instruction {
	return b.Append(NewAssignment(dst, src))
}

// Return appends a return instruction.
func (b *Block) Return(operands ...*Operand) *Instruction {
	return b.Append(NewInstruction(types.Return, "", operands...))
}

// Jump appends a branch instruction. Targets are the block's successors.
func (b *Block) Jump(operands ...*Operand) *Instruction {
	return b.Append(NewInstruction(types.Branch, "", operands...))
}

// index returns the position of instruction i in the block.
func (b *Block) index(i *Instruction) int {
	for i1, e1 := range b.instructions {
		if e1 == i {
			return i1
		}
	}
	util.Fatalf("instruction %s is not in block %s", i, b.name)
	return -1
}

// InsertBefore inserts instruction n in front of instruction at.
func (b *Block) InsertBefore(at, n *Instruction) {
	b.insert(b.index(at), n)
}

// InsertAfter inserts instruction n behind instruction at.
func (b *Block) InsertAfter(at, n *Instruction) {
	b.insert(b.index(at)+1, n)
}

// insert places instruction n at position p.
func (b *Block) insert(p int, n *Instruction) {
	n.block = b
	b.instructions = append(b.instructions, nil)
	copy(b.instructions[p+1:], b.instructions[p:])
	b.instructions[p] = n
	b.method.numbered = false
}

// Trim removes redundant filler instructions from the block and returns the number removed.
func (b *Block) Trim() int {
	n := 0
	kept := b.instructions[:0]
	for _, e1 := range b.instructions {
		if e1.IsRedundant() {
			n++
			continue
		}
		kept = append(kept, e1)
	}
	for i1 := len(kept); i1 < len(b.instructions); i1++ {
		b.instructions[i1] = nil
	}
	b.instructions = kept
	if n > 0 {
		b.method.numbered = false
	}
	return n
}

// String returns the textual EIR representation of the block.
func (b *Block) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("block %s depth %d", b.name, b.loopDepth))
	if len(b.successors) > 0 {
		sb.WriteString(" ->")
		for _, e1 := range b.successors {
			sb.WriteRune(' ')
			sb.WriteString(e1.name)
		}
	}
	sb.WriteRune('\n')
	for _, e1 := range b.instructions {
		sb.WriteString("  ")
		sb.WriteString(e1.String())
		sb.WriteRune('\n')
	}
	return sb.String()
}
