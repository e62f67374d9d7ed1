package eir

import (
	"fmt"
	"strings"

	"maxvm/src/util"
)

// ---------------------
// ----- Functions -----
// ---------------------

// ResetLiveRanges renumbers the instructions and clears all live ranges and live sets computed by an earlier pass.
func (m *Method) ResetLiveRanges() {
	m.numbered = false
	m.Number()
	for _, e1 := range m.variables {
		e1.liveRange = util.NewBitSet(m.instructions)
	}
	for _, e1 := range m.blocks {
		e1.liveIn.Reset()
		e1.liveOut.Reset()
		for _, e2 := range e1.instructions {
			e2.live = util.NewBitSet(len(m.variables))
		}
	}
}

// ResetInterferingVariables clears the interference graph.
func (m *Method) ResetInterferingVariables() {
	for _, e1 := range m.variables {
		e1.interfering = util.NewBitSet(len(m.variables))
	}
}

// DetermineLiveRanges computes block live-in and live-out sets by backward dataflow to a fixpoint, then the set of
// variables live at each instruction and the live range of each variable. A variable is live at an instruction if the
// instruction defines it or a later instruction may read the value it holds after the instruction.
//
// Control flow that is not a well formed graph rooted at the entry block, and non-fixed variables read before any
// definition, are fatal.
func (m *Method) DetermineLiveRanges() {
	m.validateControlFlow()
	m.Number()

	// Upward exposed uses and definitions per block.
	n := len(m.blocks)
	use := make([]*util.BitSet, n)
	def := make([]*util.BitSet, n)
	for i1, e1 := range m.blocks {
		use[i1] = util.NewBitSet(len(m.variables))
		def[i1] = util.NewBitSet(len(m.variables))
		for _, e2 := range e1.instructions {
			for _, e3 := range e2.operands {
				v, ok := e3.Variable()
				if !ok {
					continue
				}
				if e3.effect.Reads() && !def[i1].Test(v.serial) {
					use[i1].Set(v.serial)
				}
			}
			for _, e3 := range e2.operands {
				if v, ok := e3.Variable(); ok && e3.effect.Writes() {
					def[i1].Set(v.serial)
				}
			}
		}
	}

	// Iterate in reverse layout order until nothing changes.
	for changed := true; changed; {
		changed = false
		for i1 := n - 1; i1 >= 0; i1-- {
			b := m.blocks[i1]
			out := util.NewBitSet(len(m.variables))
			for _, e2 := range b.successors {
				out.Union(e2.liveIn)
			}
			in := out.Copy()
			in.Difference(def[i1])
			in.Union(use[i1])
			if !in.Equal(b.liveIn) || !out.Equal(b.liveOut) {
				b.liveIn = in
				b.liveOut = out
				changed = true
			}
		}
	}

	entry := m.blocks[0]
	for i := entry.liveIn.NextSet(0); i >= 0; i = entry.liveIn.NextSet(i + 1) {
		if !m.variables[i].fixed {
			util.Fatalf("method %s: %s is live on entry without a definition", m.name, m.variables[i])
		}
	}

	// Per instruction live sets, walking each block backwards from its live-out set.
	for _, e1 := range m.blocks {
		live := e1.liveOut.Copy()
		for i2 := len(e1.instructions) - 1; i2 >= 0; i2-- {
			inst := e1.instructions[i2]
			defs := util.NewBitSet(len(m.variables))
			reads := util.NewBitSet(len(m.variables))
			for _, e3 := range inst.operands {
				v, ok := e3.Variable()
				if !ok {
					continue
				}
				if e3.effect.Writes() {
					defs.Set(v.serial)
				}
				if e3.effect.Reads() {
					reads.Set(v.serial)
				}
			}
			live.Union(defs)
			inst.live = live.Copy()
			for i := live.NextSet(0); i >= 0; i = live.NextSet(i + 1) {
				m.variables[i].liveRange.Set(inst.serial)
			}
			live.Difference(defs)
			live.Union(reads)
		}
	}
}

// validateControlFlow checks that the method has an entry block, that all edges stay inside the method and that every
// block is reachable from the entry block.
func (m *Method) validateControlFlow() {
	if len(m.blocks) == 0 {
		util.Fatalf("method %s has no blocks", m.name)
	}
	for _, e1 := range m.blocks {
		for _, e2 := range e1.successors {
			if e2.method != m || e2.serial >= len(m.blocks) || m.blocks[e2.serial] != e2 {
				util.Fatalf("method %s: block %s branches to foreign block %s", m.name, e1.name, e2.name)
			}
		}
	}
	seen := util.NewBitSet(len(m.blocks))
	work := util.NewStack[*Block](len(m.blocks))
	work.Push(m.blocks[0])
	seen.Set(0)
	for b, ok := work.Pop(); ok; b, ok = work.Pop() {
		for _, e1 := range b.successors {
			if !seen.Test(e1.serial) {
				seen.Set(e1.serial)
				work.Push(e1)
			}
		}
	}
	for _, e1 := range m.blocks {
		if !seen.Test(e1.serial) {
			util.Fatalf("method %s: block %s is unreachable", m.name, e1.name)
		}
	}
}

// DetermineInterferences records mutual interference between every pair of the given variables that are live at the
// same instruction. The cost is bounded by the number of simultaneously live variables at each instruction.
func (m *Method) DetermineInterferences(variables []*Variable) {
	pool := util.NewBitSet(len(m.variables))
	for _, e1 := range variables {
		pool.Set(e1.serial)
	}
	for _, e1 := range m.blocks {
		for _, e2 := range e1.instructions {
			live := make([]*Variable, 0, e2.live.Count())
			for i := e2.live.NextSet(0); i >= 0; i = e2.live.NextSet(i + 1) {
				if pool.Test(i) {
					live = append(live, m.variables[i])
				}
			}
			for i3, e3 := range live {
				for _, e4 := range live[i3+1:] {
					e3.BeInterferingWith(e4)
				}
			}
		}
	}
}

// LiveString returns the method with the live set printed behind every instruction.
func (m *Method) LiveString() string {
	sb := strings.Builder{}
	for _, e1 := range m.blocks {
		sb.WriteString(fmt.Sprintf("%s:\n", e1.name))
		for _, e2 := range e1.instructions {
			names := make([]string, 0, e2.live.Count())
			for i := e2.live.NextSet(0); i >= 0; i = e2.live.NextSet(i + 1) {
				names = append(names, m.variables[i].name)
			}
			sb.WriteString(fmt.Sprintf("\t%-40s\tLive: {%s}\n", e2.String(), strings.Join(names, ", ")))
		}
	}
	return sb.String()
}
