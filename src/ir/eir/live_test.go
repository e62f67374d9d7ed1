package eir

import (
	"fmt"
	"testing"

	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// expectFatal runs f and fails the test unless it panics with a FatalError.
func expectFatal(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if util.AsFatal(r) == nil {
			t.Fatalf("expected fatal error, got %v", r)
		}
	}()
	f()
}

// liveSerials returns the instruction serials of v's live range.
func liveSerials(v *Variable) []int {
	return v.LiveRange().Members()
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i1 := range a {
		if a[i1] != b[i1] {
			return false
		}
	}
	return true
}

// TestStraightLine checks live ranges of a single block: a value read for the last time is not live at its reader,
// so v0 and v1 never interfere.
func TestStraightLine(t *testing.T) {
	m := NewMethod("straight")
	v0 := m.NewVariable("v0", types.Int)
	v1 := m.NewVariable("v1", types.Int)
	b := m.NewBlock("b0", 0)
	b.Op("const", Def(v0))
	b.Op("neg", Def(v1), Use(v0))
	b.Return(Use(v1))

	m.ResetLiveRanges()
	m.DetermineLiveRanges()
	m.ResetInterferingVariables()
	m.DetermineInterferences(m.LiveVariables())

	tests := []struct {
		v   *Variable
		exp []int
	}{
		{v: v0, exp: []int{0}},
		{v: v1, exp: []int{1}},
	}
	for _, e1 := range tests {
		if got := liveSerials(e1.v); !equalInts(got, e1.exp) {
			t.Errorf("live range of %s: expected %v, got %v", e1.v, e1.exp, got)
		}
	}
	if v0.InterferesWith(v1) || v1.InterferesWith(v0) {
		t.Errorf("disjoint variables %s and %s interfere", v0, v1)
	}
}

// TestInterference checks that overlapping live ranges interfere symmetrically.
func TestInterference(t *testing.T) {
	m := NewMethod("overlap")
	v0 := m.NewVariable("v0", types.Int)
	v1 := m.NewVariable("v1", types.Int)
	v2 := m.NewVariable("v2", types.Int)
	b := m.NewBlock("b0", 0)
	b.Op("const", Def(v0))
	b.Op("const", Def(v1))
	b.Op("add", Def(v2), Use(v0), Use(v1))
	b.Return(Use(v2))

	m.ResetLiveRanges()
	m.DetermineLiveRanges()
	m.ResetInterferingVariables()
	m.DetermineInterferences(m.LiveVariables())

	if !v0.InterferesWith(v1) || !v1.InterferesWith(v0) {
		t.Errorf("expected %s and %s to interfere", v0, v1)
	}
	if v2.InterferesWith(v0) || v2.InterferesWith(v1) {
		t.Errorf("%s must not interfere with its dying operands", v2)
	}
	if n := len(v0.InterferingVariables()); n != 1 {
		t.Errorf("expected 1 interfering variable of %s, got %d", v0, n)
	}
}

// TestUpdateInterferes checks that an updated variable is live across the update.
func TestUpdateInterferes(t *testing.T) {
	m := NewMethod("update")
	v0 := m.NewVariable("v0", types.Int)
	v1 := m.NewVariable("v1", types.Int)
	b := m.NewBlock("b0", 0)
	b.Op("const", Def(v0))
	b.Op("const", Def(v1))
	b.Op("add", Upd(v0), Use(v1))
	b.Return(Use(v0))

	m.ResetLiveRanges()
	m.DetermineLiveRanges()
	if !equalInts(liveSerials(v0), []int{0, 1, 2}) {
		t.Errorf("unexpected live range of %s: %v", v0, liveSerials(v0))
	}
	m.ResetInterferingVariables()
	m.DetermineInterferences(m.LiveVariables())
	if !v0.InterferesWith(v1) {
		t.Errorf("expected %s and %s to interfere", v0, v1)
	}
}

// TestLoop checks that a value defined before a loop and read inside it is live throughout the loop body.
func TestLoop(t *testing.T) {
	m := NewMethod("loop")
	v0 := m.NewVariable("v0", types.Int)
	v1 := m.NewVariable("v1", types.Int)
	b0 := m.NewBlock("entry", 0)
	b1 := m.NewBlock("body", 1)
	b2 := m.NewBlock("exit", 0)
	b0.AddSuccessor(b1)
	b1.AddSuccessor(b1)
	b1.AddSuccessor(b2)

	b0.Op("const", Def(v0))
	b0.Jump()
	b1.Op("inc", Def(v1), Use(v0))
	b1.Op("print", Use(v1))
	b1.Jump()
	b2.Return()

	m.ResetLiveRanges()
	m.DetermineLiveRanges()

	if !b1.LiveIn().Test(v0.Serial()) || !b1.LiveOut().Test(v0.Serial()) {
		t.Errorf("%s must be live into and out of the loop body", v0)
	}
	if b2.LiveIn().Test(v0.Serial()) {
		t.Errorf("%s must not be live after the loop", v0)
	}
	if !equalInts(liveSerials(v0), []int{0, 1, 2, 3, 4}) {
		t.Errorf("unexpected live range of %s: %v", v0, liveSerials(v0))
	}

	m.ResetInterferingVariables()
	m.DetermineInterferences(m.LiveVariables())
	if !v0.InterferesWith(v1) {
		t.Errorf("loop carried %s must interfere with %s", v0, v1)
	}
}

// TestReset checks that a second pass after a rewrite starts from scratch.
func TestReset(t *testing.T) {
	m := NewMethod("reset")
	v0 := m.NewVariable("v0", types.Int)
	b := m.NewBlock("b0", 0)
	b.Op("const", Def(v0))
	use := b.Op("print", Use(v0))
	b.Return()

	m.ResetLiveRanges()
	m.DetermineLiveRanges()
	if v0.LiveRange().Count() != 1 {
		t.Fatalf("unexpected live range of %s: %v", v0, liveSerials(v0))
	}

	use.MakeRedundant()
	b.Trim()
	m.ResetLiveRanges()
	m.DetermineLiveRanges()
	if !equalInts(liveSerials(v0), []int{0}) {
		t.Errorf("unexpected live range of %s after reset: %v", v0, liveSerials(v0))
	}
	if m.InstructionCount() != 2 {
		t.Errorf("expected 2 instructions after trim, got %d", m.InstructionCount())
	}
}

// TestFixedLiveOnEntry checks that pre-allocated values may be live on entry.
func TestFixedLiveOnEntry(t *testing.T) {
	m := NewMethod("fixed")
	p := m.NewFixed("p0", types.Int, StackSlot{Offset: 16, Purpose: Parameter})
	b := m.NewBlock("b0", 0)
	b.Op("print", Use(p))
	b.Return()

	m.ResetLiveRanges()
	m.DetermineLiveRanges()
	if !m.Blocks()[0].LiveIn().Test(p.Serial()) {
		t.Errorf("%s must be live on entry", p)
	}
}

// TestMalformed checks the fatal control flow and dataflow errors.
func TestMalformed(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Method
	}{
		{
			name: "no blocks",
			build: func() *Method {
				return NewMethod("empty")
			},
		},
		{
			name: "unreachable block",
			build: func() *Method {
				m := NewMethod("unreachable")
				m.NewBlock("b0", 0).Return()
				m.NewBlock("dead", 0).Return()
				return m
			},
		},
		{
			name: "foreign successor",
			build: func() *Method {
				m := NewMethod("foreign")
				o := NewMethod("other")
				b := m.NewBlock("b0", 0)
				b.AddSuccessor(o.NewBlock("b0", 0))
				b.Jump()
				return m
			},
		},
		{
			name: "use before definition",
			build: func() *Method {
				m := NewMethod("undefined")
				v := m.NewVariable("v0", types.Int)
				m.NewBlock("b0", 0).Return(Use(v))
				return m
			},
		},
	}
	for _, e1 := range tests {
		t.Run(e1.name, func(t *testing.T) {
			m := e1.build()
			expectFatal(t, func() {
				m.ResetLiveRanges()
				m.DetermineLiveRanges()
			})
		})
	}
}

// TestLiveString checks that the live set printer names the live variables.
func TestLiveString(t *testing.T) {
	m := NewMethod("print")
	v0 := m.NewVariable("v0", types.Int)
	b := m.NewBlock("b0", 0)
	b.Op("const", Def(v0))
	b.Return(Use(v0))
	m.ResetLiveRanges()
	m.DetermineLiveRanges()

	exp := fmt.Sprintf("b0:\n\t%-40s\tLive: {v0}\n\t%-40s\tLive: {}\n", "op const def:v0", "ret use:v0")
	if got := m.LiveString(); got != exp {
		t.Errorf("expected\n%q\ngot\n%q", exp, got)
	}
}
