package alloc

import (
	"fmt"
	"testing"

	"maxvm/src/backend/amd64"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// helperMethod returns a method summing n values in a loop.
func helperMethod(name string, n int) *eir.Method {
	m := eir.NewMethod(name)
	p := m.NewFixed("p0", types.Int, amd64.RDI)
	r := m.NewFixed("r", types.Int, amd64.RAX)
	entry := m.NewBlock("entry", 0)
	loop := m.NewBlock("loop", 1)
	exit := m.NewBlock("exit", 0)
	entry.AddSuccessor(loop)
	loop.AddSuccessor(loop)
	loop.AddSuccessor(exit)

	acc := m.NewVariable("acc", types.Int)
	x := m.NewVariable("x", types.Int)
	entry.Assign(x, p)
	entry.Assign(acc, m.NewConstant(types.Int, 0))
	entry.Jump()
	for i1 := 0; i1 < n; i1++ {
		t := m.NewVariable(fmt.Sprintf("t%d", i1), types.Int)
		loop.Op("mul", eir.Def(t), eir.Use(x), eir.Use(m.NewConstant(types.Int, int64(i1))))
		loop.Op("add", eir.Upd(acc), eir.Use(t))
	}
	loop.Jump(eir.Use(acc))
	exit.Assign(r, acc)
	exit.Return(eir.Use(r))
	return m
}

// TestAllocateRegisters checks sequential and parallel allocation of many methods.
func TestAllocateRegisters(t *testing.T) {
	for _, e1 := range []int{1, 2, 3, 8} {
		t.Run(fmt.Sprintf("threads=%d", e1), func(t *testing.T) {
			methods := make([]*eir.Method, 7)
			for i2 := range methods {
				methods[i2] = helperMethod(fmt.Sprintf("m%d", i2), i2+1)
			}
			opt := util.Options{Threads: e1}
			stats := AllocateRegisters(opt, amd64.New(), methods, util.Discard())
			if stats.Methods != len(methods) {
				t.Errorf("expected %d methods, got %d", len(methods), stats.Methods)
			}
			for _, e2 := range methods {
				checkAllocation(t, e2)
			}
		})
	}
}

// TestAllocateRegistersFatal checks that a fatal error in a worker is raised on the calling go routine.
func TestAllocateRegistersFatal(t *testing.T) {
	methods := make([]*eir.Method, 4)
	for i1 := range methods {
		methods[i1] = helperMethod(fmt.Sprintf("m%d", i1), 2)
	}
	bad := eir.NewMethod("bad")
	bad.NewBlock("b0", 0).Return()
	bad.NewBlock("dead", 0).Return()
	methods = append(methods, bad)

	opt := util.Options{Threads: 2}
	expectFatal(t, func() {
		AllocateRegisters(opt, amd64.New(), methods, util.Discard())
	})
}
