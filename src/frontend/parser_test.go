package frontend

import (
	"strings"
	"testing"

	"maxvm/src/backend/amd64"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// TestParseFiles parses the bundled EIR samples.
func TestParseFiles(t *testing.T) {
	tests := []struct {
		src     string
		methods []string
	}{
		{src: "../../resources/eir/loop.eir", methods: []string{"sum"}},
		{src: "../../resources/eir/calls.eir", methods: []string{"caller", "spill"}},
	}
	for _, e1 := range tests {
		opt := util.Options{Src: e1.src}
		s, err := util.ReadSource(opt)
		if err != nil {
			t.Fatalf("failed to open file %q: %s", opt.Src, err)
		}
		methods, err := Parse(s, amd64.New())
		if err != nil {
			t.Fatalf("%s: %s", e1.src, err)
		}
		if len(methods) != len(e1.methods) {
			t.Fatalf("%s: expected %d methods, got %d", e1.src, len(e1.methods), len(methods))
		}
		for i2, e2 := range methods {
			if e2.Name() != e1.methods[i2] {
				t.Errorf("%s: expected method %q, got %q", e1.src, e1.methods[i2], e2.Name())
			}
		}
	}
}

// TestParseMethod checks the structure built for a small method.
func TestParseMethod(t *testing.T) {
	src := `
method m adapters
  fixed p ref param:16
  var v int reg
  var w float
  const c int 0x2a
block b0 -> b1
  mov v@rcx c
  op add upd:v use:c/reg
  br
block b1 depth 3
  op cvt def:w use:v
  ret use:w@xmm0 use:p
end
`
	methods, err := Parse(src, amd64.New())
	if err != nil {
		t.Fatal(err)
	}
	m := methods[0]
	if !m.AdapterFrames() {
		t.Error("expected adapter frames")
	}
	if len(m.Blocks()) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(m.Blocks()))
	}
	b0, b1 := m.Blocks()[0], m.Blocks()[1]
	if len(b0.Successors()) != 1 || b0.Successors()[0] != b1 || b1.Predecessors()[0] != b0 {
		t.Errorf("expected edge b0 -> b1")
	}
	if b1.LoopDepth() != 3 {
		t.Errorf("expected loop depth 3, got %d", b1.LoopDepth())
	}

	vars := m.Variables()
	p, v, w := vars[0], vars[1], vars[2]
	if !p.IsFixed() || p.Location() != (eir.StackSlot{Offset: 16, Purpose: eir.Parameter}) || p.Kind() != types.Reference {
		t.Errorf("unexpected fixed %s %s", p, p.Kind())
	}
	if v.Categories() != types.IntegerRegister {
		t.Errorf("expected register only %s, got %s", v, v.Categories())
	}
	if w.Kind() != types.Float {
		t.Errorf("expected float %s", w)
	}

	mov := b0.Instructions()[0]
	if !mov.IsAssignment() || mov.Destination().RequiredLocation() != amd64.RCX {
		t.Errorf("unexpected assignment %s", mov)
	}
	c, ok := mov.Source().Value().(*eir.Constant)
	if !ok || c.Value() != 42 {
		t.Errorf("expected constant 42, got %s", mov.Source().Value())
	}
	add := b0.Instructions()[1]
	if add.Op() != "add" || add.Operands()[0].Effect() != types.Update {
		t.Errorf("unexpected operation %s", add)
	}
	if add.Operands()[1].Categories().Contains(types.Immediate) {
		t.Errorf("operand %s must not accept immediates", add.Operands()[1])
	}
	ret := b1.Instructions()[1]
	if ret.Type() != types.Return || ret.Operands()[0].RequiredLocation() != amd64.XMM0 {
		t.Errorf("unexpected return %s", ret)
	}
}

// TestParseErrors checks that malformed sources are rejected with a positioned error.
func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  string
	}{
		{name: "empty", src: "\n\n", err: "no methods"},
		{name: "unknown register", src: "method m\n fixed p int r99\nblock b\n ret\nend\n", err: "unknown amd64 register"},
		{name: "undeclared", src: "method m\nblock b\n ret use:x\nend\n", err: "undeclared value"},
		{name: "redeclared", src: "method m\n var x int\n var x int\nblock b\n ret\nend\n", err: "redeclared"},
		{name: "unknown successor", src: "method m\nblock b -> c\n br\nend\n", err: "unknown successor"},
		{name: "outside block", src: "method m\n ret\nend\n", err: "outside of block"},
		{name: "no blocks", src: "method m\nend\n", err: "has no blocks"},
		{name: "missing end", src: "method m\nblock b\n ret\n", err: "unexpected EOF"},
		{name: "written constant", src: "method m\n const c int 1\nblock b\n op x def:c\nend\n", err: "written by"},
		{name: "kind mismatch", src: "method m\n fixed f float rax\nblock b\n ret\nend\n", err: "cannot reside"},
		{name: "lexer error", src: "method m!\n", err: "unexpected character"},
		{name: "category", src: "method m\n var x int fast\nblock b\n ret\nend\n", err: "unknown location category"},
	}
	for _, e1 := range tests {
		t.Run(e1.name, func(t *testing.T) {
			_, err := Parse(e1.src, amd64.New())
			if err == nil {
				t.Fatalf("expected error containing %q", e1.err)
			}
			if !strings.Contains(err.Error(), e1.err) {
				t.Errorf("expected error containing %q, got %q", e1.err, err)
			}
			if e1.name != "empty" && !strings.HasPrefix(err.Error(), "line ") {
				t.Errorf("expected positioned error, got %q", err)
			}
		})
	}
}
