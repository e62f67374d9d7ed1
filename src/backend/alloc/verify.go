package alloc

import (
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// assertPlausibleCorrectness checks the allocation result: every live variable has a location its operands accept,
// required locations are honoured, assignments are well formed and no two variables live at the same instruction
// share a location. Any violation is fatal.
func (a *Allocator) assertPlausibleCorrectness() {
	m := a.method
	for _, e1 := range m.LiveVariables() {
		l := e1.Location()
		util.Check(l != nil, "method %s: %s has no location", m.Name(), e1)
		for _, e2 := range e1.Operands() {
			if r := e2.RequiredLocation(); r != nil {
				util.Check(r == l, "method %s: %s at %s but %s requires %s", m.Name(), e1, l, e2.Instruction(), r)
				continue
			}
			util.Check(e2.Categories().Contains(l.Category()),
				"method %s: %s does not accept %s for %s", m.Name(), e2.Instruction(), l, e1)
		}
	}

	for _, e1 := range a.instructions {
		if e1.IsAssignment() {
			dst, ok := e1.Destination().Variable()
			util.Check(ok, "method %s: assignment %s does not write a variable", m.Name(), e1)
			src := e1.Source().Value()
			_, constant := src.(*eir.Constant)
			util.Check(constant || src.Kind() == dst.Kind() ||
				(src.Kind() != types.Float && dst.Kind() != types.Float && !dst.Kind().IsReference()),
				"method %s: inconsistent assignment %s", m.Name(), e1)
		}
		if e1.IsRedundant() {
			continue
		}
		seen := make(map[eir.Location]*eir.Variable, e1.Live().Count())
		vars := m.Variables()
		for i := e1.Live().NextSet(0); i >= 0; i = e1.Live().NextSet(i + 1) {
			v := vars[i]
			if len(v.Operands()) == 0 {
				continue
			}
			if w, ok := seen[v.Location()]; ok {
				util.Fatalf("method %s: %s and %s are both live at %s in %s", m.Name(), w, v, e1, v.Location())
			}
			seen[v.Location()] = v
		}
	}
}
