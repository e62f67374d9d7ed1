package alloc

import (
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
)

// allocateConstants encodes constants as immediates. A constant read by an operand that does not accept immediates is
// first copied into a fresh variable in front of the reading instruction.
func (a *Allocator) allocateConstants() {
	for _, e1 := range a.method.Constants() {
		ops := append([]*eir.Operand(nil), e1.Operands()...)
		for _, e2 := range ops {
			if e2.Categories().Contains(types.Immediate) {
				continue
			}
			t := a.method.NewVariable("", e1.Kind())
			inst := e2.Instruction()
			inst.Block().InsertBefore(inst, eir.NewAssignment(t, e1))
			e2.SetValue(t)
			a.stats.Constants++
		}
		e1.SetLocation(eir.Immediate{Value: e1.Value()})
	}
}

// splitVariables gives every operand whose demands differ from the rest of its variable a variable of its own,
// connected to the original by assignments. An operand is split off when it requires a location that another operand
// of the variable does not, or when it only accepts registers while another operand accepts stack slots.
func (a *Allocator) splitVariables() {
	vars := append([]*eir.Variable(nil), a.method.Variables()...)
	for _, e1 := range vars {
		if e1.IsFixed() || len(e1.Operands()) < 2 {
			continue
		}
		ops := append([]*eir.Operand(nil), e1.Operands()...)
		for _, e2 := range ops {
			if a.mustSplit(e1, e2) {
				a.splitOperand(e1, e2)
			}
		}
	}
}

// mustSplit returns true if operand o of v must get a variable of its own.
func (a *Allocator) mustSplit(v *eir.Variable, o *eir.Operand) bool {
	if o.RequiredLocation() != nil {
		for _, e1 := range v.Operands() {
			if e1.RequiredLocation() != o.RequiredLocation() {
				return true
			}
		}
		return false
	}
	if !o.Categories().Contains(types.StackSlot) {
		for _, e1 := range v.Operands() {
			if e1.Categories().Contains(types.StackSlot) {
				return true
			}
		}
	}
	return false
}

// splitOperand retargets operand o to a new variable t: reads are preceded by t := v, writes followed by v := t.
func (a *Allocator) splitOperand(v *eir.Variable, o *eir.Operand) {
	t := a.method.NewVariable("", v.Kind())
	inst := o.Instruction()
	b := inst.Block()
	if o.Effect().Reads() {
		b.InsertBefore(inst, eir.NewAssignment(t, v))
	}
	if o.Effect().Writes() {
		b.InsertAfter(inst, eir.NewAssignment(v, t))
	}
	o.SetValue(t)
	t.ResetLocationCategories()
	v.ResetLocationCategories()
	a.stats.Splits++
}

// propagatePreallocatedValues elides copies v := p from a pre-allocated value p into a variable v that is never
// written again, by letting every read of v read p directly. It returns true if any copy was elided; live ranges are
// stale afterwards.
func (a *Allocator) propagatePreallocatedValues() bool {
	changed := false
	for _, e1 := range a.instructions {
		if !e1.IsAssignment() {
			continue
		}
		p, ok := e1.Source().Variable()
		if !ok || !p.IsFixed() {
			continue
		}
		v, ok := e1.Destination().Variable()
		if !ok || v.IsFixed() || !a.mayPropagate(p, v, e1) {
			continue
		}
		ops := append([]*eir.Operand(nil), v.Operands()...)
		e1.MakeRedundant()
		for _, e2 := range ops {
			if e2.Instruction() != e1 {
				e2.SetValue(p)
			}
		}
		a.stats.Propagated++
		changed = true
	}
	return changed
}

// mayPropagate returns true if the reads of v may read p instead, given that assignment defines v := p.
func (a *Allocator) mayPropagate(p, v *eir.Variable, assignment *eir.Instruction) bool {
	l := p.Location()
	if v.RequiredLocation() != nil || p.Kind() != v.Kind() {
		return false
	}

	// Reference parameters in the caller's frame are not covered by stack maps behind an adapter frame.
	if s, ok := eir.IsStackSlot(l); ok && s.Purpose == eir.Parameter && p.Kind().IsReference() &&
		a.method.AdapterFrames() && !a.cfg.StackMapsCoverParameters {
		return false
	}

	for _, e1 := range v.Operands() {
		if e1.Instruction() == assignment {
			continue
		}
		if e1.Effect() != types.Use || !e1.Categories().Contains(l.Category()) {
			return false
		}
	}

	// p must hold its value throughout v's live range, and nothing else may claim p's location there.
	for i := v.LiveRange().NextSet(0); i >= 0; i = v.LiveRange().NextSet(i + 1) {
		if i != assignment.Serial() && a.instructions[i].Defines(p) {
			return false
		}
	}
	for _, e1 := range a.method.LiveVariables() {
		if e1 == p || e1 == v {
			continue
		}
		if e1.Location() == l || e1.RequiredLocation() == l {
			if e1.LiveRange().Intersects(v.LiveRange()) {
				return false
			}
		}
	}
	return true
}
