package alloc

import (
	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir"
	"maxvm/src/util"
)

// coalesceVariables merges the two variables of an assignment whenever one of them may take over the other's
// location, and deletes the assignment. Merging retargets operands, which may enable further merges, so operands are
// processed from a worklist until it runs dry.
func (a *Allocator) coalesceVariables() {
	work := util.NewStack[*eir.Operand](len(a.instructions))
	for _, e1 := range a.instructions {
		if e1.IsAssignment() {
			for _, e2 := range e1.Operands() {
				work.Push(e2)
			}
		}
	}

	for o, ok := work.Pop(); ok; o, ok = work.Pop() {
		inst := o.Instruction()
		if !inst.IsAssignment() {
			continue
		}
		v, ok := o.Variable()
		if !ok {
			continue
		}
		other := inst.Source()
		if other == o {
			other = inst.Destination()
		}
		w, ok := other.Variable()
		if !ok {
			continue
		}
		if w == v {
			inst.MakeRedundant()
			a.stats.Removed++
			continue
		}
		if v.InterferesWith(w) {
			continue
		}
		if w.Location() == v.Location() {
			if !a.coalesce(v, inst, w, work) {
				a.coalesce(w, inst, v, work)
			}
			continue
		}
		if a.mayUseLocation(w, v.Location()) && a.coalesce(v, inst, w, work) {
			continue
		}
		if a.mayUseLocation(v, w.Location()) {
			a.coalesce(w, inst, v, work)
		}
	}
}

// mayUseLocation returns true if variable v could be moved to location l without conflicting with its interfering
// variables. Fixed variables and variables with a required location never move, and a variable already in a register
// is never moved to a stack slot.
func (a *Allocator) mayUseLocation(v *eir.Variable, l eir.Location) bool {
	if l == nil || v.IsFixed() || v.RequiredLocation() != nil {
		return false
	}
	if !v.Categories().Contains(l.Category()) {
		return false
	}
	if _, ok := eir.IsStackSlot(l); ok {
		if _, ok := eir.IsStackSlot(v.Location()); !ok {
			return false
		}
	}
	for _, e1 := range v.InterferingVariables() {
		if e1.Location() == l {
			return false
		}
	}
	return true
}

// coalesce merges acquiree into acquirer and removes assignment. It returns false, changing nothing, if the merge is
// not allowed.
func (a *Allocator) coalesce(acquirer *eir.Variable, assignment *eir.Instruction, acquiree *eir.Variable,
	work *util.Stack[*eir.Operand]) bool {
	if r, ok := acquirer.Location().(regfile.Register); ok && !a.arch.IsAllocatable(r) {
		return false
	}
	if acquiree.IsFixed() || !acquirer.IsReferenceCompatibleWith(acquiree) {
		return false
	}
	if l := acquiree.RequiredLocation(); l != nil && l != acquirer.Location() {
		return false
	}
	if s, ok := eir.IsStackSlot(acquirer.Location()); ok && acquirer.Kind().IsReference() {
		t, ok := eir.IsStackSlot(acquiree.Location())
		if !ok || t.Purpose != s.Purpose {
			return false
		}
	}
	util.Check(!acquirer.InterferesWith(acquiree), "coalescing interfering %s and %s", acquirer, acquiree)

	for _, e1 := range acquiree.InterferingVariables() {
		e1.BeNotInterferingWith(acquiree)
		e1.BeInterferingWith(acquirer)
	}
	live := acquiree.LiveRange()
	for i := live.NextSet(0); i >= 0; i = live.NextSet(i + 1) {
		inst := a.instructions[i]
		inst.Live().Clear(acquiree.Serial())
		inst.Live().Set(acquirer.Serial())
	}
	acquirer.LiveRange().Union(live)
	live.Reset()

	assignment.MakeRedundant()
	ops := append([]*eir.Operand(nil), acquiree.Operands()...)
	for _, e1 := range ops {
		e1.SetValue(acquirer)
		work.Push(e1)
	}
	acquiree.SetLocation(nil)
	if !acquirer.IsFixed() {
		acquirer.ResetLocationCategories()
	}
	a.stats.Coalesced++
	return true
}
