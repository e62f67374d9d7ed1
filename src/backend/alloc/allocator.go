// Package alloc assigns machine locations to the variables of EIR methods and removes the copies made redundant by
// the assignment.
package alloc

import (
	"sort"
	"time"

	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Config holds the policy switches of the allocator.
type Config struct {
	// Debug removes redundant filler instructions after allocation.
	Debug bool
	// StackMapsCoverParameters states that the garbage collector's stack reference maps describe incoming parameter
	// slots even when a method is entered through an adapter frame. Only then may reference-typed parameter stack
	// slots be propagated into the variables copied from them.
	StackMapsCoverParameters bool
}

// Allocator runs register allocation over one method. It is not safe for concurrent use; methods are independent so
// separate allocators may run in parallel.
type Allocator struct {
	method       *eir.Method
	arch         regfile.Architecture
	cfg          Config
	log          *util.Logger
	stats        Stats
	pool         []*eir.Variable    // Variables without required location, ranked after weighing.
	instructions []*eir.Instruction // Instructions indexed by serial after the last liveness pass.
	frameSlots   int                // Local stack slots handed out.
}

// ---------------------
// ----- Constants -----
// ---------------------

// Operand base weights per effect.
const (
	weightDefinition = 2
	weightUse        = 3
	weightUpdate     = 4
)

// loopFactor scales operand weights per loop nesting level.
const loopFactor = 8

// ---------------------
// ----- Functions -----
// ---------------------

// New returns an allocator for method m targeting architecture arch.
func New(m *eir.Method, arch regfile.Architecture, cfg Config, log *util.Logger) *Allocator {
	return &Allocator{
		method: m,
		arch:   arch,
		cfg:    cfg,
		log:    log,
	}
}

// Stats returns the counters of the last run.
func (a *Allocator) Stats() *Stats {
	return &a.stats
}

// Run assigns a location to every live variable of the method and coalesces copies. Invariant violations are fatal.
func (a *Allocator) Run() {
	a.stats = Stats{Methods: 1}
	a.timed(PhaseConstants, a.allocateConstants)
	a.timed(PhaseSplitting, a.splitVariables)
	a.timed(PhaseLiveness, a.determineLiveness)
	a.timed(PhasePropagation, func() {
		if a.propagatePreallocatedValues() {
			a.determineLiveness()
		}
	})
	a.timed(PhaseInterference, func() {
		a.method.ResetInterferingVariables()
		a.method.DetermineInterferences(a.method.LiveVariables())
	})
	a.timed(PhaseWeighing, a.weighOperands)
	a.timed(PhaseRequired, a.assignRequiredLocations)
	a.timed(PhaseRanking, a.rankVariables)
	a.timed(PhaseAllocation, a.allocateVariables)
	a.timed(PhaseVerification, a.assertPlausibleCorrectness)
	a.timed(PhaseCoalescing, a.coalesceVariables)
	a.timed(PhaseVerification, a.assertPlausibleCorrectness)
	if a.cfg.Debug {
		a.timed(PhaseTrim, func() {
			a.stats.Trimmed = a.method.Trim()
		})
	}
	a.method.SetFrameSlots(a.frameSlots)
	a.log.Debugf("%s: %d variables, %d frame slots, %d coalesced",
		a.method.Name(), a.stats.Variables, a.frameSlots, a.stats.Coalesced)
}

// timed runs f and accounts its duration to phase p.
func (a *Allocator) timed(p Phase, f func()) {
	t := time.Now()
	f()
	a.stats.Phases[p] += time.Since(t)
}

// determineLiveness recomputes live ranges from scratch.
func (a *Allocator) determineLiveness() {
	a.method.ResetLiveRanges()
	a.method.DetermineLiveRanges()
	a.instructions = a.method.Instructions()
}

// weighOperands assigns every operand of a non-fixed variable its weight and sums them per variable.
func (a *Allocator) weighOperands() {
	for _, e1 := range a.method.LiveVariables() {
		if e1.IsFixed() {
			continue
		}
		w := 0
		for _, e2 := range e1.Operands() {
			e2.SetWeight(operandWeight(e2))
			w += e2.Weight()
		}
		e1.SetWeight(w)
	}
}

// operandWeight returns the effect's base weight scaled by the loop nesting depth of the operand's block.
func operandWeight(o *eir.Operand) int {
	base := weightUse
	switch o.Effect() {
	case types.Definition:
		base = weightDefinition
	case types.Update:
		base = weightUpdate
	}
	return base * (o.Instruction().Block().LoopDepth()*loopFactor + 1)
}

// assignRequiredLocations places variables with a required location there and collects the rest into the pool.
func (a *Allocator) assignRequiredLocations() {
	a.pool = a.pool[:0]
	for _, e1 := range a.method.LiveVariables() {
		a.stats.Variables++
		if e1.IsFixed() {
			continue
		}
		e1.ResetLocationCategories()
		if l := e1.RequiredLocation(); l != nil {
			e1.SetLocation(l)
			a.stats.Required++
			continue
		}
		e1.SetLocation(nil)
		a.pool = append(a.pool, e1)
	}
}

// rankVariables orders the pool by descending weight. Equal weights keep creation order.
func (a *Allocator) rankVariables() {
	sort.SliceStable(a.pool, func(i, j int) bool {
		return a.pool[i].Weight() > a.pool[j].Weight()
	})
}

// allocateVariables allocates register-only variables first, then everything still unallocated.
func (a *Allocator) allocateVariables() {
	for _, e1 := range a.pool {
		if !e1.Categories().Contains(types.StackSlot) {
			a.allocateVariable(e1)
		}
	}
	for _, e1 := range a.pool {
		if e1.Location() == nil {
			a.allocateVariable(e1)
		}
	}
}

// allocateVariable assigns v a register not used by an allocated interfering variable, or else the first stack slot
// no interfering variable occupies.
func (a *Allocator) allocateVariable(v *eir.Variable) {
	var available *regfile.Set
	switch c := v.Categories(); {
	case c.Contains(types.IntegerRegister):
		available = regfile.NewSet(a.arch.IntegerRegisters())
	case c.Contains(types.FloatingPointRegister):
		available = regfile.NewSet(a.arch.FloatRegisters())
	}

	slotSize := a.arch.StackSlotSize()
	occupied := util.NewBitSet(a.frameSlots)
	for _, e1 := range v.InterferingVariables() {
		l := e1.Location()
		if l == nil {
			continue
		}
		if available != nil {
			a.arch.RemoveInterferingRegisters(l, available)
		}
		if s, ok := eir.IsStackSlot(l); ok && s.Purpose == eir.Local {
			occupied.Set(s.Offset / slotSize)
		}
	}

	if available != nil {
		if r := a.arch.AllocateRegisterFor(v, available); r != nil {
			v.SetLocation(r)
			a.stats.Registers++
			return
		}
	}

	util.Check(v.Categories().Contains(types.StackSlot),
		"method %s: no register left for register-only variable %s", a.method.Name(), v)
	i := occupied.NextClear(0)
	v.SetLocation(eir.StackSlot{Offset: i * slotSize, Purpose: eir.Local})
	if i+1 > a.frameSlots {
		a.frameSlots = i + 1
	}
	a.stats.StackSlots++
}
