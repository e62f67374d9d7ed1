package alloc

import (
	"sync"
	"time"

	"maxvm/src/util"
)

// Phase identifies an allocator phase for timing.
type Phase int

// Allocator phases in execution order.
const (
	PhaseConstants Phase = iota
	PhaseSplitting
	PhaseLiveness
	PhasePropagation
	PhaseInterference
	PhaseWeighing
	PhaseRequired
	PhaseRanking
	PhaseAllocation
	PhaseCoalescing
	PhaseVerification
	PhaseTrim
	phaseCount
)

var phaseNames = [phaseCount]string{
	"constants",
	"splitting",
	"liveness",
	"propagation",
	"interference",
	"weighing",
	"required",
	"ranking",
	"allocation",
	"coalescing",
	"verification",
	"trim",
}

// String returns the name of the phase.
func (p Phase) String() string {
	return phaseNames[p]
}

// Stats collects counters and phase timings of one compilation session. A Stats value is shared by all allocator
// runs of a session and is safe for concurrent use.
type Stats struct {
	mx         sync.Mutex
	Methods    int                       // Methods allocated.
	Variables  int                       // Live variables seen.
	Registers  int                       // Variables placed in registers by the allocation phase.
	StackSlots int                       // Variables placed in stack slots by the allocation phase.
	Required   int                       // Variables placed at their required location.
	Constants  int                       // Constants split into variables.
	Splits     int                       // Operands split off their variable.
	Propagated int                       // Variables replaced by pre-allocated values.
	Coalesced  int                       // Variables merged by coalescing.
	Removed    int                       // Self copies deleted by coalescing.
	Trimmed    int                       // Redundant instructions removed in debug builds.
	Phases     [phaseCount]time.Duration // Accumulated time per phase.
}

// merge adds the counters of o to s.
func (s *Stats) merge(o *Stats) {
	if s == nil {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.Methods += o.Methods
	s.Variables += o.Variables
	s.Registers += o.Registers
	s.StackSlots += o.StackSlots
	s.Required += o.Required
	s.Constants += o.Constants
	s.Splits += o.Splits
	s.Propagated += o.Propagated
	s.Coalesced += o.Coalesced
	s.Removed += o.Removed
	s.Trimmed += o.Trimmed
	for i1 := range s.Phases {
		s.Phases[i1] += o.Phases[i1]
	}
}

// Log writes the statistics at debug level.
func (s *Stats) Log(l *util.Logger) {
	s.mx.Lock()
	defer s.mx.Unlock()
	l.Debugf("register allocation: %d methods, %d variables", s.Methods, s.Variables)
	l.Debugf("  registers %d, stack slots %d, required %d", s.Registers, s.StackSlots, s.Required)
	l.Debugf("  constants split %d, operands split %d, propagated %d", s.Constants, s.Splits, s.Propagated)
	l.Debugf("  coalesced %d, self copies removed %d, trimmed %d", s.Coalesced, s.Removed, s.Trimmed)
	for i1, e1 := range s.Phases {
		l.Debugf("  %-13s %v", Phase(i1), e1)
	}
}
