package eir

import (
	"maxvm/src/ir/eir/types"
)

// Operand is a use, definition or update of a Value at one instruction.
type Operand struct {
	inst       *Instruction           // Instruction the operand belongs to.
	effect     types.Effect           // Access performed by the instruction.
	categories types.LocationCategory // Location categories accepted by the instruction for this operand.
	required   Location               // Location mandated by the instruction, or <nil>.
	value      Value                  // Value referred to.
	weight     int                    // Allocation weight. Set by the allocator's weighing phase.
}

// NewOperand returns an operand for value v with effect e accepting the default categories for its kind: registers
// of the kind and stack slots, plus immediates for reads.
func NewOperand(e types.Effect, v Value) *Operand {
	c := v.Kind().Registers() | types.StackSlot
	if e == types.Use {
		c |= types.Immediate
	}
	return &Operand{
		effect:     e,
		categories: c,
		value:      v,
	}
}

// Def returns a definition operand of v.
func Def(v Value) *Operand {
	return NewOperand(types.Definition, v)
}

// Use returns a use operand of v.
func Use(v Value) *Operand {
	return NewOperand(types.Use, v)
}

// Upd returns an update operand of v.
func Upd(v Value) *Operand {
	return NewOperand(types.Update, v)
}

// Allow replaces the accepted categories and returns o.
func (o *Operand) Allow(c types.LocationCategory) *Operand {
	o.categories = c
	return o
}

// Require pins the operand to location l and returns o.
func (o *Operand) Require(l Location) *Operand {
	o.required = l
	if l != nil {
		o.categories |= l.Category()
	}
	return o
}

func (o *Operand) Instruction() *Instruction              { return o.inst }
func (o *Operand) Effect() types.Effect                   { return o.effect }
func (o *Operand) Categories() types.LocationCategory     { return o.categories }
func (o *Operand) RequiredLocation() Location             { return o.required }
func (o *Operand) Value() Value                           { return o.value }
func (o *Operand) Weight() int                            { return o.weight }
func (o *Operand) SetWeight(w int)                        { o.weight = w }
func (o *Operand) SetCategories(c types.LocationCategory) { o.categories = c }

// Variable returns the operand's value if it is a Variable.
func (o *Operand) Variable() (*Variable, bool) {
	v, ok := o.value.(*Variable)
	return v, ok
}

// SetValue retargets the operand to value v.
func (o *Operand) SetValue(v Value) {
	if o.value == v {
		return
	}
	if o.value != nil && o.inst != nil {
		o.value.removeOperand(o)
	}
	o.value = v
	if o.inst != nil {
		v.addOperand(o)
	}
}

// Location returns the location of the operand's value.
func (o *Operand) Location() Location {
	return o.value.Location()
}

// String returns e.g. "use:v3@rax".
func (o *Operand) String() string {
	s := o.effect.String() + ":" + o.value.String()
	if o.required != nil && o.value.Location() == nil {
		s += "@" + o.required.String()
	}
	return s
}
