package eir

import (
	"fmt"

	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Value is anything an Operand refers to: a Variable or a Constant.
type Value interface {
	Kind() types.Kind     // Kind returns the kind of the value.
	Location() Location   // Location returns the assigned location, or <nil>.
	Operands() []*Operand // Operands returns all operands referring to the value.
	Name() string         // Name returns the textual EIR name of the value.
	String() string       // String returns the name and, if assigned, the location.

	addOperand(o *Operand)
	removeOperand(o *Operand)
}

// Variable is an EIR virtual register. Fixed variables model pre-allocated values: their location is set on creation
// and never changes.
type Variable struct {
	serial      int                    // Index of the variable in its method.
	name        string                 // Textual EIR name.
	kind        types.Kind             // Kind of value held.
	categories  types.LocationCategory // Location categories permitted by all operands.
	location    Location               // Assigned location.
	fixed       bool                   // Location is pre-allocated.
	weight      int                    // Sum of operand weights.
	operands    []*Operand             // Operands referring to this variable.
	liveRange   *util.BitSet           // Serials of instructions at which the variable is live.
	interfering *util.BitSet           // Serials of interfering variables.
	method      *Method
}

// Constant is a compile-time constant value.
type Constant struct {
	serial   int
	kind     types.Kind
	value    int64
	location Location
	operands []*Operand
}

// ---------------------------
// ----- Value functions -----
// ---------------------------

func (v *Variable) Kind() types.Kind     { return v.kind }
func (v *Variable) Location() Location   { return v.location }
func (v *Variable) Operands() []*Operand { return v.operands }
func (v *Variable) Serial() int          { return v.serial }
func (v *Variable) Name() string         { return v.name }
func (v *Variable) Weight() int          { return v.weight }
func (v *Variable) IsFixed() bool        { return v.fixed }
func (v *Variable) Method() *Method      { return v.method }

// Categories returns the location categories the variable may be assigned to.
func (v *Variable) Categories() types.LocationCategory {
	return v.categories
}

// SetCategories restricts the location categories of the variable.
func (v *Variable) SetCategories(c types.LocationCategory) {
	v.categories = c
}

// String returns the variable name, followed by its location when assigned.
func (v *Variable) String() string {
	if v.location != nil {
		return fmt.Sprintf("%s@%s", v.name, v.location)
	}
	return v.name
}

// SetLocation assigns the location of a non-fixed variable.
func (v *Variable) SetLocation(l Location) {
	util.Check(!v.fixed || l == v.location, "attempt to move pre-allocated %s to %v", v, l)
	v.location = l
}

// SetWeight sets the allocation weight of the variable.
func (v *Variable) SetWeight(w int) {
	v.weight = w
}

// LiveRange returns the set of instruction serials where the variable is live.
func (v *Variable) LiveRange() *util.BitSet {
	return v.liveRange
}

// IsLiveAt returns true if the variable is live at instruction i.
func (v *Variable) IsLiveAt(i *Instruction) bool {
	return v.liveRange.Test(i.serial)
}

// Interfering returns the serials of all variables interfering with v.
func (v *Variable) Interfering() *util.BitSet {
	return v.interfering
}

// InterferesWith returns true if v and w interfere.
func (v *Variable) InterferesWith(w *Variable) bool {
	return v.interfering.Test(w.serial)
}

// BeInterferingWith records mutual interference of v and w.
func (v *Variable) BeInterferingWith(w *Variable) {
	if v == w {
		return
	}
	v.interfering.Set(w.serial)
	w.interfering.Set(v.serial)
}

// BeNotInterferingWith removes the mutual interference of v and w.
func (v *Variable) BeNotInterferingWith(w *Variable) {
	v.interfering.Clear(w.serial)
	w.interfering.Clear(v.serial)
}

// InterferingVariables returns the variables interfering with v.
func (v *Variable) InterferingVariables() []*Variable {
	res := make([]*Variable, 0, v.interfering.Count())
	for i := v.interfering.NextSet(0); i >= 0; i = v.interfering.NextSet(i + 1) {
		res = append(res, v.method.variables[i])
	}
	return res
}

// ResetLocationCategories recomputes the permitted categories as the intersection of the categories of all operands.
func (v *Variable) ResetLocationCategories() {
	c := types.Any &^ types.Immediate
	if v.kind == types.Float {
		c &^= types.IntegerRegister
	} else {
		c &^= types.FloatingPointRegister
	}
	for _, e1 := range v.operands {
		c &= e1.categories
	}
	v.categories = c
}

// RequiredLocation returns the location required by one of the variable's operands, or <nil>. Conflicting requirements
// are fatal: they must have been split apart before allocation.
func (v *Variable) RequiredLocation() Location {
	var l Location
	for _, e1 := range v.operands {
		if e1.required == nil {
			continue
		}
		util.Check(l == nil || l == e1.required, "%s has conflicting required locations %v and %v", v, l, e1.required)
		l = e1.required
	}
	return l
}

// IsReferenceCompatibleWith returns true if both variables either hold references or do not. Values of different
// reference-ness must not share a location because stack reference maps describe locations, not variables.
func (v *Variable) IsReferenceCompatibleWith(w *Variable) bool {
	return v.kind.IsReference() == w.kind.IsReference()
}

func (v *Variable) addOperand(o *Operand) {
	v.operands = append(v.operands, o)
}

func (v *Variable) removeOperand(o *Operand) {
	v.operands = removeOperand(v.operands, o)
}

// ------------------------------
// ----- Constant functions -----
// ------------------------------

func (c *Constant) Kind() types.Kind     { return c.kind }
func (c *Constant) Location() Location   { return c.location }
func (c *Constant) Operands() []*Operand { return c.operands }
func (c *Constant) Value() int64         { return c.value }
func (c *Constant) Serial() int          { return c.serial }

// Name returns the textual EIR name of the constant.
func (c *Constant) Name() string {
	return fmt.Sprintf("c%d", c.serial)
}

// String returns the constant's value.
func (c *Constant) String() string {
	return fmt.Sprintf("#%d", c.value)
}

// SetLocation assigns the location of the constant.
func (c *Constant) SetLocation(l Location) {
	c.location = l
}

func (c *Constant) addOperand(o *Operand) {
	c.operands = append(c.operands, o)
}

func (c *Constant) removeOperand(o *Operand) {
	c.operands = removeOperand(c.operands, o)
}

// removeOperand deletes o from ops preserving order.
func removeOperand(ops []*Operand, o *Operand) []*Operand {
	for i1, e1 := range ops {
		if e1 == o {
			copy(ops[i1:], ops[i1+1:])
			ops[len(ops)-1] = nil
			return ops[:len(ops)-1]
		}
	}
	return ops
}
