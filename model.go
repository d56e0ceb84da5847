package bmc2

import "fmt"

// OutputKind distinguishes the three BTOR2 sink line kinds a ModelIR can
// carry: a plain diagnostic output, a bad-state predicate (the thing BMC
// tries to reach), and an environment assumption constraint.
type OutputKind int

const (
	OutputPlain OutputKind = iota
	OutputBad
	OutputConstraint
)

func (k OutputKind) String() string {
	switch k {
	case OutputPlain:
		return "output"
	case OutputBad:
		return "bad"
	case OutputConstraint:
		return "constraint"
	default:
		return fmt.Sprintf("OutputKind<%d>", int(k))
	}
}

// StateVar is a single BTOR2 `state` line: a named signal with an optional
// initial-value expression and a required next-value expression, both
// referencing only current-step Vars.
type StateVar struct {
	Name string
	Sort Sort
	Init Expr // nil: unconstrained initial value
	Next Expr
}

// InputVar is a single BTOR2 `input` line.
type InputVar struct {
	Name string
	Sort Sort
}

// OutputVar is a single BTOR2 `output`, `bad`, or `constraint` line.
type OutputVar struct {
	Name string
	Kind OutputKind
	Expr Expr
}

// SignalKind classifies where a name resolved to by ModelIR.ResolveSignal
// lives, so the engine knows which per-step symbol table to bind it against.
type SignalKind int

const (
	SignalState SignalKind = iota
	SignalInput
	SignalOutput
)

// ModelIR is the parsed, fully sort-checked BTOR2 transition system. It is
// built once by the btor2 parser and never mutated afterward.
type ModelIR struct {
	States  []StateVar
	Inputs  []InputVar
	Outputs []OutputVar
}

// StateByName returns the state var with the given name, if any.
func (m *ModelIR) StateByName(name string) (StateVar, bool) {
	for _, s := range m.States {
		if s.Name == name {
			return s, true
		}
	}
	return StateVar{}, false
}

// InputByName returns the input var with the given name, if any.
func (m *ModelIR) InputByName(name string) (InputVar, bool) {
	for _, i := range m.Inputs {
		if i.Name == name {
			return i, true
		}
	}
	return InputVar{}, false
}

// OutputByName returns the output var with the given name, if any.
func (m *ModelIR) OutputByName(name string) (OutputVar, bool) {
	for _, o := range m.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return OutputVar{}, false
}

// ResolveSignal resolves a bare signal name against the model, checking
// state variables, then inputs, then outputs, per spec's binding order.
func (m *ModelIR) ResolveSignal(name string) (sort Sort, kind SignalKind, ok bool) {
	if s, ok := m.StateByName(name); ok {
		return s.Sort, SignalState, true
	}
	if i, ok := m.InputByName(name); ok {
		return i.Sort, SignalInput, true
	}
	if o, ok := m.OutputByName(name); ok {
		return o.Expr.Sort(), SignalOutput, true
	}
	return nil, 0, false
}

// BadDisjunction returns the disjunction of every `bad` sink's expression,
// or a constant false if there are none. Used as the property fallback when
// the stimulus script defines no [PROPERTY] predicate.
func (m *ModelIR) BadDisjunction() Expr {
	var result Expr
	for _, o := range m.Outputs {
		if o.Kind != OutputBad {
			continue
		}
		if result == nil {
			result = o.Expr
		} else {
			result = NewBinaryExpr(OR, result, o.Expr)
		}
	}
	if result == nil {
		return NewBoolConstantExpr(false)
	}
	return result
}

// Constraints returns every `constraint` sink's expression. Per spec.md's
// Open Question resolution, these are asserted at every step globally.
func (m *ModelIR) Constraints() []Expr {
	var result []Expr
	for _, o := range m.Outputs {
		if o.Kind == OutputConstraint {
			result = append(result, o.Expr)
		}
	}
	return result
}
