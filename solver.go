package bmc2

import (
	"context"
	"fmt"
)

// SatResult is the verdict of a check-sat query.
type SatResult int

const (
	Sat SatResult = iota
	Unsat
	Unknown
)

func (r SatResult) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("SatResult<%d>", int(r))
	}
}

// ConstValue is a concrete bit-vector value extracted from a satisfying
// model. Widths in this domain fit in 64 bits, so a single uint64 holds the
// value; Sort.Width == WidthBool means the value is a boolean.
type ConstValue struct {
	Sort Sort
	Bits uint64
}

// String renders the value per spec.md §6's counter-example grammar:
// "<decimal>_<width>" for bit-vectors, "true"/"false" for booleans.
func (v ConstValue) String() string {
	w := BitVecWidth(v.Sort)
	if w == WidthBool {
		if v.Bits != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%d_%d", v.Bits, w)
}

// ArrayEntry is one concrete index/value pair extracted from an array model.
type ArrayEntry struct {
	Index ConstValue
	Value ConstValue
}

// ArrayModel is the sparse representation of a satisfying model's value for
// an array-sorted symbol: an explicit set of entries plus a default value
// for every other index, matching spec.md §4.4's "{idx0: v0, …, default: d}"
// output grammar.
type ArrayModel struct {
	Entries []ArrayEntry
	Default ConstValue
}

// String renders the array per spec.md §4.4's sparse notation.
func (m ArrayModel) String() string {
	s := "{"
	for i, e := range m.Entries {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %s", e.Index, e.Value)
	}
	if len(m.Entries) > 0 {
		s += ", "
	}
	return s + fmt.Sprintf("default: %s}", m.Default)
}

// Solver is the narrow capability interface the engine talks to, per
// spec.md §4.5: declare constants, assert formulas, check satisfiability,
// and query the resulting model. No component outside bmc2/z3 constructs a
// concrete solver; the engine only ever sees this interface.
type Solver interface {
	// DeclareConst declares a fresh constant of the given sort under name
	// and returns a Var referencing it. name must be unique for the
	// lifetime of the solver (the caller is responsible for step-qualifying
	// names, e.g. "out@3", so the same signal at different steps never
	// collides).
	DeclareConst(name string, sort Sort) (*Var, error)

	// DeclareArray declares a fresh named symbolic array of the given sort
	// and returns an Array handle for it. Like DeclareConst, name must be
	// step-qualified by the caller. The returned Array's ID is minted by the
	// backend and is only meaningful to later ArrayValue calls against the
	// same solver instance.
	DeclareArray(name string, sort ArraySort) (*Array, error)

	// Assert adds a boolean-sorted formula to the current assertion set.
	Assert(Expr) error

	// CheckSat determines satisfiability of the current assertion set,
	// honoring ctx cancellation and any backend-configured timeout.
	CheckSat(ctx context.Context) (SatResult, error)

	// GetValue returns the concrete value bound to v in the most recent
	// satisfying model. Only valid immediately after a Sat result.
	GetValue(v *Var) (ConstValue, error)

	// ArrayValue returns the concrete model for an array-sorted symbolic
	// value. Only valid immediately after a Sat result.
	ArrayValue(arr *Array) (ArrayModel, error)

	// Eval evaluates a derived (non-leaf) bit-vector-sorted expression
	// under the most recent satisfying model, without requiring it to have
	// been declared as its own constant first. Only valid immediately
	// after a Sat result.
	Eval(expr Expr) (ConstValue, error)

	// Close releases the backend connection. Safe to call once, on every
	// exit path, per spec.md §5's scoped-acquisition discipline.
	Close() error
}

// IncrementalSolver widens Solver with push/pop scoping, required by the
// BMC engine to keep accumulated transition constraints live across steps
// while scoping each step's property query to its own push/pop bracket.
type IncrementalSolver interface {
	Solver

	// Push saves the current assertion set as a restore point.
	Push() error

	// Pop restores the assertion set to the most recent Push.
	Pop() error
}
