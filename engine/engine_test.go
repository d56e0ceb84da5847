package engine_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cprice-io/bmc2"
	"github.com/cprice-io/bmc2/engine"
	"github.com/cprice-io/bmc2/stimulus"
)

// fakeSolver is a deterministic, non-incremental-in-the-SMT-sense stand-in
// for an IncrementalSolver: every CheckSat recomputes a model from scratch
// by propagating the equalities the engine always asserts (state@k == init
// or next-expr, input@k == stimulus literal) to a fixpoint and defaulting
// any variable the propagation never touches to zero, modeling the
// "solver is free to pick anything" case. It understands every Expr node the engine ever builds except
// Array, which none of this package's tests exercise.
type fakeSolver struct {
	sorts map[string]bmc2.Sort

	assertions []bmc2.Expr
	marks      []int

	checkSatCalls int
	unknownOnCall int
	unknownErr    error // returned alongside bmc2.Unknown, mirroring z3.Solver's error-carrying UNKNOWN contract

	model map[string]*bmc2.ConstantExpr

	closed bool
}

func newFakeSolver() *fakeSolver {
	return &fakeSolver{sorts: make(map[string]bmc2.Sort)}
}

func (s *fakeSolver) DeclareConst(name string, sort bmc2.Sort) (*bmc2.Var, error) {
	s.sorts[name] = sort
	return bmc2.NewVar(name, sort, bmc2.RoleAux), nil
}

func (s *fakeSolver) DeclareArray(name string, sort bmc2.ArraySort) (*bmc2.Array, error) {
	return nil, errUnsupportedArray
}

func (s *fakeSolver) Assert(expr bmc2.Expr) error {
	s.assertions = append(s.assertions, expr)
	return nil
}

func (s *fakeSolver) Push() error {
	s.marks = append(s.marks, len(s.assertions))
	return nil
}

func (s *fakeSolver) Pop() error {
	n := len(s.marks)
	mark := s.marks[n-1]
	s.marks = s.marks[:n-1]
	s.assertions = s.assertions[:mark]
	return nil
}

func (s *fakeSolver) CheckSat(ctx context.Context) (bmc2.SatResult, error) {
	s.checkSatCalls++
	if s.checkSatCalls == s.unknownOnCall {
		return bmc2.Unknown, s.unknownErr
	}

	env := resolveEnv(s.assertions, s.sorts)
	for _, a := range s.assertions {
		v, ok := evalOrNil(a, env)
		if !ok {
			return bmc2.Unknown, nil
		}
		if !v.IsTrue() {
			return bmc2.Unsat, nil
		}
	}
	s.model = env
	return bmc2.Sat, nil
}

func (s *fakeSolver) GetValue(v *bmc2.Var) (bmc2.ConstValue, error) {
	c, ok := s.model[v.Name]
	if !ok {
		return bmc2.ConstValue{}, errNoValue
	}
	return bmc2.ConstValue{Sort: v.Sort(), Bits: c.Value}, nil
}

func (s *fakeSolver) ArrayValue(arr *bmc2.Array) (bmc2.ArrayModel, error) {
	return bmc2.ArrayModel{}, errUnsupportedArray
}

func (s *fakeSolver) Eval(expr bmc2.Expr) (bmc2.ConstValue, error) {
	c, ok := evalOrNil(expr, s.model)
	if !ok {
		return bmc2.ConstValue{}, errNoValue
	}
	return bmc2.ConstValue{Sort: expr.Sort(), Bits: c.Value}, nil
}

func (s *fakeSolver) Close() error {
	s.closed = true
	return nil
}

var (
	errUnsupportedArray = errUnsupported("fakeSolver: arrays not supported")
	errNoValue          = errUnsupported("fakeSolver: no value in model")
)

type errUnsupported string

func (e errUnsupported) Error() string { return string(e) }

// resolveEnv propagates every "var == expr" equality in assertions to a
// fixpoint, then defaults every declared var resolveEnv never touched to
// zero — modeling a solver freely choosing a value for a var nothing
// constrains.
func resolveEnv(assertions []bmc2.Expr, sorts map[string]bmc2.Sort) map[string]*bmc2.ConstantExpr {
	env := make(map[string]*bmc2.ConstantExpr)
	for {
		changed := false
		for _, a := range assertions {
			name, rhs, ok := decomposeEquality(a)
			if !ok {
				continue
			}
			if _, ok := env[name]; ok {
				continue
			}
			if v, ok := evalOrNil(rhs, env); ok {
				env[name] = v
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for name, sort := range sorts {
		if _, ok := env[name]; !ok {
			env[name] = bmc2.NewConstantExpr(0, bmc2.BitVecWidth(sort))
		}
	}
	return env
}

func decomposeEquality(expr bmc2.Expr) (name string, rhs bmc2.Expr, ok bool) {
	b, isBinary := expr.(*bmc2.BinaryExpr)
	if !isBinary || b.Op != bmc2.EQ {
		return "", nil, false
	}
	if v, ok := b.LHS.(*bmc2.Var); ok {
		return v.Name, b.RHS, true
	}
	if v, ok := b.RHS.(*bmc2.Var); ok {
		return v.Name, b.LHS, true
	}
	return "", nil, false
}

// evalOrNil evaluates expr to a ConstantExpr given a fully- or
// partially-resolved environment, returning ok=false if some Var it
// transitively depends on isn't in env yet. It leans entirely on expr.go's
// own constant-folding constructors to do the arithmetic: once every leaf
// is a *ConstantExpr, NewBinaryExpr/NewUnaryExpr/etc. fold the whole
// subtree down to a single ConstantExpr.
func evalOrNil(expr bmc2.Expr, env map[string]*bmc2.ConstantExpr) (*bmc2.ConstantExpr, bool) {
	switch e := expr.(type) {
	case *bmc2.ConstantExpr:
		return e, true
	case *bmc2.Var:
		v, ok := env[e.Name]
		return v, ok
	case *bmc2.UnaryExpr:
		x, ok := evalOrNil(e.X, env)
		if !ok {
			return nil, false
		}
		return bmc2.NewUnaryExpr(e.Op, x).(*bmc2.ConstantExpr), true
	case *bmc2.BinaryExpr:
		l, ok := evalOrNil(e.LHS, env)
		if !ok {
			return nil, false
		}
		r, ok := evalOrNil(e.RHS, env)
		if !ok {
			return nil, false
		}
		return bmc2.NewBinaryExpr(e.Op, l, r).(*bmc2.ConstantExpr), true
	case *bmc2.IteExpr:
		c, ok := evalOrNil(e.Cond, env)
		if !ok {
			return nil, false
		}
		if c.IsTrue() {
			return evalOrNil(e.Then, env)
		}
		return evalOrNil(e.Else, env)
	case *bmc2.ExtractExpr:
		x, ok := evalOrNil(e.X, env)
		if !ok {
			return nil, false
		}
		return bmc2.NewExtractExpr(x, e.Offset, e.Width).(*bmc2.ConstantExpr), true
	case *bmc2.ConcatExpr:
		m, ok := evalOrNil(e.MSB, env)
		if !ok {
			return nil, false
		}
		l, ok := evalOrNil(e.LSB, env)
		if !ok {
			return nil, false
		}
		return bmc2.NewConcatExpr(m, l).(*bmc2.ConstantExpr), true
	case *bmc2.CastExpr:
		x, ok := evalOrNil(e.Src, env)
		if !ok {
			return nil, false
		}
		return bmc2.NewCastExpr(x, e.Width, e.Signed).(*bmc2.ConstantExpr), true
	default:
		return nil, false
	}
}

// counterModel returns a bare 4-bit counter: counter' = counter + 1.
func counterModel(init bmc2.Expr) *bmc2.ModelIR {
	counter := bmc2.NewVar("counter", bmc2.BitVecSort{Width: 4}, bmc2.RoleState)
	return &bmc2.ModelIR{
		States: []bmc2.StateVar{{
			Name: "counter",
			Sort: bmc2.BitVecSort{Width: 4},
			Init: init,
			Next: bmc2.NewBinaryExpr(bmc2.ADD, counter, bmc2.NewConstantExpr(1, 4)),
		}},
	}
}

func propStim(signal string, op stimulus.CompareOp, literal string) *bmc2.StimulusIR {
	return &bmc2.StimulusIR{Property: stimulus.PropExpr{Signal: signal, Op: op, Literal: literal}}
}

func TestRun_PropertyHit(t *testing.T) {
	model := counterModel(bmc2.NewConstantExpr(0, 4))
	stim := propStim("counter", stimulus.EQ, "2")

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit, ok := outcome.(engine.PropertyHit)
	if !ok {
		t.Fatalf("expected PropertyHit, got %T: %+v", outcome, outcome)
	}
	if hit.Step != 2 {
		t.Fatalf("unexpected hit step: %d", hit.Step)
	}
	if got, want := len(hit.Trace.Steps), 3; got != want {
		t.Fatalf("unexpected trace length: %d, want %d", got, want)
	}
	last := hit.Trace.Steps[len(hit.Trace.Steps)-1]
	if diff := cmp.Diff(bmc2.TraceStep{
		Step: 2,
		Signals: []bmc2.TraceSignal{
			{Name: "counter", Value: bmc2.SignalValue{Scalar: &bmc2.ConstValue{Sort: bmc2.BitVecSort{Width: 4}, Bits: 2}}},
		},
	}, last); diff != "" {
		t.Fatal(diff)
	}
	if hit.Trace.PropertyText != "counter == 2" {
		t.Fatalf("unexpected property text: %q", hit.Trace.PropertyText)
	}
}

func TestRun_BoundExhausted(t *testing.T) {
	model := counterModel(bmc2.NewConstantExpr(0, 4))
	stim := propStim("counter", stimulus.EQ, "15")

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(engine.BoundExhausted{KMax: 5}, outcome); diff != "" {
		t.Fatal(diff)
	}
}

func TestRun_PropertyHitAtStepZero(t *testing.T) {
	// The initial state alone already satisfies the property: Run must
	// check it before unrolling a single transition.
	model := counterModel(bmc2.NewConstantExpr(2, 4))
	stim := propStim("counter", stimulus.EQ, "2")

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit, ok := outcome.(engine.PropertyHit)
	if !ok {
		t.Fatalf("expected PropertyHit, got %T: %+v", outcome, outcome)
	}
	if hit.Step != 0 {
		t.Fatalf("unexpected hit step: %d", hit.Step)
	}
}

func TestRun_UnconstrainedInitialState(t *testing.T) {
	// No Init expression at all: the engine must not assert anything
	// about counter@0, leaving the solver free to choose any value
	// (the fake takes counter@0 = 0 from the property equality itself).
	model := counterModel(nil)
	stim := propStim("counter", stimulus.EQ, "0")

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit, ok := outcome.(engine.PropertyHit)
	if !ok {
		t.Fatalf("expected PropertyHit, got %T: %+v", outcome, outcome)
	}
	if hit.Step != 0 {
		t.Fatalf("unexpected hit step: %d", hit.Step)
	}
}

func TestRun_LoadCounter(t *testing.T) {
	counter := bmc2.NewVar("counter", bmc2.BitVecSort{Width: 4}, bmc2.RoleState)
	load := bmc2.NewVar("load", bmc2.Bool, bmc2.RoleInput)
	value := bmc2.NewVar("value", bmc2.BitVecSort{Width: 4}, bmc2.RoleInput)

	model := &bmc2.ModelIR{
		States: []bmc2.StateVar{{
			Name: "counter",
			Sort: bmc2.BitVecSort{Width: 4},
			Init: bmc2.NewConstantExpr(0, 4),
			Next: bmc2.NewIteExpr(
				bmc2.NewBinaryExpr(bmc2.EQ, load, bmc2.NewBoolConstantExpr(true)),
				value,
				bmc2.NewBinaryExpr(bmc2.ADD, counter, bmc2.NewConstantExpr(1, 4)),
			),
		}},
		Inputs: []bmc2.InputVar{
			{Name: "load", Sort: bmc2.Bool},
			{Name: "value", Sort: bmc2.BitVecSort{Width: 4}},
		},
	}
	stim := &bmc2.StimulusIR{
		Property: stimulus.PropExpr{Signal: "counter", Op: stimulus.EQ, Literal: "9"},
		Segments: []stimulus.Segment{
			{Drives: map[string]string{"load": "1", "value": "9"}, Hold: 1},
			{Drives: map[string]string{"load": "0", "value": "9"}, Hold: 1},
		},
	}

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit, ok := outcome.(engine.PropertyHit)
	if !ok {
		t.Fatalf("expected PropertyHit, got %T: %+v", outcome, outcome)
	}
	if hit.Step != 1 {
		t.Fatalf("unexpected hit step: %d, want 1 (load takes effect on the transition out of step 0)", hit.Step)
	}
}

func TestRun_Inconclusive(t *testing.T) {
	model := counterModel(bmc2.NewConstantExpr(0, 4))
	stim := propStim("counter", stimulus.EQ, "15")
	solver := newFakeSolver()
	solver.unknownOnCall = 3 // third CheckSat call (step 2's property query) returns unknown

	outcome, err := engine.Run(context.Background(), model, stim, solver, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(engine.Inconclusive{Step: 2}, outcome); diff != "" {
		t.Fatal(diff)
	}
}

func TestRun_InconclusiveOnBackendTimeoutError(t *testing.T) {
	// z3.Solver.CheckSat returns (bmc2.Unknown, bmc2.ErrSolverTimeout) for a
	// genuine backend timeout, not (bmc2.Unknown, nil). That must still
	// surface as a terminal Inconclusive outcome, not a fatal engine error.
	model := counterModel(bmc2.NewConstantExpr(0, 4))
	stim := propStim("counter", stimulus.EQ, "15")
	solver := newFakeSolver()
	solver.unknownOnCall = 3
	solver.unknownErr = bmc2.ErrSolverTimeout

	outcome, err := engine.Run(context.Background(), model, stim, solver, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(engine.Inconclusive{Step: 2}, outcome); diff != "" {
		t.Fatal(diff)
	}
}

func TestRun_Cancelled(t *testing.T) {
	model := counterModel(bmc2.NewConstantExpr(0, 4))
	stim := propStim("counter", stimulus.EQ, "15")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := engine.Run(ctx, model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(engine.Cancelled{Step: 0}, outcome); diff != "" {
		t.Fatal(diff)
	}
}

func TestRun_BadDisjunctionFallback(t *testing.T) {
	// No [PROPERTY] section at all: stim.Property is the parser's zero
	// value, and the property must fall back to the disjunction of the
	// model's bad sinks.
	counter := bmc2.NewVar("counter", bmc2.BitVecSort{Width: 4}, bmc2.RoleState)
	model := counterModel(bmc2.NewConstantExpr(0, 4))
	model.Outputs = []bmc2.OutputVar{{
		Name: "reached_three",
		Kind: bmc2.OutputBad,
		Expr: bmc2.NewBinaryExpr(bmc2.EQ, counter, bmc2.NewConstantExpr(3, 4)),
	}}
	stim := &bmc2.StimulusIR{}

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit, ok := outcome.(engine.PropertyHit)
	if !ok {
		t.Fatalf("expected PropertyHit, got %T: %+v", outcome, outcome)
	}
	if hit.Step != 3 {
		t.Fatalf("unexpected hit step: %d", hit.Step)
	}
	if hit.Trace.PropertyText != "bad" {
		t.Fatalf("unexpected property text: %q", hit.Trace.PropertyText)
	}
}

func TestRun_ClockWaveform(t *testing.T) {
	// A clocked input must alternate 0/1 with the declared period,
	// independent of any [PROCESS] drive.
	clk := bmc2.NewVar("clk", bmc2.Bool, bmc2.RoleInput)
	model := &bmc2.ModelIR{
		States: []bmc2.StateVar{{
			Name: "counter",
			Sort: bmc2.BitVecSort{Width: 4},
			Init: bmc2.NewConstantExpr(0, 4),
			Next: bmc2.NewIteExpr(
				bmc2.NewBinaryExpr(bmc2.EQ, clk, bmc2.NewBoolConstantExpr(true)),
				bmc2.NewBinaryExpr(bmc2.ADD, bmc2.NewVar("counter", bmc2.BitVecSort{Width: 4}, bmc2.RoleState), bmc2.NewConstantExpr(1, 4)),
				bmc2.NewVar("counter", bmc2.BitVecSort{Width: 4}, bmc2.RoleState),
			),
		}},
		Inputs: []bmc2.InputVar{{Name: "clk", Sort: bmc2.Bool}},
	}
	stim := &bmc2.StimulusIR{
		Property: stimulus.PropExpr{Signal: "counter", Op: stimulus.EQ, Literal: "2"},
		Clocks:   map[string]uint{"clk": 1},
	}

	outcome, err := engine.Run(context.Background(), model, stim, newFakeSolver(), 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit, ok := outcome.(engine.PropertyHit)
	if !ok {
		t.Fatalf("expected PropertyHit, got %T: %+v", outcome, outcome)
	}
	// clk toggles every step (period 1): 0,1,0,1,... Next above adds 1
	// only out of a step where clk is 1 (the odd steps), so counter is 1
	// from step 2 and reaches 2 at step 4.
	if hit.Step != 4 {
		t.Fatalf("unexpected hit step: %d", hit.Step)
	}
}
