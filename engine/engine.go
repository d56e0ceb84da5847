// Package engine implements the bounded model checking loop: iterative
// unrolling of a ModelIR's transition relation over fresh per-step
// symbolic copies, injection of clock and stimulus constraints, and
// incremental satisfiability queries against an SMT backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"

	"github.com/cprice-io/bmc2"
	"github.com/cprice-io/bmc2/stimulus"
)

var (
	// ErrUnknownSignal is returned when the stimulus property or a clock
	// line names a signal not defined by the ModelIR.
	ErrUnknownSignal = errors.New("engine: unknown signal")
	// ErrLiteralOverflow is returned when a drive or property literal
	// cannot be coerced to its target signal's declared width.
	ErrLiteralOverflow = errors.New("engine: literal overflows declared width")
)

// Cursor tracks the stimulus pointer's position: which segment is active
// and how many steps into that segment the engine currently is. Modeled as
// an explicit struct (rather than left implicit in a loop variable) so a
// test can assert its position deterministically.
type Cursor struct {
	SegmentIndex  int
	StepInSegment uint32
}

// advance moves the cursor forward by one step against stim's segments.
// Once past the last segment the cursor stops moving — later steps keep
// reading that segment's drives indefinitely.
func (c Cursor) advance(stim *bmc2.StimulusIR) Cursor {
	if c.SegmentIndex >= len(stim.Segments) {
		return c
	}
	seg := stim.Segments[c.SegmentIndex]
	if c.StepInSegment+1 >= seg.Hold {
		if c.SegmentIndex+1 < len(stim.Segments) {
			return Cursor{SegmentIndex: c.SegmentIndex + 1, StepInSegment: 0}
		}
		return c // last segment: hold here forever
	}
	return Cursor{SegmentIndex: c.SegmentIndex, StepInSegment: c.StepInSegment + 1}
}

// activeSegment returns the segment the cursor currently names, or nil if
// the stimulus script has no [PROCESS] segments at all.
func (c Cursor) activeSegment(stim *bmc2.StimulusIR) *stimulus.Segment {
	if len(stim.Segments) == 0 {
		return nil
	}
	idx := c.SegmentIndex
	if idx >= len(stim.Segments) {
		idx = len(stim.Segments) - 1
	}
	return &stim.Segments[idx]
}

// Frame is one unrolled step's symbol table: the fresh per-step symbolic
// leaf bound to every state and input variable. Frames are appended
// monotonically as the engine unrolls and never mutated once built, so a
// persistent map is the natural fit rather than an incidental one.
type Frame struct {
	Step      int
	StateVars *immutable.Map[string, bmc2.Expr]
	InputVars *immutable.Map[string, bmc2.Expr]
}

func newFrame(step int) *Frame {
	return &Frame{
		Step:      step,
		StateVars: immutable.NewMap[string, bmc2.Expr](nil),
		InputVars: immutable.NewMap[string, bmc2.Expr](nil),
	}
}

// SubstMap flattens the frame's state and input bindings into the
// name->Expr map Substitute expects.
func (f *Frame) SubstMap() map[string]bmc2.Expr {
	m := make(map[string]bmc2.Expr, f.StateVars.Len()+f.InputVars.Len())
	itr := f.StateVars.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		m[k] = v
	}
	itr = f.InputVars.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		m[k] = v
	}
	return m
}

// declareFrame materializes frame k's fresh constants for every state and
// input in model, naming each "<signal>@<step>" so the same signal at two
// different steps never collides in the solver's namespace.
func declareFrame(solver bmc2.IncrementalSolver, model *bmc2.ModelIR, step int) (*Frame, error) {
	f := newFrame(step)
	for _, s := range model.States {
		leaf, err := declareLeaf(solver, s.Name, s.Sort, step)
		if err != nil {
			return nil, err
		}
		f.StateVars = f.StateVars.Set(s.Name, leaf)
	}
	for _, i := range model.Inputs {
		leaf, err := declareLeaf(solver, i.Name, i.Sort, step)
		if err != nil {
			return nil, err
		}
		f.InputVars = f.InputVars.Set(i.Name, leaf)
	}
	return f, nil
}

func declareLeaf(solver bmc2.IncrementalSolver, name string, sort bmc2.Sort, step int) (bmc2.Expr, error) {
	qualified := fmt.Sprintf("%s@%d", name, step)
	if arr, ok := sort.(bmc2.ArraySort); ok {
		return solver.DeclareArray(qualified, arr)
	}
	return solver.DeclareConst(qualified, sort)
}

// RunOutcome is the closed sum type of Run's possible results.
type RunOutcome interface {
	outcome()
}

// PropertyHit means the property held at Step; Trace is the extracted
// counter-example covering every unrolled step up to and including it.
type PropertyHit struct {
	Step  int
	Trace *bmc2.Trace
}

func (PropertyHit) outcome() {}

// BoundExhausted means no step up to KMax-1 satisfied the property.
type BoundExhausted struct {
	KMax int
}

func (BoundExhausted) outcome() {}

// Inconclusive means the backend returned UNKNOWN at Step.
type Inconclusive struct {
	Step int
}

func (Inconclusive) outcome() {}

// Cancelled means the run's context was cancelled between steps.
type Cancelled struct {
	Step int
}

func (Cancelled) outcome() {}

// Run unrolls model up to kMax steps under the drives and property defined
// by stim, using solver for every assertion and satisfiability query. It
// implements the per-step algorithm in order: materialize frame, assert
// init/transition, assert stimulus drives and clock waveform, then push/
// assert/check-sat the property, popping on UNSAT and continuing.
func Run(ctx context.Context, model *bmc2.ModelIR, stim *bmc2.StimulusIR, solver bmc2.IncrementalSolver, kMax int) (RunOutcome, error) {
	var frames []*Frame
	cursor := Cursor{}

	for k := 0; k < kMax; k++ {
		if err := ctx.Err(); err != nil {
			return Cancelled{Step: k}, nil
		}

		frame, err := declareFrame(solver, model, k)
		if err != nil {
			return nil, err
		}

		var prev *Frame
		if k > 0 {
			prev = frames[k-1]
		}
		if err := assertInitOrTransition(solver, model, frame, prev); err != nil {
			return nil, err
		}
		if err := assertStimulus(solver, model, stim, frame, cursor, k); err != nil {
			return nil, err
		}
		for _, c := range model.Constraints() {
			if err := solver.Assert(bmc2.Substitute(c, frame.SubstMap())); err != nil {
				return nil, err
			}
		}

		frames = append(frames, frame)

		outcome, err := checkPropertyAtStep(ctx, solver, model, stim, frame, k, frames)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}

		cursor = cursor.advance(stim)
	}

	return BoundExhausted{KMax: kMax}, nil
}

func assertInitOrTransition(solver bmc2.IncrementalSolver, model *bmc2.ModelIR, frame, prev *Frame) error {
	for _, s := range model.States {
		cur, _ := frame.StateVars.Get(s.Name)
		var rhs bmc2.Expr
		if prev == nil {
			if s.Init == nil {
				continue // unconstrained initial value
			}
			rhs = bmc2.Substitute(s.Init, frame.SubstMap())
		} else {
			rhs = bmc2.Substitute(s.Next, prev.SubstMap())
		}
		if err := solver.Assert(equalExpr(cur, rhs)); err != nil {
			return err
		}
	}
	return nil
}

// equalExpr builds an equality assertion for either scalar or array-sorted
// leaves, since Array has its own Equal that relies on native SMT array
// equality instead of BinaryExpr's generic sort-equal assertion path.
func equalExpr(lhs, rhs bmc2.Expr) bmc2.Expr {
	if arr, ok := lhs.(*bmc2.Array); ok {
		return arr.Equal(rhs.(*bmc2.Array))
	}
	return bmc2.NewBinaryExpr(bmc2.EQ, lhs, rhs)
}

func assertStimulus(solver bmc2.IncrementalSolver, model *bmc2.ModelIR, stim *bmc2.StimulusIR, frame *Frame, cursor Cursor, step int) error {
	if seg := cursor.activeSegment(stim); seg != nil {
		for name, literal := range seg.Drives {
			input, ok := model.InputByName(name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
			}
			v, ok := frame.InputVars.Get(name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
			}
			lit, err := literalConst(literal, bmc2.BitVecWidth(input.Sort))
			if err != nil {
				return err
			}
			if err := solver.Assert(bmc2.NewBinaryExpr(bmc2.EQ, v, lit)); err != nil {
				return err
			}
		}
	}

	for name, period := range stim.Clocks {
		sort, kind, ok := model.ResolveSignal(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
		}
		var v bmc2.Expr
		switch kind {
		case bmc2.SignalState:
			v, _ = frame.StateVars.Get(name)
		case bmc2.SignalInput:
			v, _ = frame.InputVars.Get(name)
		default:
			return fmt.Errorf("%w: clock %q must be a state or input", ErrUnknownSignal, name)
		}
		value := uint64((step / int(period)) % 2)
		lit := bmc2.NewConstantExpr(value, bmc2.BitVecWidth(sort))
		if err := solver.Assert(bmc2.NewBinaryExpr(bmc2.EQ, v, lit)); err != nil {
			return err
		}
	}
	return nil
}

// checkPropertyAtStep brackets the per-step property query in a push/pop so
// the negated-nothing assertion (the property itself) never leaks into the
// accumulated transition constraints that later steps build on.
func checkPropertyAtStep(ctx context.Context, solver bmc2.IncrementalSolver, model *bmc2.ModelIR, stim *bmc2.StimulusIR, frame *Frame, step int, frames []*Frame) (RunOutcome, error) {
	prop, err := propertyExprAtStep(model, stim, frame)
	if err != nil {
		return nil, err
	}

	if err := solver.Push(); err != nil {
		return nil, err
	}
	if err := solver.Assert(prop); err != nil {
		solver.Pop()
		return nil, err
	}

	result, err := solver.CheckSat(ctx)
	if result == bmc2.Unknown {
		// A genuine backend UNKNOWN (timeout, resource limit, cancellation)
		// is a terminal verdict, not an engine failure, even though the
		// adapter also returns a descriptive error alongside it.
		solver.Pop()
		return Inconclusive{Step: step}, nil
	}
	if err != nil {
		solver.Pop()
		return nil, err
	}

	switch result {
	case bmc2.Sat:
		trace, err := extractTrace(solver, model, stim, frames, step)
		if err != nil {
			solver.Pop()
			return nil, err
		}
		return PropertyHit{Step: step, Trace: trace}, nil
	case bmc2.Unsat:
		if err := solver.Pop(); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		panic(fmt.Sprintf("engine: unexpected sat result: %v", result))
	}
}

// propertyExprAtStep resolves the script's property predicate against
// frame's step-k symbolic values. A named signal resolves in order: state
// variable, input variable, then the BTOR2 output expression of that name.
// When the script defines no [PROPERTY] predicate at all, the property
// falls back to the disjunction of the model's bad-state sinks.
func propertyExprAtStep(model *bmc2.ModelIR, stim *bmc2.StimulusIR, frame *Frame) (bmc2.Expr, error) {
	prop := stim.Property
	if prop.IsTrue {
		return bmc2.NewBoolConstantExpr(true), nil
	}
	if prop.Signal == "" {
		return bmc2.Substitute(model.BadDisjunction(), frame.SubstMap()), nil
	}

	sort, kind, ok := model.ResolveSignal(prop.Signal)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, prop.Signal)
	}

	var signal bmc2.Expr
	switch kind {
	case bmc2.SignalState:
		signal, _ = frame.StateVars.Get(prop.Signal)
	case bmc2.SignalInput:
		signal, _ = frame.InputVars.Get(prop.Signal)
	case bmc2.SignalOutput:
		out, _ := model.OutputByName(prop.Signal)
		signal = bmc2.Substitute(out.Expr, frame.SubstMap())
	}

	lit, err := literalConst(prop.Literal, bmc2.BitVecWidth(sort))
	if err != nil {
		return nil, err
	}
	op := compareBinaryOp(prop.Op, stim.Signed[prop.Signal])
	return bmc2.NewBinaryExpr(op, signal, lit), nil
}

func compareBinaryOp(op stimulus.CompareOp, signed bool) bmc2.BinaryOp {
	switch op {
	case stimulus.EQ:
		return bmc2.EQ
	case stimulus.NE:
		return bmc2.NE
	case stimulus.LT:
		if signed {
			return bmc2.SLT
		}
		return bmc2.ULT
	case stimulus.LE:
		if signed {
			return bmc2.SLE
		}
		return bmc2.ULE
	case stimulus.GT:
		if signed {
			return bmc2.SGT
		}
		return bmc2.UGT
	case stimulus.GE:
		if signed {
			return bmc2.SGE
		}
		return bmc2.UGE
	default:
		panic(fmt.Sprintf("engine: invalid compare op: %v", op))
	}
}

// literalConst parses a stimulus literal (decimal, "0x" hex, or "0b"
// binary) into a ConstantExpr of the given width, failing if the value
// does not fit.
func literalConst(text string, width uint) (*bmc2.ConstantExpr, error) {
	var (
		value uint64
		err   error
	)
	switch {
	case strings.HasPrefix(text, "0x"):
		value, err = strconv.ParseUint(text[2:], 16, 64)
	case strings.HasPrefix(text, "0b"):
		value, err = strconv.ParseUint(text[2:], 2, 64)
	default:
		value, err = strconv.ParseUint(text, 10, 64)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLiteralOverflow, text)
	}
	if width < 64 && value>>width != 0 {
		return nil, fmt.Errorf("%w: %s does not fit width %d", ErrLiteralOverflow, text, width)
	}
	return bmc2.NewConstantExpr(value, width), nil
}

// extractTrace builds the counter-example covering every frame from 0
// through the hit step, extracting a concrete value for every input,
// state variable, and the property's output expression (see extractStep).
func extractTrace(solver bmc2.IncrementalSolver, model *bmc2.ModelIR, stim *bmc2.StimulusIR, frames []*Frame, hitStep int) (*bmc2.Trace, error) {
	trace := &bmc2.Trace{PropertyText: propertyText(stim.Property), HitStep: hitStep}
	for _, frame := range frames {
		step, err := extractStep(solver, model, stim, frame)
		if err != nil {
			return nil, err
		}
		trace.Steps = append(trace.Steps, step)
	}
	return trace, nil
}

// extractStep reads back the concrete model value for every input, every
// state variable (in model declaration order), and then either the output
// expression the property predicate names, or, when the script has no
// [PROPERTY] predicate, the bad disjunction recorded under the name "bad".
func extractStep(solver bmc2.IncrementalSolver, model *bmc2.ModelIR, stim *bmc2.StimulusIR, frame *Frame) (bmc2.TraceStep, error) {
	step := bmc2.TraceStep{Step: frame.Step}

	for _, i := range model.Inputs {
		leaf, _ := frame.InputVars.Get(i.Name)
		val, err := signalValue(solver, leaf)
		if err != nil {
			return bmc2.TraceStep{}, err
		}
		step.Signals = append(step.Signals, bmc2.TraceSignal{Name: i.Name, Value: val})
	}
	for _, s := range model.States {
		leaf, _ := frame.StateVars.Get(s.Name)
		val, err := signalValue(solver, leaf)
		if err != nil {
			return bmc2.TraceStep{}, err
		}
		step.Signals = append(step.Signals, bmc2.TraceSignal{Name: s.Name, Value: val})
	}

	if !stim.Property.IsTrue {
		switch {
		case stim.Property.Signal == "":
			// No [PROPERTY] section: the property actually checked at each
			// step is the model's bad-state disjunction, so that is the
			// designated output expression the trace must cover.
			expr := bmc2.Substitute(model.BadDisjunction(), frame.SubstMap())
			c, err := solver.Eval(expr)
			if err != nil {
				return bmc2.TraceStep{}, err
			}
			step.Signals = append(step.Signals, bmc2.TraceSignal{Name: "bad", Value: bmc2.SignalValue{Scalar: &c}})
		default:
			if _, kind, ok := model.ResolveSignal(stim.Property.Signal); ok && kind == bmc2.SignalOutput {
				out, _ := model.OutputByName(stim.Property.Signal)
				expr := bmc2.Substitute(out.Expr, frame.SubstMap())
				c, err := solver.Eval(expr)
				if err != nil {
					return bmc2.TraceStep{}, err
				}
				step.Signals = append(step.Signals, bmc2.TraceSignal{Name: stim.Property.Signal, Value: bmc2.SignalValue{Scalar: &c}})
			}
		}
	}

	return step, nil
}

// signalValue reads back the concrete model value for a leaf expression:
// an Array via ArrayValue, a Var via GetValue.
func signalValue(solver bmc2.IncrementalSolver, leaf bmc2.Expr) (bmc2.SignalValue, error) {
	if arr, ok := leaf.(*bmc2.Array); ok {
		m, err := solver.ArrayValue(arr)
		if err != nil {
			return bmc2.SignalValue{}, err
		}
		return bmc2.SignalValue{Array: &m}, nil
	}
	v := leaf.(*bmc2.Var)
	c, err := solver.GetValue(v)
	if err != nil {
		return bmc2.SignalValue{}, err
	}
	return bmc2.SignalValue{Scalar: &c}, nil
}

func propertyText(p stimulus.PropExpr) string {
	if p.IsTrue {
		return "true"
	}
	if p.Signal == "" {
		return "bad"
	}
	return fmt.Sprintf("%s %s %s", p.Signal, p.Op, p.Literal)
}
