package bmc2

import (
	"bytes"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// SignalValue is the model value bound to one signal at one step: either a
// scalar bit-vector/boolean or an array model, never both.
type SignalValue struct {
	Scalar *ConstValue
	Array  *ArrayModel
}

// String renders the value per spec.md §4.4/§6's output grammar.
func (v SignalValue) String() string {
	if v.Scalar != nil {
		return v.Scalar.String()
	}
	return v.Array.String()
}

// TraceSignal is one named signal binding within a trace step.
type TraceSignal struct {
	Name  string
	Value SignalValue
}

// TraceStep is the full set of signal bindings extracted from the model at
// a single unrolled step: every input, every state variable, and the
// designated output expression, in that order, per spec.md §4.4.
type TraceStep struct {
	Step    int
	Signals []TraceSignal
}

// Trace is the counter-example produced by a PropertyHit: the property
// text that was satisfied, the step at which it held, and the full
// step-indexed signal history from step 0 through HitStep.
type Trace struct {
	PropertyText string
	HitStep      int
	Steps        []TraceStep
}

// FormatTrace renders t using spec.md §6's stable, bit-exact grammar.
func FormatTrace(t *Trace) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "!!! Property '%s' holds at step %d !!!\n", t.PropertyText, t.HitStep)
	for _, step := range t.Steps {
		fmt.Fprintf(&buf, "--- step %d ---\n", step.Step)
		for _, sig := range step.Signals {
			fmt.Fprintf(&buf, "  %s: %s\n", sig.Name, sig.Value)
		}
	}
	return buf.String()
}

// DebugString dumps the full internal structure of the trace via go-spew,
// as a debugging aid separate from the user-facing counter-example. The
// CLI does not call it.
func (t *Trace) DebugString() string {
	return spew.Sdump(t)
}
