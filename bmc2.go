// Package bmc2 implements bounded model checking of synchronous hardware
// designs described in BTOR2. It provides the symbolic expression model
// (Sort, Expr, Array), the parsed transition system (ModelIR), the stimulus
// script model (StimulusIR), and the capability interface the BMC engine
// uses to talk to an SMT backend.
package bmc2

import (
	"errors"
	"fmt"
)

// Standard bit-vector widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	// ErrSolverTimeout is returned when the backend times out mid check-sat.
	ErrSolverTimeout = errors.New("bmc2: solver timeout")
	// ErrSolverCanceled is returned when a caller-supplied cancellation flag fired.
	ErrSolverCanceled = errors.New("bmc2: solver canceled")
	// ErrSolverResourceLimit is returned when the backend hit a resource limit.
	ErrSolverResourceLimit = errors.New("bmc2: solver resource limit")
	// ErrSolverUnknown is returned for any other UNKNOWN verdict from the backend.
	ErrSolverUnknown = errors.New("bmc2: solver returned unknown")
	// ErrSolverCrashed is returned when the backend process/library faults.
	ErrSolverCrashed = errors.New("bmc2: solver crashed")
)

// assert panics if condition is false. Reserved for invariants the parser
// and engine have already validated and that a caller cannot trip from the
// outside (width/sort mismatches surface as proper errors instead).
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
