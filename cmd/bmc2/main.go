// Command bmc2 bounded-model-checks a synchronous hardware design against a
// stimulus/property script.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cprice-io/bmc2"
	"github.com/cprice-io/bmc2/engine"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run parses arguments, executes one BMC run, and returns the process exit
// code per the design/top_module/stimulus usage line below (0 hit, 1 bound
// exhausted, 2 inconclusive, 3 user/parse error, 4 internal error).
func run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("bmc2", flag.ContinueOnError)
	fs.Usage = usage
	kMax := fs.Int("k", 20, "maximum BMC unrolling bound")
	synthCmd := fs.String("synth-cmd", defaultSynthCmd, "command template for HDL->BTOR2 synthesis ({input}, {top}, {output})")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return 3
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	if fs.NArg() != 3 {
		fs.Usage()
		return 3
	}
	designPath, topModule, stimulusPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	outcome, err := bmc(ctx, designPath, topModule, stimulusPath, *synthCmd, *kMax)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errExitCode(err)
	}

	switch o := outcome.(type) {
	case engine.PropertyHit:
		fmt.Print(bmc2.FormatTrace(o.Trace))
		return 0
	case engine.BoundExhausted:
		fmt.Printf("bound exhausted: property not observed within k=%d\n", o.KMax)
		return 1
	case engine.Inconclusive:
		fmt.Printf("inconclusive: backend returned unknown at step %d\n", o.Step)
		return 2
	case engine.Cancelled:
		fmt.Printf("cancelled at step %d\n", o.Step)
		return 4
	default:
		fmt.Fprintf(os.Stderr, "internal error: unknown outcome type %T\n", outcome)
		return 4
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
usage: bmc2 [arguments] <design.hdl> <top_module> <stimulus.txt>

Arguments:

	-k int
		maximum BMC unrolling bound (default 20)
	-synth-cmd string
		command template for HDL->BTOR2 synthesis
	-v
		verbose logging
`[1:])
}

// userError wraps an error caused by bad input (missing file, parse
// failure, unknown signal) rather than an internal fault, so errExitCode
// maps it to exit code 3 instead of 4.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func userErrorf(format string, args ...interface{}) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

// errExitCode maps a pipeline error to a process exit code: 3 for anything
// caused by bad input (a wrapped userError, or the engine's own binding/
// overflow errors for a script naming an unknown signal or an out-of-range
// literal), 4 for anything else.
func errExitCode(err error) int {
	var uerr *userError
	if errors.As(err, &uerr) {
		return 3
	}
	if errors.Is(err, engine.ErrUnknownSignal) || errors.Is(err, engine.ErrLiteralOverflow) {
		return 3
	}
	return 4
}
