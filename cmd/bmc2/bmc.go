package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cprice-io/bmc2"
	"github.com/cprice-io/bmc2/btor2"
	"github.com/cprice-io/bmc2/engine"
	"github.com/cprice-io/bmc2/stimulus"
	"github.com/cprice-io/bmc2/z3"
)

// bmc runs the full pipeline: synthesize designPath to BTOR2 if needed,
// parse the model and the stimulus script, then unroll the model under a
// fresh Z3-backed solver up to kMax steps.
func bmc(ctx context.Context, designPath, topModule, stimulusPath, synthCmd string, kMax int) (engine.RunOutcome, error) {
	btorPath := withExt(designPath, ".btor2")
	if strings.EqualFold(filepath.Ext(designPath), ".btor2") {
		btorPath = designPath
	} else if err := synthesize(synthCmd, designPath, topModule, btorPath); err != nil {
		return nil, err
	}

	model, err := parseModel(btorPath)
	if err != nil {
		return nil, err
	}

	stim, err := parseStimulus(stimulusPath)
	if err != nil {
		return nil, err
	}

	log.Printf("parsed %d state var(s), %d input(s), %d output(s) from %s", len(model.States), len(model.Inputs), len(model.Outputs), btorPath)
	for _, s := range model.States {
		log.Printf("  state %s: init=%v next=%v", s.Name, s.Init, s.Next)
	}
	if stim.Property.IsTrue || stim.Property.Signal != "" {
		log.Printf("property: %s", propertySummary(stim.Property))
	} else {
		log.Printf("no [PROPERTY] section: checking the disjunction of every bad sink")
	}
	log.Printf("loaded %d process segment(s)", len(stim.Segments))
	if len(stim.Clocks) > 0 {
		log.Printf("loaded clock(s): %v", stim.Clocks)
	} else {
		log.Printf("no [CLOCK] section: every input, including any clk, must be driven by [PROCESS]")
	}

	solver := z3.NewSolver()
	defer solver.Close()

	return engine.Run(ctx, model, stim, solver, kMax)
}

func parseModel(path string) (*bmc2.ModelIR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, userErrorf("opening %s: %w", path, err)
	}
	defer f.Close()

	result, err := btor2.Parse(f)
	if err != nil {
		return nil, userErrorf("parsing %s: %w", path, err)
	}
	for _, w := range result.Warnings {
		log.Printf("%s:%d: warning: unsupported op %q ignored", path, w.Line, w.Op)
	}
	return result.Model, nil
}

func parseStimulus(path string) (*bmc2.StimulusIR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, userErrorf("opening %s: %w", path, err)
	}
	defer f.Close()

	result, err := stimulus.Parse(f)
	if err != nil {
		return nil, userErrorf("parsing %s: %w", path, err)
	}
	return bmc2.NewStimulusIR(result), nil
}

func propertySummary(p stimulus.PropExpr) string {
	if p.IsTrue {
		return "true"
	}
	return fmt.Sprintf("%s %s %s", p.Signal, p.Op, p.Literal)
}

// withExt returns path with its extension replaced by ext, matching
// pathlib's Path.with_suffix.
func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
