package bmc2

import "github.com/cprice-io/bmc2/stimulus"

// StimulusIR is the parsed stimulus/property script: clock period map,
// property predicate, ordered drive segments, and the script's `signed`
// extension. Built once by the stimulus parser and never mutated afterward.
type StimulusIR struct {
	Clocks   map[string]uint
	Property stimulus.PropExpr
	Segments []stimulus.Segment
	Signed   map[string]bool
}

// NewStimulusIR adapts a stimulus.ParseResult into a StimulusIR.
func NewStimulusIR(r *stimulus.ParseResult) *StimulusIR {
	return &StimulusIR{
		Clocks:   r.Clocks,
		Property: r.Property,
		Segments: r.Segments,
		Signed:   r.Signed,
	}
}
