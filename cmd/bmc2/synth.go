package main

import (
	"log"
	"os"
	"os/exec"
	"strings"
)

// defaultSynthCmd mirrors the yosys invocation the external HDL->BTOR2
// adapter uses: flatten the design, turn clocked registers into plain
// combinational feedback (no clock abstraction), and emit BTOR2.
const defaultSynthCmd = `yosys -p "read_verilog -sv {input}; hierarchy -check; prep -top {top}; memory -nomap; flatten; clk2fflogic; setundef -undriven -anyseq; write_btor {output}"`

// synthesize runs tmpl with {input}/{top}/{output} substituted, skipping
// the run entirely if output already exists next to input.
func synthesize(tmpl, input, top, output string) error {
	if _, err := os.Stat(output); err == nil {
		log.Printf("synth: %s already exists, skipping synthesis", output)
		return nil
	}

	cmdline := strings.NewReplacer(
		"{input}", input,
		"{top}", top,
		"{output}", output,
	).Replace(tmpl)

	log.Printf("synth: %s", cmdline)
	cmd := exec.Command("sh", "-c", cmdline)
	cmd.Stdout = logWriter{}
	cmd.Stderr = logWriter{}
	if err := cmd.Run(); err != nil {
		return userErrorf("synthesis failed: %w", err)
	}
	return nil
}

// logWriter forwards process output to the verbose-gated log package
// without interleaving raw writes with log.Printf's own formatting.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
