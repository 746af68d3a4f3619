// Package graphexport renders a run's graph-data file into an image by
// piping a generated gnuplot script through an external gnuplot process,
// the same external-process plumbing the teacher package used to shell
// out to zstd for compression.
package graphexport

import (
	"fmt"
	"os/exec"

	"github.com/m-lab/go/rtx"
)

// gnuplotCommand is the binary looked up on PATH when the caller does
// not supply an explicit gnuplot path.
var gnuplotCommand = "gnuplot"

// script is the gnuplot program piped to the external process's stdin.
// It plots sender and receiver throughput against bloat factor on a
// secondary axis, reading straight from the whitespace-delimited graph
// data file the Output Aggregator wrote.
const script = `set terminal png size 1024,640
set output %q
set xlabel "time (s)"
set ylabel "throughput (Mbps)"
set y2label "bloat factor"
set y2tics
plot %q using 1:2 with lines title "sender Mbps" axes x1y1, \
     %q using 1:3 with lines title "receiver Mbps" axes x1y1, \
     %q using 1:8 with lines title "bloat factor" axes x1y2
`

// Render invokes gnuplot, with the given gnuplot binary path, to turn
// dataFile (the Output Aggregator's graph-data file) into a PNG at
// outFile.
func Render(gnuplotPath, dataFile, outFile string) error {
	if gnuplotPath == "" {
		gnuplotPath = gnuplotCommand
	}

	cmd := exec.Command(gnuplotPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("graphexport: creating gnuplot stdin pipe: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, werr := stdin.Write([]byte(fmt.Sprintf(script, outFile, dataFile, dataFile, dataFile)))
		stdin.Close()
		errCh <- werr
	}()

	if err := cmd.Run(); err != nil {
		<-errCh
		return fmt.Errorf("graphexport: running gnuplot: %w", err)
	}
	return <-errCh
}

// MustRender is a thin rtx.Must wrapper for callers (cmd/graphtool) that
// treat a failed render as fatal. The client's own -g path calls Render
// and only logs a failure.
func MustRender(gnuplotPath, dataFile, outFile string) {
	rtx.Must(Render(gnuplotPath, dataFile, outFile), "Could not render graph for %q", dataFile)
}
