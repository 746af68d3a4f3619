// Main package in graphtool implements a standalone command line tool
// for rendering a bbperf graph-data file into a PNG, for cases where a
// run was captured with -k but without -g and the plot is wanted later.
package main

import (
	"flag"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/bbperf/graphexport"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	dataFile    = flag.String("data", "", "bbperf graph-data file to render (required)")
	outFile     = flag.String("out", "out.png", "output PNG path")
	gnuplotPath = flag.String("gnuplot", "gnuplot", "path to the gnuplot binary")

	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not read flags from environment")

	if *dataFile == "" {
		logFatal("-data is required")
		return
	}

	graphexport.MustRender(*gnuplotPath, *dataFile, *outFile)
	log.Printf("rendered %s from %s", *outFile, *dataFile)
}
