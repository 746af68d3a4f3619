package main

import (
	"log"
	"os"
	"path/filepath"
	"testing"
)

func writeStubGnuplot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gnuplot")
	script := "#!/bin/sh\ncat >/dev/null\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMainRendersGraph(t *testing.T) {
	defer func(args []string) { os.Args = args }(os.Args)

	dir := t.TempDir()
	data := filepath.Join(dir, "graph.dat")
	out := filepath.Join(dir, "out.png")
	if err := os.WriteFile(data, []byte("time_sec sender_mbps\n0.1 10.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	os.Args = []string{"graphtool", "-data", data, "-out", out, "-gnuplot", writeStubGnuplot(t)}
	main()
}

func TestMainRequiresDataFlag(t *testing.T) {
	defer func(args []string) {
		os.Args = args
		logFatal = log.Fatal
	}(os.Args)

	defer func(v string) { *dataFile = v }(*dataFile)
	*dataFile = ""

	os.Args = []string{"graphtool"}
	called := false
	logFatal = func(...interface{}) { called = true }

	main()

	if !called {
		t.Error("expected logFatal to be called when -data is missing")
	}
}
