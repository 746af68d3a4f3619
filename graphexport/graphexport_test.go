package graphexport

import (
	"os"
	"path/filepath"
	"testing"
)

// writeStubGnuplot creates a tiny shell script that behaves enough like
// gnuplot for Render's purposes: it reads its stdin script to completion
// and exits 0, without actually producing an image.
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

func TestRenderInvokesGnuplotWithScript(t *testing.T) {
	stub := writeStubGnuplot(t)
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "graph.dat")
	if err := os.WriteFile(dataFile, []byte("time_sec sender_mbps\n0.1 10.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Render(stub, dataFile, filepath.Join(dir, "out.png")); err != nil {
		t.Fatalf("Render: %v", err)
	}
}

func TestRenderPropagatesCommandFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gnuplot")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := Render(path, "nonexistent.dat", "out.png"); err == nil {
		t.Fatal("expected an error when gnuplot exits non-zero")
	}
}
