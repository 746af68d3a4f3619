package controller

import (
	"fmt"
	"os"
)

// artifacts are the temporary files an Aggregator writes during a run:
// the tabular graph-data file and the verbatim raw feedback log. Both
// live alongside a retained CSV sample log written only at teardown.
type artifacts struct {
	graph *os.File
	raw   *os.File
}

func newArtifacts(sessionID string) (*artifacts, error) {
	graph, err := os.CreateTemp("", fmt.Sprintf("bbperf-%s-graph-*.dat", sessionID))
	if err != nil {
		return nil, err
	}
	raw, err := os.CreateTemp("", fmt.Sprintf("bbperf-%s-raw-*.txt", sessionID))
	if err != nil {
		graph.Close()
		os.Remove(graph.Name())
		return nil, err
	}
	return &artifacts{graph: graph, raw: raw}, nil
}

// close closes both files. If keep is false, they are also removed from
// disk, matching the teardown rule that data files are temporary unless
// retention was requested with -k.
func (a *artifacts) close(keep bool) {
	a.graph.Close()
	a.raw.Close()
	if !keep {
		os.Remove(a.graph.Name())
		os.Remove(a.raw.Name())
	}
}
