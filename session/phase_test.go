package session_test

import (
	"testing"

	"github.com/m-lab/bbperf/session"
)

func TestPhaseDefaultsToCalibrating(t *testing.T) {
	p := session.NewPhase()
	if got := p.Load(); got != session.PhaseCalibrating {
		t.Errorf("new Phase = %v, want PhaseCalibrating", got)
	}
}

func TestPhaseAdvances(t *testing.T) {
	p := session.NewPhase()
	p.Store(session.PhaseRunning)
	if got := p.Load(); got != session.PhaseRunning {
		t.Errorf("Phase after Store(PhaseRunning) = %v, want PhaseRunning", got)
	}
	p.Store(session.PhaseStopping)
	if got := p.Load(); got != session.PhaseStopping {
		t.Errorf("Phase after Store(PhaseStopping) = %v, want PhaseStopping", got)
	}
}

func TestSessionIdentifierIsUnique(t *testing.T) {
	a := session.NewSessionIdentifier()
	b := session.NewSessionIdentifier()
	if a == b {
		t.Error("NewSessionIdentifier returned the same value twice")
	}
	if len(a) != 36 {
		t.Errorf("len(NewSessionIdentifier()) = %d, want 36", len(a))
	}
}
