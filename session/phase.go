package session

import "sync/atomic"

// PhaseState is the run's current lifecycle stage. The Data Sender reads
// it to decide which SenderRecord.Kind to emit and which cadence policy
// applies. The Output Aggregator (or, on a download-direction server, the
// control relay) advances it to Running once calibration completes, and
// the Session Controller advances it to Stopping at teardown.
type PhaseState int32

// The three phases a run passes through, in order. A run never returns to
// an earlier phase.
const (
	PhaseCalibrating PhaseState = iota
	PhaseRunning
	PhaseStopping
)

func (p PhaseState) String() string {
	switch p {
	case PhaseCalibrating:
		return "calibrating"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Phase is a lock-free cell holding the current PhaseState, shared by
// reference across the Data Sender, the Output Aggregator (or control
// relay) and the Session Controller in place of the original
// implementation's
// multiprocessing.Value.
type Phase struct {
	v int32
}

// NewPhase creates a Phase starting in PhaseCalibrating.
func NewPhase() *Phase {
	return &Phase{v: int32(PhaseCalibrating)}
}

// Load returns the current phase.
func (p *Phase) Load() PhaseState {
	return PhaseState(atomic.LoadInt32(&p.v))
}

// Store advances the phase. Callers are expected to only ever move
// forward (Calibrating -> Running -> Stopping); Store does not enforce
// this itself, matching the original's lack of enforcement on its shared
// value.
func (p *Phase) Store(s PhaseState) {
	atomic.StoreInt32(&p.v, int32(s))
}
