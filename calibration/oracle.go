// Package calibration keeps the running minimum round-trip-time observed
// during a run's calibration phase, and decides when enough samples have
// been collected to call the path "calibrated".
package calibration

import (
	"sync"
	"time"
)

// The transition rule: calibration is done once at least
// minCalibrationSamples RTTs have arrived and the running minimum has not
// improved across the most recent stabilityWindow of them. Probes are
// spaced 200ms apart, so on a quiet path this decides after about one
// second — well inside even the shortest practical run duration, which
// matters because the duration clock starts with the first probe.
// MaxDuration is the hard cap from the data model: calibration never runs
// longer than this even if the minimum is still dropping.
const (
	stabilityWindow       = 4
	minCalibrationSamples = 5
	// MaxDuration bounds how long the calibration phase is allowed to run
	// before the run phase starts regardless of stability.
	MaxDuration = 20 * time.Second
)

// Oracle maintains the calibration phase's running minimum RTT. It is
// written by the Output Aggregator (or, on a download-direction server,
// the control relay) as ` cal ` feedback arrives, and read by the Output
// Aggregator (to compute BDP). The Data Sender never reads it directly:
// it follows the shared Phase that the Oracle's decision advances. Writer
// and readers run in different goroutines, so unlike the teacher's
// single-goroutine cache, it needs real synchronization.
type Oracle struct {
	mu         sync.RWMutex
	minRTTSec  float64
	samples    int
	startTime  time.Time
	recent     []float64 // ring of the last stabilityWindow minima, oldest first
	calibrated bool
}

// New creates an Oracle whose calibration window starts now.
func New() *Oracle {
	return &Oracle{startTime: time.Now()}
}

// Observe records a new RTT sample taken during the calibration phase and
// updates the running minimum. It has no effect once the phase has
// transitioned to Running.
func (o *Oracle) Observe(rttSec float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calibrated {
		return
	}
	if o.samples == 0 || rttSec < o.minRTTSec {
		o.minRTTSec = rttSec
	}
	o.samples++
	o.recent = append(o.recent, o.minRTTSec)
	if len(o.recent) > stabilityWindow {
		o.recent = o.recent[len(o.recent)-stabilityWindow:]
	}
	if o.isStable() || time.Since(o.startTime) >= MaxDuration {
		o.calibrated = true
	}
}

// isStable reports whether enough samples have arrived and the running
// minimum has stopped improving across the most recent stabilityWindow
// of them. Must be called with mu held.
func (o *Oracle) isStable() bool {
	if o.samples < minCalibrationSamples || len(o.recent) < stabilityWindow {
		return false
	}
	return o.recent[0] == o.recent[len(o.recent)-1]
}

// UnloadedRTT returns the current running-minimum RTT in seconds. Before
// any samples have been observed, it returns 0.
func (o *Oracle) UnloadedRTT() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.minRTTSec
}

// Samples returns the number of RTT samples folded into the running
// minimum so far.
func (o *Oracle) Samples() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.samples
}

// IsCalibrated reports whether the calibration phase has transitioned,
// either because the running minimum stabilized or because MaxDuration
// elapsed. Per the resolution of the open question in the data model, a
// cap expiry without stability still proceeds to Running using whatever
// minimum has been observed so far, rather than aborting the run.
func (o *Oracle) IsCalibrated() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.calibrated
}

// ForceCalibrated transitions the Oracle to calibrated immediately,
// freezing whatever minimum has been observed. Used by the Output
// Aggregator's cap timer and by the download-direction control relay when
// MaxDuration elapses without calibration having been reached by
// Observe's own check (e.g. if feedback stopped arriving).
func (o *Oracle) ForceCalibrated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calibrated = true
}
