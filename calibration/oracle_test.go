package calibration_test

import (
	"testing"

	"github.com/m-lab/bbperf/calibration"
)

func TestObserveTracksMinimum(t *testing.T) {
	o := calibration.New()
	o.Observe(0.050)
	o.Observe(0.040)
	o.Observe(0.045)
	if got := o.UnloadedRTT(); got != 0.040 {
		t.Errorf("UnloadedRTT() = %v, want 0.040", got)
	}
	if got := o.Samples(); got != 3 {
		t.Errorf("Samples() = %d, want 3", got)
	}
	if o.IsCalibrated() {
		t.Error("IsCalibrated() = true after only 3 samples, want false")
	}
}

func TestIsCalibratedBecomesStableAndFreezes(t *testing.T) {
	o := calibration.New()
	for i := 0; i < 30; i++ {
		o.Observe(0.040)
	}
	if !o.IsCalibrated() {
		t.Fatal("expected calibration to stabilize on a constant RTT stream")
	}
	before := o.UnloadedRTT()
	// Further observations after calibration must not change the frozen minimum.
	o.Observe(0.001)
	if got := o.UnloadedRTT(); got != before {
		t.Errorf("UnloadedRTT() changed after calibration: got %v, want %v", got, before)
	}
}

func TestForceCalibrated(t *testing.T) {
	o := calibration.New()
	o.Observe(0.1)
	o.ForceCalibrated()
	if !o.IsCalibrated() {
		t.Fatal("expected ForceCalibrated to mark the oracle calibrated")
	}
	o.Observe(0.001)
	if got := o.UnloadedRTT(); got != 0.1 {
		t.Errorf("UnloadedRTT() = %v, want 0.1 (frozen)", got)
	}
}

func TestUnloadedRTTNonIncreasing(t *testing.T) {
	o := calibration.New()
	samples := []float64{0.09, 0.08, 0.085, 0.07, 0.071, 0.072, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07}
	prev := 1.0
	for _, s := range samples {
		o.Observe(s)
		curr := o.UnloadedRTT()
		if curr > prev {
			t.Fatalf("UnloadedRTT increased: %v -> %v", prev, curr)
		}
		prev = curr
	}
}
