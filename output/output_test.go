package output_test

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/bbperf/calibration"
	"github.com/m-lab/bbperf/controlreceiver"
	"github.com/m-lab/bbperf/output"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

func newFeedback(kind wire.Kind, sendTime, recvTime, intervalDur float64, bytesSent, bytesRecv, totalSent, totalRecv int64) controlreceiver.Feedback {
	sr := &wire.SenderRecord{
		Kind:                kind,
		SendTimeSec:         sendTime,
		IntervalDurationSec: intervalDur,
		IntervalBytesSent:   bytesSent,
		IntervalSendCount:   1,
		TotalSendCounter:    totalSent,
	}
	fb := &wire.IntervalFeedback{
		ReceiverIntervalDuration: intervalDur,
		ReceiverIntervalBytes:    bytesRecv,
		ReceiverIntervalPackets:  1,
		ReceiverTotalPackets:     totalRecv,
		ReceiveTimeSec:           recvTime,
	}
	return controlreceiver.Feedback{Sender: sr, Receiver: fb, Raw: []byte("raw-line\n")}
}

func TestProcessComputesThroughputAndWritesGraphRow(t *testing.T) {
	oracle := calibration.New()
	oracle.Observe(0.01)
	oracle.ForceCalibrated()
	phase := session.NewPhase()
	phase.Store(session.PhaseRunning)

	var graph, raw bytes.Buffer
	agg := output.New(session.RunConfig{Transport: session.TCP}, oracle, phase, &graph, &raw)

	// 5ms round trip, measured entirely from record-embedded timestamps.
	fb := newFeedback(wire.KindRun, 100.0, 100.005, 0.1, 409600, 409600, 10, 10)
	agg.Process(fb, time.Unix(1, 0))

	samples := agg.Samples()
	if len(samples) != 1 {
		t.Fatalf("len(Samples()) = %d, want 1", len(samples))
	}
	s := samples[0]
	if s.SenderMbps <= 0 {
		t.Errorf("SenderMbps = %v, want > 0", s.SenderMbps)
	}
	if math.Abs(s.RTTMs-5.0) > 0.001 {
		t.Errorf("RTTMs = %v, want ~5.0 from the embedded timestamps", s.RTTMs)
	}

	lines := strings.Split(strings.TrimSpace(graph.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("graph file has %d lines, want 2 (header + 1 row)", len(lines))
	}
	if !strings.HasPrefix(lines[0], "time_sec") {
		t.Errorf("graph file header = %q, want it to start with time_sec", lines[0])
	}

	if !strings.Contains(raw.String(), "raw-line") {
		t.Errorf("raw log = %q, want it to contain the verbatim feedback line", raw.String())
	}
}

func TestProcessCalibrationFeedsOracleAndAdvancesPhase(t *testing.T) {
	oracle := calibration.New()
	phase := session.NewPhase()

	var graph, raw bytes.Buffer
	agg := output.New(session.RunConfig{Transport: session.TCP}, oracle, phase, &graph, &raw)

	for i := 0; i < 30; i++ {
		fb := newFeedback(wire.KindCalibration, 1.0, 1.010, 0, 0, 0, 0, 0)
		agg.Process(fb, time.Unix(1, 0))
	}

	if !oracle.IsCalibrated() {
		t.Fatal("expected a steady stream of identical cal RTTs to stabilize the oracle")
	}
	if phase.Load() != session.PhaseRunning {
		t.Errorf("phase = %v, want PhaseRunning once the oracle stabilizes", phase.Load())
	}
	if math.Abs(oracle.UnloadedRTT()-0.010) > 1e-9 {
		t.Errorf("UnloadedRTT() = %v, want 0.010", oracle.UnloadedRTT())
	}
}

func TestUDPDropAccounting(t *testing.T) {
	oracle := calibration.New()
	oracle.Observe(0.01)
	oracle.ForceCalibrated()
	phase := session.NewPhase()
	phase.Store(session.PhaseRunning)

	var graph, raw bytes.Buffer
	agg := output.New(session.RunConfig{Transport: session.UDP}, oracle, phase, &graph, &raw)

	fb := newFeedback(wire.KindRun, 100.0, 100.005, 0.1, 10240, 9216, 100, 90)
	agg.Process(fb, time.Unix(1, 0))

	samples := agg.Samples()
	if len(samples) != 1 {
		t.Fatalf("len(Samples()) = %d, want 1", len(samples))
	}
	if samples[0].PacketsDropped != 10 {
		t.Errorf("PacketsDropped = %d, want 10", samples[0].PacketsDropped)
	}
}
