package controlreceiver_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/m-lab/bbperf/calibration"
	"github.com/m-lab/bbperf/controlreceiver"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

// sliceSource replays prepared lines, then reports EOF.
type sliceSource struct {
	lines [][]byte
	i     int
}

func (s *sliceSource) Recv() ([]byte, error) {
	if s.i >= len(s.lines) {
		return nil, io.EOF
	}
	line := s.lines[s.i]
	s.i++
	return line, nil
}

func encodeFeedbackLine(t *testing.T, kind wire.Kind, counter int64) []byte {
	t.Helper()
	sr := wire.SenderRecord{Kind: kind, SendTimeSec: 1.5, TotalSendCounter: counter}
	fb := wire.IntervalFeedback{
		SenderBlock:              sr.Encode(nil),
		ReceiverIntervalDuration: 0.1,
		ReceiverIntervalPackets:  1,
		ReceiverIntervalBytes:    1024,
		ReceiverTotalPackets:     counter,
	}
	return append(fb.Encode(nil), '\n')
}

func TestRunDecodesStampsAndForwardsFeedback(t *testing.T) {
	src := &sliceSource{lines: [][]byte{
		encodeFeedbackLine(t, wire.KindRun, 1),
		encodeFeedbackLine(t, wire.KindRun, 2),
	}}
	out := make(chan controlreceiver.Feedback, 2)

	if err := controlreceiver.Run(context.Background(), src, out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	first := <-out
	if first.Sender.TotalSendCounter != 1 {
		t.Errorf("first.Sender.TotalSendCounter = %d, want 1", first.Sender.TotalSendCounter)
	}
	if first.Receiver.ReceiveTimeSec == 0 {
		t.Error("expected an unstamped line to be stamped with a local arrival time")
	}
	if !bytes.HasSuffix(first.Raw, []byte("\n")) {
		t.Errorf("Raw = %q, want a newline-terminated line for the raw log", first.Raw)
	}
}

func TestRunKeepsExistingStamp(t *testing.T) {
	line := bytes.TrimRight(encodeFeedbackLine(t, wire.KindRun, 1), "\n")
	line = append(wire.AppendReceiveTime(line, 42.25), '\n')

	src := &sliceSource{lines: [][]byte{line}}
	out := make(chan controlreceiver.Feedback, 1)

	if err := controlreceiver.Run(context.Background(), src, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fb := <-out
	if fb.Receiver.ReceiveTimeSec != 42.25 {
		t.Errorf("ReceiveTimeSec = %v, want the already-present stamp 42.25", fb.Receiver.ReceiveTimeSec)
	}
}

func TestRunSkipsMalformedLines(t *testing.T) {
	src := &sliceSource{lines: [][]byte{
		[]byte("garbage with no sentinels\n"),
		encodeFeedbackLine(t, wire.KindRun, 7),
	}}
	out := make(chan controlreceiver.Feedback, 2)

	if err := controlreceiver.Run(context.Background(), src, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1 (malformed line skipped)", len(out))
	}
	fb := <-out
	if fb.Sender.TotalSendCounter != 7 {
		t.Errorf("TotalSendCounter = %d, want 7", fb.Sender.TotalSendCounter)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	// A line is waiting, but nothing ever drains out: Run must notice the
	// already-cancelled context rather than block on either side.
	src := &sliceSource{lines: [][]byte{encodeFeedbackLine(t, wire.KindRun, 1)}}
	out := make(chan controlreceiver.Feedback)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- controlreceiver.Run(ctx, src, out) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

// fakeConn records what Relay echoes back.
type fakeConn struct {
	in  [][]byte
	i   int
	out [][]byte
}

func (f *fakeConn) ReadLine() ([]byte, error) {
	if f.i >= len(f.in) {
		return nil, io.EOF
	}
	line := f.in[f.i]
	f.i++
	return line, nil
}

func (f *fakeConn) WriteLine(b []byte) error {
	f.out = append(f.out, append([]byte(nil), b...))
	return nil
}

func TestRelayStampsEchoesAndCalibrates(t *testing.T) {
	conn := &fakeConn{}
	for i := int64(1); i <= 20; i++ {
		conn.in = append(conn.in, encodeFeedbackLine(t, wire.KindCalibration, i))
	}

	oracle := calibration.New()
	phase := session.NewPhase()
	controlreceiver.Relay(conn, oracle, phase)

	if len(conn.out) != len(conn.in) {
		t.Fatalf("relay echoed %d lines, want %d", len(conn.out), len(conn.in))
	}
	for _, line := range conn.out {
		_, fb, err := wire.DecodeIntervalFeedback(line)
		if err != nil {
			t.Fatalf("decoding echoed line: %v", err)
		}
		if fb.ReceiveTimeSec == 0 {
			t.Fatalf("echoed line %q carries no receive-time stamp", line)
		}
	}

	// With identical send times, each later arrival yields an RTT no
	// smaller than the first, so the running minimum holds steady, which
	// must stabilize the oracle and advance the phase.
	if !oracle.IsCalibrated() {
		t.Error("expected the relay's calibration oracle to stabilize")
	}
	if phase.Load() != session.PhaseRunning {
		t.Errorf("phase = %v, want PhaseRunning", phase.Load())
	}
}
