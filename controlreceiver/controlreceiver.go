// Package controlreceiver implements the control-channel workers that
// handle IntervalFeedback once a run is underway: a receiver that decodes
// feedback lines and forwards them to the Output Aggregator, and a relay
// that a download-direction server runs to stamp each line with its local
// arrival time before echoing it back to the client.
//
// The arrival stamp is what makes the RTT computation clock-safe: it is
// always taken on the data sender's host, so it shares a clock with the
// send timestamp embedded in the echoed record. In the upload direction
// the client is the sender and Run stamps lines itself as they arrive; in
// the download direction the server is the sender, so Relay stamps them
// there and the already-stamped lines pass through Run untouched.
package controlreceiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/m-lab/bbperf/calibration"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

// Source yields one raw, newline-terminated IntervalFeedback line at a
// time.
type Source interface {
	// Recv returns io.EOF once the source is exhausted.
	Recv() ([]byte, error)
}

// controlConn is the subset of control.Conn this package depends on.
type controlConn interface {
	ReadLine() ([]byte, error)
	WriteLine(b []byte) error
}

// controlSource reads feedback off a real control channel connection.
type controlSource struct{ c controlConn }

// NewControlSource wraps a control channel connection as a Source.
func NewControlSource(c controlConn) Source { return controlSource{c} }

func (s controlSource) Recv() ([]byte, error) {
	line, err := s.c.ReadLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, io.EOF
	}
	return line, nil
}

// Feedback is one decoded IntervalFeedback record paired with the
// SenderRecord it echoes and the raw stamped line it was decoded from, so
// a consumer that needs to retain the verbatim record (the Output
// Aggregator's raw feedback log) does not need to re-encode it.
type Feedback struct {
	Sender   *wire.SenderRecord
	Receiver *wire.IntervalFeedback
	Raw      []byte
}

func nowSec() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Run reads records from src until it closes or ctx is cancelled,
// decoding each and delivering it on out. A line that arrives without a
// receive-time stamp is stamped here with the local clock, which on the
// upload direction is the data sender's own host. A malformed record is
// skipped rather than treated as fatal, matching the Data Receiver's own
// leniency about incomplete sender blocks.
func Run(ctx context.Context, src Source, out chan<- Feedback) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("controlreceiver: reading feedback: %w", err)
		}
		line = bytes.TrimRight(line, "\n")

		sr, fb, err := wire.DecodeIntervalFeedback(line)
		if err != nil {
			continue
		}
		if fb.ReceiveTimeSec == 0 {
			fb.ReceiveTimeSec = nowSec()
			line = wire.AppendReceiveTime(line, fb.ReceiveTimeSec)
		}

		select {
		case out <- Feedback{Sender: sr, Receiver: fb, Raw: append(line, '\n')}:
		case <-ctx.Done():
			return nil
		}
	}
}

// Relay is the server's control worker in the download direction: it
// reads each feedback line the client's Data Receiver sends up, stamps it
// with the local arrival time, and writes it straight back so the client
// can display it. Because the stamp and the echoed send time are both on
// this host's clock, Relay can also feed calibration RTTs to oracle and
// advance phase once it stabilizes (or the calibration cap elapses),
// which is how the local Data Sender learns to switch cadence.
//
// Relay exits when conn closes; it never fails the run itself.
func Relay(conn controlConn, oracle *calibration.Oracle, phase *session.Phase) {
	start := time.Now()
	for {
		line, err := conn.ReadLine()
		if err != nil || len(line) == 0 {
			return
		}
		line = bytes.TrimRight(line, "\n")

		arrival := nowSec()
		sr, _, derr := wire.DecodeIntervalFeedback(line)
		if derr == nil {
			if sr.Kind == wire.KindCalibration {
				oracle.Observe(arrival - sr.SendTimeSec)
			}
			if phase.Load() == session.PhaseCalibrating &&
				(oracle.IsCalibrated() || time.Since(start) >= calibration.MaxDuration) {
				oracle.ForceCalibrated()
				phase.Store(session.PhaseRunning)
			}
		}

		if err := conn.WriteLine(wire.AppendReceiveTime(line, arrival)); err != nil {
			return
		}
	}
}
