// Package datasender implements the Data Sender worker: the loop that
// writes SenderRecord-framed packets to the data channel at a cadence
// determined by the current phase and by an optional bandwidth cap.
package datasender

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/m-lab/bbperf/metrics"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

// sampleInterval is how often accumulated send counters are frozen into
// the header of the next packet.
const sampleInterval = 100 * time.Millisecond

// preCalibrationDelay paces the very first packets far below line rate,
// so the Calibration Oracle observes round trips on an otherwise empty
// path rather than ones already queued behind a burst.
const preCalibrationDelay = 200 * time.Millisecond

// Sender writes one already-framed packet to the data channel. The
// session controller supplies a TCP or UDP implementation; this package
// does not care which.
type Sender interface {
	Send(b []byte) (int, error)
}

// tcpSender adapts a connected net.Conn to Sender.
type tcpSender struct{ nc net.Conn }

// NewTCPSender wraps an already-connected TCP data channel.
func NewTCPSender(nc net.Conn) Sender { return tcpSender{nc} }

func (s tcpSender) Send(b []byte) (int, error) { return s.nc.Write(b) }

// udpSender adapts a net.PacketConn and a known peer address to Sender.
type udpSender struct {
	pc   net.PacketConn
	peer net.Addr
}

// NewUDPSender wraps a UDP data channel once the peer's address is
// known, either because this side dialed it or because it was learned
// from an earlier discovery ping.
func NewUDPSender(pc net.PacketConn, peer net.Addr) Sender { return udpSender{pc, peer} }

func (s udpSender) Send(b []byte) (int, error) { return s.pc.WriteTo(b, s.peer) }

// Run writes packets to out until ctx is cancelled, the run duration
// elapses, or an unrecoverable send error occurs. phase is read each
// iteration to decide whether a packet is tagged as a calibration probe
// or a run-phase record.
func Run(ctx context.Context, out Sender, phase *session.Phase, cfg session.RunConfig) error {
	if cfg.Transport == session.UDP {
		// UDP has no connection-close signal, so the receiver relies on
		// this sentinel to tell calibrated reception apart from a stall.
		// Best-effort: if the peer is already gone this send is ignored.
		defer out.Send([]byte(wire.UDPStopMsg))
	}

	pacer := newPacer(cfg)

	deadline := time.Now().Add(time.Duration(cfg.DurationSeconds) * time.Second)

	intervalStart := time.Now()
	intervalEnd := intervalStart.Add(sampleInterval)
	var intervalDuration float64
	var intervalSendCount, intervalBytesSent int64
	var accumSendCount, accumBytesSent int64
	var totalSendCounter int64 = 1

	batchStart := time.Now()
	var batchCounter int

	runPayload := wire.Padding(cfg.RunPayloadSize())
	calibrationPayload := wire.Padding(cfg.CalibrationPayloadSize())

	buf := make([]byte, 0, 64+len(runPayload))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := time.Now()
		calibrated := phase.Load() != session.PhaseCalibrating
		kind := wire.KindRun
		if !calibrated {
			kind = wire.KindCalibration
		}

		rec := wire.SenderRecord{
			Kind:                kind,
			SendTimeSec:         float64(now.UnixNano()) / 1e9,
			IntervalDurationSec: intervalDuration,
			IntervalSendCount:   intervalSendCount,
			IntervalBytesSent:   intervalBytesSent,
			TotalSendCounter:    totalSendCounter,
		}

		buf = rec.Encode(buf[:0])
		if calibrated {
			buf = append(buf, runPayload...)
		} else {
			buf = append(buf, calibrationPayload...)
		}

		n, err := out.Send(buf)
		if err != nil {
			if isRecoverablePeerClose(err) {
				return nil
			}
			return err
		}
		if n <= 0 {
			return errShortSend
		}

		metrics.SenderBytesTotal.Add(float64(n))
		totalSendCounter++
		accumSendCount++
		accumBytesSent += int64(n)

		if now.After(intervalEnd) {
			intervalDuration = now.Sub(intervalStart).Seconds()
			intervalSendCount = accumSendCount
			intervalBytesSent = accumBytesSent
			intervalStart = now
			intervalEnd = intervalStart.Add(sampleInterval)
			accumSendCount = 0
			accumBytesSent = 0
		}

		if !calibrated {
			// Send very slowly at first to establish unloaded latency.
			time.Sleep(preCalibrationDelay)
			batchStart = time.Now()
			batchCounter = 0
			continue
		}

		if now.After(deadline) {
			return nil
		}

		if pacer != nil {
			batchCounter++
			if batchCounter >= pacer.batchSize {
				pacer.wait(&batchStart)
				batchCounter = 0
			}
		}
	}
}

var errShortSend = errors.New("datasender: send reported zero bytes")

// isRecoverablePeerClose reports whether err indicates the peer has
// gone away in a way that should end the run cleanly rather than be
// surfaced as a failure, mirroring the original implementation's
// handling of a reset connection or a broken pipe at the end of a
// reverse TCP test.
func isRecoverablePeerClose(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
