// Package datareceiver implements the Data Receiver worker: it reads
// packets from the data channel, locates the sender's embedded record,
// and periodically reports interval statistics over the control channel,
// toward the data sender's host, as an IntervalFeedback record.
package datareceiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/m-lab/bbperf/metrics"
	"github.com/m-lab/bbperf/wire"
)

// sampleInterval mirrors the Data Sender's accounting interval.
const sampleInterval = 100 * time.Millisecond

// readTimeout bounds each individual read so the worker can keep
// checking the deadline watchdog and ctx even when packets stop
// arriving, rather than blocking forever in a single Read call.
const readTimeout = 50 * time.Millisecond

// inactivityTimeout is how long the receiver tolerates a completely
// silent data channel before treating it as a fatal stall rather than a
// transient gap.
const inactivityTimeout = 20 * time.Second

// ErrStalled is returned when no bytes arrive for longer than
// inactivityTimeout.
var ErrStalled = errors.New("datareceiver: data channel stalled")

// Reader reads one packet from the data channel, blocking no longer
// than readTimeout.
type Reader interface {
	// ReadPacket returns the bytes read, or an error satisfying
	// os.IsTimeout(err) if readTimeout elapsed with nothing to read.
	ReadPacket() ([]byte, error)
}

// FeedbackSink delivers one encoded IntervalFeedback line to whatever is
// consuming it: a real control.Conn for the networked direction, or an
// in-process channel when the producer and the consumer are both local
// to the same Session Controller.
type FeedbackSink interface {
	SendFeedback(line []byte) error
}

// tcpReader adapts a net.Conn to Reader.
type tcpReader struct {
	nc  net.Conn
	buf []byte
}

// NewTCPReader wraps a connected TCP data channel.
func NewTCPReader(nc net.Conn) Reader {
	return &tcpReader{nc: nc, buf: make([]byte, 4096)}
}

func (r *tcpReader) ReadPacket() ([]byte, error) {
	r.nc.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := r.nc.Read(r.buf)
	if err != nil {
		return nil, err
	}
	return r.buf[:n], nil
}

// udpReader adapts a net.PacketConn to Reader.
type udpReader struct {
	pc  net.PacketConn
	buf []byte
}

// NewUDPReader wraps a UDP data channel.
func NewUDPReader(pc net.PacketConn) Reader {
	return &udpReader{pc: pc, buf: make([]byte, 4096)}
}

func (r *udpReader) ReadPacket() ([]byte, error) {
	r.pc.SetReadDeadline(time.Now().Add(readTimeout))
	n, _, err := r.pc.ReadFrom(r.buf)
	if err != nil {
		return nil, err
	}
	return r.buf[:n], nil
}

// Run reads from in until the peer disconnects (TCP), a UDP stop
// message arrives, or ctx is cancelled. isUDP only affects whether the
// stop-message check runs, since TCP already produces a zero-length
// read on orderly close.
func Run(ctx context.Context, in Reader, out FeedbackSink, isUDP bool) error {
	var totalRecvCalls int64
	intervalStart := time.Now()
	intervalEnd := intervalStart.Add(sampleInterval)
	var intervalPackets, intervalBytes int64

	lastDataAt := time.Now()
	line := make([]byte, 0, 256)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		b, err := in.ReadPacket()
		if err != nil {
			if isTimeout(err) {
				if time.Since(lastDataAt) > inactivityTimeout {
					return ErrStalled
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				// The peer disconnected in an orderly way (TCP only).
				return nil
			}
			return fmt.Errorf("datareceiver: reading data channel: %w", err)
		}
		if len(b) == 0 {
			return nil
		}

		if isUDP && len(b) == len(wire.UDPStopMsg) && string(b) == wire.UDPStopMsg {
			return nil
		}

		lastDataAt = time.Now()
		metrics.ReceiverBytesTotal.Add(float64(len(b)))
		totalRecvCalls++
		intervalPackets++
		intervalBytes += int64(len(b))

		now := time.Now()
		if now.Before(intervalEnd) {
			continue
		}
		intervalDuration := now.Sub(intervalStart).Seconds()

		block, ok := wire.FindSenderBlock(b)
		if !ok {
			metrics.MalformedRecordsTotal.Inc()
			// No sender block to echo, so this boundary crossing produces
			// no feedback; reset the interval and keep reading.
			intervalBytes = 0
			intervalPackets = 0
			intervalStart = now
			intervalEnd = intervalStart.Add(sampleInterval)
			continue
		}

		fb := wire.IntervalFeedback{
			SenderBlock:              block,
			ReceiverIntervalDuration: intervalDuration,
			ReceiverIntervalPackets:  intervalPackets,
			ReceiverIntervalBytes:    intervalBytes,
			ReceiverTotalPackets:     totalRecvCalls,
		}
		line = fb.Encode(line[:0])
		if err := out.SendFeedback(line); err != nil {
			return fmt.Errorf("datareceiver: sending feedback: %w", err)
		}

		intervalBytes = 0
		intervalPackets = 0
		intervalStart = now
		intervalEnd = intervalStart.Add(sampleInterval)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
