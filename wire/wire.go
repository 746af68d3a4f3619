// Package wire implements the self-describing, sentinel-delimited record
// formats carried on bbperf's data channel and control channel.
//
// Both record types are plain ASCII, space-delimited, and bracketed by
// sentinel tokens so that a receiver can locate a record's boundaries
// inside an arbitrarily chunked TCP stream or a padded UDP datagram
// without any separate length framing.
package wire

import (
	"bytes"
	"errors"
	"strconv"
)

// Sentinel tokens that bracket the self-describing portion of a record.
// They are chosen to be unlikely to occur in the numeric fields they
// surround, and are never present in the padding payload.
var (
	sentinelA = []byte(" a ")
	sentinelB = []byte(" b ")
	sentinelC = []byte(" c ")
)

// Protocol literals exchanged outside the sentinel-delimited record
// formats: the session-pairing prefixes sent as the first bytes of a
// new control or data connection, and the UDP stop signal a Data Sender
// uses to tell its receiver the run has ended (UDP has no
// connection-close equivalent).
const (
	ControlPrefix = "control "
	DataPrefix    = "data "
	UDPStopMsg    = "stop"
)

// Kind distinguishes a calibration probe from a run-phase data record.
type Kind string

// The two record kinds that appear on the wire.
const (
	KindCalibration Kind = "cal"
	KindRun         Kind = "run"
)

// ErrMalformed is returned when a buffer does not contain a complete,
// well-formed record. Callers should skip the buffer for feedback
// purposes but are not required to treat it as fatal.
var ErrMalformed = errors.New("wire: malformed record")

// SenderRecord is the metadata a Data Sender embeds at the front of every
// packet it writes to the data channel.
type SenderRecord struct {
	Kind                Kind
	SendTimeSec         float64
	IntervalDurationSec float64
	IntervalSendCount   int64
	IntervalBytesSent   int64
	TotalSendCounter    int64
}

// Encode appends the record's wire representation to dst and returns the
// extended slice. Building it by repeated append (rather than
// fmt.Sprintf) keeps this on the hot path of the data sender cheap.
func (r SenderRecord) Encode(dst []byte) []byte {
	dst = append(dst, sentinelA...)
	dst = append(dst, r.Kind...)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, r.SendTimeSec, 'f', -1, 64)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, r.IntervalDurationSec, 'f', -1, 64)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, r.IntervalSendCount, 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, r.IntervalBytesSent, 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, r.TotalSendCounter, 10)
	dst = append(dst, sentinelB...)
	return dst
}

// FindSenderBlock locates the contiguous " a " ... " b " prefix within
// buf and returns it (sentinels inclusive) along with whether it was
// found. A packet missing either sentinel still counts toward reception
// statistics, it is simply not usable for feedback.
func FindSenderBlock(buf []byte) (block []byte, ok bool) {
	idxA := bytes.Index(buf, sentinelA)
	if idxA < 0 {
		return nil, false
	}
	idxB := bytes.Index(buf[idxA:], sentinelB)
	if idxB < 0 {
		return nil, false
	}
	end := idxA + idxB + len(sentinelB)
	return buf[idxA:end], true
}

// DecodeSenderRecord parses a block previously located by
// FindSenderBlock (or an equivalent ` a … b ` slice).
func DecodeSenderRecord(block []byte) (*SenderRecord, error) {
	fields := bytes.Fields(bytes.TrimSuffix(bytes.TrimPrefix(block, sentinelA), sentinelB))
	if len(fields) != 6 {
		return nil, ErrMalformed
	}
	r := &SenderRecord{Kind: Kind(fields[0])}
	var err error
	if r.SendTimeSec, err = strconv.ParseFloat(string(fields[1]), 64); err != nil {
		return nil, ErrMalformed
	}
	if r.IntervalDurationSec, err = strconv.ParseFloat(string(fields[2]), 64); err != nil {
		return nil, ErrMalformed
	}
	if r.IntervalSendCount, err = strconv.ParseInt(string(fields[3]), 10, 64); err != nil {
		return nil, ErrMalformed
	}
	if r.IntervalBytesSent, err = strconv.ParseInt(string(fields[4]), 10, 64); err != nil {
		return nil, ErrMalformed
	}
	if r.TotalSendCounter, err = strconv.ParseInt(string(fields[5]), 10, 64); err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// IntervalFeedback is what a Data Receiver sends back over the control
// channel each time it crosses a 100ms interval boundary: the echoed
// sender block for the record that triggered the boundary crossing, plus
// the receiver's own interval counters.
//
// ReceiveTimeSec is not set by the Data Receiver and is not written by
// Encode. It is appended after the ` c ` sentinel, on the data sender's
// host, at the instant the feedback line arrives there — that keeps both
// timestamps of the RTT computation on the same clock, so no
// synchronization between peers is ever needed.
type IntervalFeedback struct {
	SenderBlock              []byte // the verbatim " a … b " block being echoed
	ReceiverIntervalDuration float64
	ReceiverIntervalPackets  int64
	ReceiverIntervalBytes    int64
	ReceiverTotalPackets     int64
	ReceiveTimeSec           float64 // 0 until stamped on the sender host
}

// Encode appends the feedback record's wire representation to dst.
func (f IntervalFeedback) Encode(dst []byte) []byte {
	dst = append(dst, f.SenderBlock...)
	dst = strconv.AppendFloat(dst, f.ReceiverIntervalDuration, 'f', -1, 64)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, f.ReceiverIntervalPackets, 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, f.ReceiverIntervalBytes, 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, f.ReceiverTotalPackets, 10)
	dst = append(dst, sentinelC...)
	return dst
}

// AppendReceiveTime appends sec after line's trailing ` c ` sentinel,
// stamping the feedback with the sender-host time it arrived.
func AppendReceiveTime(line []byte, sec float64) []byte {
	return strconv.AppendFloat(line, sec, 'f', -1, 64)
}

// DecodeIntervalFeedback splits a full IntervalFeedback line (as produced
// by Encode, with or without a trailing receive-time stamp) back into the
// embedded SenderRecord and the receiver-side fields.
func DecodeIntervalFeedback(buf []byte) (*SenderRecord, *IntervalFeedback, error) {
	idxA := bytes.Index(buf, sentinelA)
	if idxA < 0 {
		return nil, nil, ErrMalformed
	}
	idxB := bytes.Index(buf[idxA:], sentinelB)
	if idxB < 0 {
		return nil, nil, ErrMalformed
	}
	bEnd := idxA + idxB + len(sentinelB)
	senderBlock := buf[idxA:bEnd]

	sr, err := DecodeSenderRecord(senderBlock)
	if err != nil {
		return nil, nil, err
	}

	idxC := bytes.Index(buf[bEnd:], sentinelC)
	if idxC < 0 {
		return nil, nil, ErrMalformed
	}
	rest := bytes.Fields(buf[bEnd : bEnd+idxC])
	if len(rest) != 4 {
		return nil, nil, ErrMalformed
	}

	fb := &IntervalFeedback{SenderBlock: append([]byte(nil), senderBlock...)}
	if fb.ReceiverIntervalDuration, err = strconv.ParseFloat(string(rest[0]), 64); err != nil {
		return nil, nil, ErrMalformed
	}
	if fb.ReceiverIntervalPackets, err = strconv.ParseInt(string(rest[1]), 10, 64); err != nil {
		return nil, nil, ErrMalformed
	}
	if fb.ReceiverIntervalBytes, err = strconv.ParseInt(string(rest[2]), 10, 64); err != nil {
		return nil, nil, ErrMalformed
	}
	if fb.ReceiverTotalPackets, err = strconv.ParseInt(string(rest[3]), 10, 64); err != nil {
		return nil, nil, ErrMalformed
	}

	cEnd := bEnd + idxC + len(sentinelC)
	if tail := bytes.Fields(buf[cEnd:]); len(tail) > 0 {
		if fb.ReceiveTimeSec, err = strconv.ParseFloat(string(tail[0]), 64); err != nil {
			return nil, nil, ErrMalformed
		}
	}
	return sr, fb, nil
}

// Padding returns n bytes of filler to append after a SenderRecord's
// ` b ` sentinel; the phase-appropriate n comes from the run
// configuration's payload-size methods.
func Padding(n int) []byte {
	return bytes.Repeat([]byte{'a'}, n)
}
