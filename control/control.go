// Package control implements bbperf's control channel: a reliable,
// framed TCP byte stream used for the setup handshake (session id,
// JSON-encoded RunConfig, the setup-complete and start sentinels) and,
// once the run begins, for carrying IntervalFeedback records from a Data
// Receiver back to the Output Aggregator.
//
// Setup messages are length-delimited (a 4-byte big-endian length header
// followed by that many bytes) because their size varies with the
// RunConfig's encoding. Fixed sentinel strings like "setup complete" are
// sent and read as raw bytes of a known length, with no framing at all,
// matching the protocol in the data model. Once the run phase begins,
// IntervalFeedback records are appended raw; they need no framing of
// their own because they are already self-delimited by the ` a … c `
// sentinels in the wire package.
package control

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// SetupCompleteMsg is sent by the server once both channels are paired
// and ready; the client must receive it verbatim before proceeding.
const SetupCompleteMsg = "setup complete"

// StartMsg is sent by the client to the server in download mode, to
// signal that the client's receiver is ready for the server to begin
// sending.
const StartMsg = " start "

// ErrShortWrite is returned when a raw write did not send the entire
// buffer in a single Write call.
var ErrShortWrite = errors.New("control: short write")

// Conn wraps a TCP connection to the control channel with bbperf's
// framing conventions layered on top.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// New wraps an already-connected or already-accepted net.Conn.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Dial connects to a control channel listening at addr.
func Dial(addr string) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(nc), nil
}

// SendFramed writes s as a length-prefixed setup message.
func (c *Conn) SendFramed(s string) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(s)))
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return err
	}
	n, err := io.WriteString(c.nc, s)
	if err != nil {
		return err
	}
	if n != len(s) {
		return ErrShortWrite
	}
	return nil
}

// RecvFramed reads one length-prefixed setup message.
func (c *Conn) RecvFramed() (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// SendRaw writes b with no framing at all.
func (c *Conn) SendRaw(b []byte) error {
	n, err := c.nc.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return ErrShortWrite
	}
	return nil
}

// RecvExact reads exactly n bytes with no framing, for fixed-length
// sentinel strings like SetupCompleteMsg.
func (c *Conn) RecvExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadLine reads one more raw append-framed record (an IntervalFeedback
// line ending in its own ` c ` sentinel, newline-terminated on the
// wire so the reader side can resynchronize with bufio.Scanner-style
// line splitting).
func (c *Conn) ReadLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return line, nil
}

// WriteLine appends a newline to b and writes it raw. Used by the Data
// Receiver to forward an IntervalFeedback record.
func (c *Conn) WriteLine(b []byte) error {
	return c.SendRaw(append(append([]byte(nil), b...), '\n'))
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
