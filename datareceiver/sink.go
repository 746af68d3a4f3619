package datareceiver

// controlConnWriter is the subset of control.Conn this package depends
// on, so it need not import the control package directly.
type controlConnWriter interface {
	WriteLine(b []byte) error
}

// controlSink delivers feedback over the control channel toward the data
// sender's host: the server's upload-direction receiver reports back to
// the client this way, and the client's download-direction receiver
// reports up to the server, which stamps each line with its arrival time
// and echoes it back for display.
type controlSink struct{ c controlConnWriter }

// NewControlSink wraps a control channel connection as a FeedbackSink.
func NewControlSink(c controlConnWriter) FeedbackSink { return controlSink{c} }

func (s controlSink) SendFeedback(line []byte) error { return s.c.WriteLine(line) }
