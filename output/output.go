// Package output implements the Output Aggregator: it consumes decoded
// IntervalFeedback records, computes the derived throughput and
// bufferbloat metrics, feeds RTT samples to the Calibration Oracle
// during the calibration phase, and writes the run's three output
// artifacts (a rate-limited stdout stream, a tabular graph-data file,
// and a verbatim raw feedback log), plus a retained CSV sample log.
package output

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/bbperf/calibration"
	"github.com/m-lab/bbperf/controlreceiver"
	"github.com/m-lab/bbperf/metrics"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

// stdoutInterval rate-limits the human-readable status line; every
// record still reaches the raw file, and every run record the graph
// file, regardless.
const stdoutInterval = time.Second

// Sample is one run-phase interval's derived metrics, retained for the
// CSV log written at teardown.
type Sample struct {
	TimeSec        float64 `csv:"time_sec"`
	SenderMbps     float64 `csv:"sender_mbps"`
	ReceiverMbps   float64 `csv:"receiver_mbps"`
	RTTMs          float64 `csv:"rtt_ms"`
	UnloadedRTTMs  float64 `csv:"unloaded_rtt_ms"`
	BDPBytes       float64 `csv:"bdp_bytes"`
	BufferedBytes  float64 `csv:"buffered_bytes"`
	BloatFactor    float64 `csv:"bloat_factor"`
	SenderPPS      float64 `csv:"sender_pps"`
	ReceiverPPS    float64 `csv:"receiver_pps"`
	PacketsDropped int64   `csv:"packets_dropped"`
	DropPercent    float64 `csv:"drop_percent"`
}

// graphHeader is the column list for the plain whitespace-delimited
// graph-data file, consumed by the Graph Exporter's gnuplot script.
var graphHeader = "time_sec sender_mbps receiver_mbps rtt_ms unloaded_rtt_ms bdp_bytes buffered_bytes bloat_factor sender_pps receiver_pps packets_dropped drop_percent"

// Aggregator joins each control-channel feedback record's echoed send
// time with its sender-host arrival stamp and turns the result into the
// run's output artifacts.
type Aggregator struct {
	cfg    session.RunConfig
	oracle *calibration.Oracle
	phase  *session.Phase

	graph *bufio.Writer
	raw   *bufio.Writer

	originSec          float64
	originSet          bool
	graphHeaderWritten bool
	lastStdout         time.Time
	lastStdoutCal      time.Time
	previousDropped    int64
	samples            []Sample
}

// New creates an Aggregator. graphW and rawW receive the graph-data
// file and the verbatim raw feedback log respectively; both may be
// io.Discard if the caller does not want a particular artifact (e.g. a
// server-side direction that never runs an Output Aggregator at all
// simply never constructs one).
func New(cfg session.RunConfig, oracle *calibration.Oracle, phase *session.Phase, graphW, rawW io.Writer) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		oracle: oracle,
		phase:  phase,
		graph:  bufio.NewWriter(graphW),
		raw:    bufio.NewWriter(rawW),
	}
}

// Process consumes one decoded feedback record. The RTT comes entirely
// from the record itself — the send time the sender embedded and the
// arrival stamp added back on the sender's host — so both ends of the
// subtraction share one clock. now is only used to rate-limit stdout.
func (a *Aggregator) Process(fb controlreceiver.Feedback, now time.Time) {
	a.raw.Write(fb.Raw)
	a.raw.Flush()

	if !a.originSet {
		a.originSec = fb.Sender.SendTimeSec
		a.originSet = true
	}
	relTime := fb.Receiver.ReceiveTimeSec - a.originSec

	rtt := fb.Receiver.ReceiveTimeSec - fb.Sender.SendTimeSec

	if fb.Sender.Kind == wire.KindCalibration {
		a.oracle.Observe(rtt)
		metrics.RTTHistogram.WithLabelValues("cal").Observe(rtt)
		metrics.CalibrationSamples.Set(float64(a.oracle.Samples()))
		if now.Sub(a.lastStdoutCal) >= stdoutInterval {
			log.Printf("calibrating: rtt=%.1fms samples=%d", rtt*1000, a.oracle.Samples())
			a.lastStdoutCal = now
		}
		if a.oracle.IsCalibrated() && a.phase.Load() == session.PhaseCalibrating {
			a.phase.Store(session.PhaseRunning)
			log.Printf("calibration complete: unloaded_rtt=%.1fms samples=%d", a.oracle.UnloadedRTT()*1000, a.oracle.Samples())
		}
		return
	}

	metrics.RTTHistogram.WithLabelValues("run").Observe(rtt)

	unloadedRTT := a.oracle.UnloadedRTT()

	senderMbps := 0.0
	if fb.Sender.IntervalDurationSec > 0 {
		senderMbps = float64(fb.Sender.IntervalBytesSent) * 8 / fb.Sender.IntervalDurationSec / 1e6
	}
	receiverMbps := 0.0
	receiverBytesPerSec := 0.0
	if fb.Receiver.ReceiverIntervalDuration > 0 {
		receiverBytesPerSec = float64(fb.Receiver.ReceiverIntervalBytes) / fb.Receiver.ReceiverIntervalDuration
		receiverMbps = receiverBytesPerSec * 8 / 1e6
	}

	bdpBytes := receiverBytesPerSec * unloadedRTT
	bufferedBytes := receiverBytesPerSec * rtt
	bloatFactor := 0.0
	if bdpBytes > 0 {
		bloatFactor = bufferedBytes / bdpBytes
	}
	metrics.BloatFactorHistogram.Observe(bloatFactor)

	sample := Sample{
		TimeSec:       relTime,
		SenderMbps:    senderMbps,
		ReceiverMbps:  receiverMbps,
		RTTMs:         rtt * 1000,
		UnloadedRTTMs: unloadedRTT * 1000,
		BDPBytes:      bdpBytes,
		BufferedBytes: bufferedBytes,
		BloatFactor:   bloatFactor,
	}

	if a.cfg.Transport == session.UDP {
		sample.SenderPPS = float64(fb.Sender.IntervalSendCount) / maxFloat(fb.Sender.IntervalDurationSec, 1e-9)
		sample.ReceiverPPS = float64(fb.Receiver.ReceiverIntervalPackets) / maxFloat(fb.Receiver.ReceiverIntervalDuration, 1e-9)

		totalDropped := fb.Sender.TotalSendCounter - fb.Receiver.ReceiverTotalPackets
		if totalDropped < 0 {
			totalDropped = 0
		}
		droppedThisInterval := totalDropped - a.previousDropped
		if droppedThisInterval < 0 {
			droppedThisInterval = 0
		}
		a.previousDropped = totalDropped
		sample.PacketsDropped = droppedThisInterval
		if fb.Sender.IntervalSendCount > 0 {
			sample.DropPercent = float64(droppedThisInterval) * 100 / float64(fb.Sender.IntervalSendCount)
		}
		metrics.PacketsDroppedTotal.Add(float64(droppedThisInterval))
	}

	a.samples = append(a.samples, sample)
	a.writeGraphRow(sample)

	// Verbose runs print every interval; otherwise stdout is held to one
	// line per second while the files receive everything.
	if a.cfg.Verbosity > 0 || now.Sub(a.lastStdout) >= stdoutInterval {
		log.Printf("%6.1fs  sender %6.2f Mbps  receiver %6.2f Mbps  rtt %5.1fms  bloat %.2fx",
			sample.TimeSec, sample.SenderMbps, sample.ReceiverMbps, sample.RTTMs, sample.BloatFactor)
		a.lastStdout = now
	}
}

func (a *Aggregator) writeGraphRow(s Sample) {
	if !a.graphHeaderWritten {
		fmt.Fprintln(a.graph, graphHeader)
		a.graphHeaderWritten = true
	}
	fmt.Fprintf(a.graph, "%f %f %f %f %f %f %f %f %f %f %d %f\n",
		s.TimeSec, s.SenderMbps, s.ReceiverMbps, s.RTTMs, s.UnloadedRTTMs,
		s.BDPBytes, s.BufferedBytes, s.BloatFactor, s.SenderPPS, s.ReceiverPPS,
		s.PacketsDropped, s.DropPercent)
	a.graph.Flush()
}

// Samples returns every run-phase sample computed so far, for the
// retained CSV log.
func (a *Aggregator) Samples() []Sample {
	return a.samples
}

// WriteCSV marshals every retained Sample to w using csv struct tags.
func (a *Aggregator) WriteCSV(w io.Writer) error {
	return gocsv.Marshal(a.samples, w)
}

// Run drives the Output Aggregator's main loop: it processes feedback
// as it arrives on in until the channel is closed, and separately
// enforces the calibration phase's MaxDuration cap by forcing the
// transition to Running if no feedback has declared it stable by then,
// per the data model's resolution favoring proceeding over aborting.
func (a *Aggregator) Run(in <-chan controlreceiver.Feedback) {
	capTimer := time.NewTimer(calibration.MaxDuration)
	defer capTimer.Stop()

	for {
		select {
		case fb, ok := <-in:
			if !ok {
				return
			}
			a.Process(fb, time.Now())
		case <-capTimer.C:
			if a.phase.Load() == session.PhaseCalibrating {
				a.oracle.ForceCalibrated()
				a.phase.Store(session.PhaseRunning)
				log.Printf("calibration cap reached: forcing transition with unloaded_rtt=%.1fms samples=%d",
					a.oracle.UnloadedRTT()*1000, a.oracle.Samples())
			}
		}
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
