// Package metrics defines the Prometheus metrics exported by a bbperf
// run when the -metrics flag is set, and provides convenience methods to
// add accounting to various parts of the pipeline.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RTTHistogram tracks round-trip times observed from IntervalFeedback,
	// labeled by phase (cal or run).
	RTTHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bbperf_rtt_seconds",
			Help: "round trip time distribution, from echoed sender timestamps",
			Buckets: []float64{
				0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5,
			},
		},
		[]string{"phase"})

	// BloatFactorHistogram tracks buffered_bytes / bdp_bytes for run-phase
	// intervals.
	BloatFactorHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bbperf_bloat_factor",
			Help:    "buffered_bytes / bdp_bytes for each run interval",
			Buckets: []float64{0, 0.5, 1, 1.5, 2, 3, 5, 10, 20},
		},
	)

	// SenderBytesTotal counts bytes written by the Data Sender.
	SenderBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bbperf_sender_bytes_total",
			Help: "total bytes written to the data channel",
		},
	)

	// ReceiverBytesTotal counts bytes read by the Data Receiver.
	ReceiverBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bbperf_receiver_bytes_total",
			Help: "total bytes read from the data channel",
		},
	)

	// PacketsDroppedTotal counts UDP packets inferred lost (sender total
	// minus receiver total, per interval, clamped at zero).
	PacketsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bbperf_packets_dropped_total",
			Help: "UDP packets inferred dropped across the run",
		},
	)

	// MalformedRecordsTotal counts data-channel packets that could not be
	// decoded (missing sentinel) and were skipped for feedback purposes.
	MalformedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bbperf_malformed_records_total",
			Help: "data channel packets skipped because a sentinel was missing",
		},
	)

	// CalibrationSamples tracks how many RTT samples fed the Calibration
	// Oracle before the run entered the Running phase.
	CalibrationSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bbperf_calibration_samples",
			Help: "number of RTT samples folded into the calibration minimum",
		},
	)
)

func init() {
	log.Println("Prometheus metrics in bbperf/metrics are registered.")
}
