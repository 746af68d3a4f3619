package datasender

import (
	"log"
	"time"

	"github.com/m-lab/bbperf/session"
)

// rateLimitedBatchSizeUDP and rateLimitedBatchSizeTCP match the original
// implementation's batch sizes: UDP packets are small and numerous
// enough to batch 20 at a time between sleeps, TCP's larger 4KiB
// payload only needs batches of 5 to hit the same wall-clock precision.
const (
	rateLimitedBatchSizeUDP = 20
	rateLimitedBatchSizeTCP = 5

	// tcpSegmentSize approximates one TCP segment, used to translate a
	// bits-per-second cap into a send rate when the run's actual
	// payload is much larger than one segment.
	tcpSegmentSize = 1400
)

// pacer holds the precomputed batch size and delay used to hold a
// bandwidth cap, recomputed once per run rather than every packet.
type pacer struct {
	batchSize           int
	delayBetweenBatches time.Duration
	trace               bool
}

// newPacer returns nil if cfg carries no bandwidth cap.
func newPacer(cfg session.RunConfig) *pacer {
	if cfg.Bandwidth == nil {
		return nil
	}

	var sendsPerSec float64
	var batchSize int

	payloadSize := float64(cfg.RunPayloadSize())
	if cfg.Transport == session.UDP {
		if cfg.Bandwidth.Unit == session.PacketsPerSecond {
			sendsPerSec = cfg.Bandwidth.Value
		} else {
			sendsPerSec = (cfg.Bandwidth.Value / 8.0) / payloadSize
		}
		batchSize = rateLimitedBatchSizeUDP
	} else {
		if cfg.Bandwidth.Unit == session.PacketsPerSecond {
			sendsPerSec = cfg.Bandwidth.Value / (payloadSize / tcpSegmentSize)
		} else {
			packetsPerSec := (cfg.Bandwidth.Value / 8.0) / tcpSegmentSize
			sendsPerSec = packetsPerSec / (payloadSize / tcpSegmentSize)
		}
		batchSize = rateLimitedBatchSizeTCP
	}

	batchesPerSec := sendsPerSec / float64(batchSize)
	if batchesPerSec < 1 {
		batchesPerSec = 1
		batchSize = 1
	}

	return &pacer{
		batchSize:           batchSize,
		delayBetweenBatches: time.Duration(float64(time.Second) / batchesPerSec),
		trace:               cfg.Verbosity >= 3,
	}
}

// wait sleeps long enough to hold the batch's pacing and advances
// batchStart by the nominal interval rather than to the real wakeup
// time, so that a delayed wakeup does not compound into permanent
// drift over the life of the run.
func (p *pacer) wait(batchStart *time.Time) {
	elapsed := time.Since(*batchStart)
	if remaining := p.delayBetweenBatches - elapsed; remaining > 0 {
		time.Sleep(remaining)
	} else if p.trace {
		log.Printf("pacer: batch overran its slot by %v (nominal %v)", -remaining, p.delayBetweenBatches)
	}
	*batchStart = batchStart.Add(p.delayBetweenBatches)
}
