// Package session holds the types shared by every worker in a run: the
// immutable RunConfig both peers exchange during setup, the Phase cell
// that coordinates the calibration-to-running transition, the bandwidth
// cap, and the session identifier that pairs the control and data
// channels.
package session

// Transport selects which protocol carries the data channel.
type Transport string

// The two supported data-channel transports.
const (
	TCP Transport = "tcp"
	UDP Transport = "udp"
)

// Direction selects which peer originates the data flow.
type Direction string

// The two supported measurement directions.
const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// BandwidthUnit distinguishes a bits-per-second cap from a
// packets-per-second cap.
type BandwidthUnit string

// The two supported bandwidth cap units.
const (
	BitsPerSecond    BandwidthUnit = "bps"
	PacketsPerSecond BandwidthUnit = "pps"
)

// Bandwidth is an optional rate cap applied by the Data Sender.
type Bandwidth struct {
	Value float64       `json:"value"`
	Unit  BandwidthUnit `json:"unit"`
}

// RunConfig is exchanged, JSON-encoded, over the control channel during
// setup and is immutable for the lifetime of the run once both peers
// have it.
type RunConfig struct {
	Transport       Transport  `json:"transport"`
	Direction       Direction  `json:"direction"`
	DurationSeconds int        `json:"duration_seconds"`
	ServerPort      int        `json:"server_port"`
	Bandwidth       *Bandwidth `json:"bandwidth,omitempty"`
	Verbosity       int        `json:"verbosity"`
	Graph           bool       `json:"graph"`
	Keep            bool       `json:"keep"`
}

// CalibrationPayloadSize is the padding size used for calibration
// probes, constant across transports.
func (RunConfig) CalibrationPayloadSize() int {
	return 1024
}

// RunPayloadSize is the padding size used once the run phase begins: 4KiB
// for TCP, 1KiB for UDP.
func (c RunConfig) RunPayloadSize() int {
	if c.Transport == TCP {
		return 4096
	}
	return 1024
}
