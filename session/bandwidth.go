package session

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBandwidth parses a bandwidth cap expressed as the CLI does:
// a decimal number, an optional SI scale letter (k, m or g,
// case-insensitive), and an optional trailing "pps" marking the value as
// a packet rate rather than a bit rate. "0" or "" mean uncapped and
// ParseBandwidth returns (nil, nil) for both.
func ParseBandwidth(s string) (*Bandwidth, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return nil, nil
	}

	unit := BitsPerSecond
	numeric := s
	if rest := strings.TrimSuffix(strings.ToLower(s), "pps"); rest != strings.ToLower(s) {
		unit = PacketsPerSecond
		numeric = s[:len(rest)]
	}

	scale := 1.0
	if n := len(numeric); n > 0 {
		switch numeric[n-1] {
		case 'k', 'K':
			scale = 1e3
			numeric = numeric[:n-1]
		case 'm', 'M':
			scale = 1e6
			numeric = numeric[:n-1]
		case 'g', 'G':
			scale = 1e9
			numeric = numeric[:n-1]
		}
	}

	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return nil, fmt.Errorf("session: invalid bandwidth %q: %w", s, err)
	}
	if value == 0 {
		return nil, nil
	}
	return &Bandwidth{Value: value * scale, Unit: unit}, nil
}
