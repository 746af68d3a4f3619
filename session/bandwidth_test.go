package session_test

import (
	"testing"

	"github.com/m-lab/bbperf/session"
)

func TestParseBandwidthUncapped(t *testing.T) {
	for _, s := range []string{"", "0"} {
		b, err := session.ParseBandwidth(s)
		if err != nil || b != nil {
			t.Errorf("ParseBandwidth(%q) = %v, %v; want nil, nil", s, b, err)
		}
	}
}

func TestParseBandwidthScales(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		unit session.BandwidthUnit
	}{
		{"1000", 1000, session.BitsPerSecond},
		{"10m", 10e6, session.BitsPerSecond},
		{"1.5g", 1.5e9, session.BitsPerSecond},
		{"500k", 500e3, session.BitsPerSecond},
		{"2000pps", 2000, session.PacketsPerSecond},
		{"5kpps", 5000, session.PacketsPerSecond},
	}
	for _, c := range cases {
		b, err := session.ParseBandwidth(c.in)
		if err != nil {
			t.Fatalf("ParseBandwidth(%q): %v", c.in, err)
		}
		if b == nil {
			t.Fatalf("ParseBandwidth(%q) = nil, want a cap", c.in)
		}
		if b.Value != c.want || b.Unit != c.unit {
			t.Errorf("ParseBandwidth(%q) = {%v %v}, want {%v %v}", c.in, b.Value, b.Unit, c.want, c.unit)
		}
	}
}

func TestParseBandwidthInvalid(t *testing.T) {
	if _, err := session.ParseBandwidth("not-a-number"); err == nil {
		t.Error("expected an error for an unparseable bandwidth string")
	}
}
