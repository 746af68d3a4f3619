package main

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/m-lab/go/osx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/bbperf/controller"
)

func TestMain(t *testing.T) {
	portFinder, err := net.Listen("tcp", ":0")
	rtx.Must(err, "Could not open server to discover open ports")
	port := portFinder.Addr().(*net.TCPAddr).Port
	portFinder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.RunServer(ctx, port)

	// Wait for the server's listener to come up before the client dials,
	// since a failed dial is fatal to the client.
	for i := 0; i < 50; i++ {
		nc, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err == nil {
			nc.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	for _, v := range []struct{ name, val string }{
		{"C", "127.0.0.1"},
		{"P", fmt.Sprintf("%d", port)},
		{"T", "2"},
	} {
		cleanup := osx.MustSetenv(v.name, v.val)
		defer cleanup()
	}

	// A two-second upload over loopback: calibration stabilizes after
	// about a second of probes, leaving the rest of the run in the run
	// phase, and main() should return without any fatal error.
	main()
}
