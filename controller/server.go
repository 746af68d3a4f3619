package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/m-lab/bbperf/calibration"
	"github.com/m-lab/bbperf/control"
	"github.com/m-lab/bbperf/controlreceiver"
	"github.com/m-lab/bbperf/datareceiver"
	"github.com/m-lab/bbperf/datasender"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

// RunServer binds port and serves control connections until ctx is
// cancelled or the listener fails. Sessions are served one at a time:
// the server does not accept a new control connection until the
// previous run has fully torn down, which keeps the single data-channel
// port (TCP accept or the shared UDP socket) unambiguous without
// needing to demultiplex concurrent sessions by session id.
func RunServer(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)

	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controller: listening on %s: %w", addr, err)
	}
	defer tcpLn.Close()

	udpConn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("controller: binding udp %s: %w", addr, err)
	}
	defer udpConn.Close()

	go func() {
		<-ctx.Done()
		tcpLn.Close()
		udpConn.Close()
	}()

	for {
		nc, err := tcpLn.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("controller: accepting control connection: %w", err)
		}

		if err := serveSession(ctx, nc, tcpLn, udpConn); err != nil {
			log.Println("session:", err)
		}
	}
}

// serveSession drives one run from control handshake through teardown.
// It mirrors the client's half of the protocol in controller/client.go:
// for Upload it runs a Data Receiver that reports feedback back over the
// control channel; for Download it runs a Data Sender plus a control
// relay that stamps the client's feedback with this host's arrival time,
// echoes it back, and advances the local Phase once the calibration
// RTTs it observes stabilize.
func serveSession(ctx context.Context, nc net.Conn, tcpLn net.Listener, udpConn net.PacketConn) error {
	setupCtx, cancelSetup := context.WithTimeout(ctx, setupTimeout)
	defer cancelSetup()

	ctrl := control.New(nc)

	hdr, err := ctrl.RecvFramed()
	if err != nil {
		ctrl.Close()
		return fmt.Errorf("controller: reading control handshake: %w", err)
	}
	if !strings.HasPrefix(hdr, wire.ControlPrefix) {
		ctrl.Close()
		return ErrSetupMismatch
	}
	sessionID := strings.TrimPrefix(hdr, wire.ControlPrefix)

	cfgJSON, err := ctrl.RecvFramed()
	if err != nil {
		ctrl.Close()
		return fmt.Errorf("controller: reading run config: %w", err)
	}
	var cfg session.RunConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		ctrl.Close()
		return fmt.Errorf("controller: decoding run config: %w", err)
	}

	var dataConn net.Conn
	var peerAddr net.Addr

	dataReady := make(chan error, 1)
	want := dataPingPayload(sessionID)
	if cfg.Transport == session.TCP {
		// Bound the pairing accept so an abandoned handshake cannot leave
		// this goroutine parked in Accept, where it would swallow the next
		// session's control connection.
		if tl, ok := tcpLn.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(setupTimeout))
			defer tl.SetDeadline(time.Time{})
		}
		go func() {
			nc2, err := tcpLn.Accept()
			if err != nil {
				dataReady <- err
				return
			}
			buf := make([]byte, len(want))
			if _, err := io.ReadFull(nc2, buf); err != nil {
				nc2.Close()
				dataReady <- err
				return
			}
			if string(buf) != string(want) {
				nc2.Close()
				dataReady <- ErrSetupMismatch
				return
			}
			dataConn = nc2
			dataReady <- nil
		}()
	} else {
		go func() {
			addr, err := awaitUDPPing(setupCtx, udpConn, want)
			peerAddr = addr
			dataReady <- err
		}()
	}

	select {
	case err := <-dataReady:
		if err != nil {
			ctrl.Close()
			return fmt.Errorf("controller: pairing data channel: %w", err)
		}
	case <-setupCtx.Done():
		ctrl.Close()
		return ErrSetupTimeout
	}

	if err := ctrl.SendRaw([]byte(control.SetupCompleteMsg)); err != nil {
		ctrl.Close()
		return fmt.Errorf("controller: sending setup complete: %w", err)
	}

	if cfg.Direction == session.Download {
		if _, err := ctrl.RecvExact(len(control.StartMsg)); err != nil {
			ctrl.Close()
			return fmt.Errorf("controller: awaiting start signal: %w", err)
		}
	}

	phase := session.NewPhase()
	runCtx, cancelRun := context.WithCancel(ctx)
	var wg sync.WaitGroup

	switch cfg.Direction {
	case session.Upload:
		var reader datareceiver.Reader
		if cfg.Transport == session.TCP {
			reader = datareceiver.NewTCPReader(dataConn)
		} else {
			reader = datareceiver.NewUDPReader(udpConn)
		}
		sink := datareceiver.NewControlSink(ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := datareceiver.Run(runCtx, reader, sink, cfg.Transport == session.UDP); err != nil {
				log.Println("data receiver:", err)
			}
		}()

	case session.Download:
		// The relay stamps the client's feedback with this host's clock
		// (the data sender's clock), echoes it back, and flips phase once
		// the calibration RTTs it observes stabilize.
		oracle := calibration.New()
		go controlreceiver.Relay(ctrl, oracle, phase)

		var sender datasender.Sender
		if cfg.Transport == session.TCP {
			sender = datasender.NewTCPSender(dataConn)
		} else {
			sender = datasender.NewUDPSender(udpConn, peerAddr)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := datasender.Run(runCtx, sender, phase, cfg); err != nil {
				log.Println("data sender:", err)
			}
		}()
	}

	wg.Wait()
	phase.Store(session.PhaseStopping)
	cancelRun()

	// Data channel first: the remote receiver sees an orderly close and
	// stops producing feedback before the control channel under it goes
	// away.
	if dataConn != nil {
		dataConn.Close()
	}
	ctrl.Close()
	return nil
}
