package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/m-lab/bbperf/calibration"
	"github.com/m-lab/bbperf/control"
	"github.com/m-lab/bbperf/controlreceiver"
	"github.com/m-lab/bbperf/datareceiver"
	"github.com/m-lab/bbperf/datasender"
	"github.com/m-lab/bbperf/graphexport"
	"github.com/m-lab/bbperf/output"
	"github.com/m-lab/bbperf/session"
	"github.com/m-lab/bbperf/wire"
)

// RunClient dials serverAddr, negotiates a run described by cfg, drives
// it to completion, and handles teardown (graph rendering and file
// retention). gnuplotPath is only consulted when cfg.Graph is set.
func RunClient(ctx context.Context, serverAddr string, cfg session.RunConfig, gnuplotPath string) error {
	setupCtx, cancelSetup := context.WithTimeout(ctx, setupTimeout)
	defer cancelSetup()

	addr := fmt.Sprintf("%s:%d", serverAddr, cfg.ServerPort)

	ctrl, err := control.Dial(addr)
	if err != nil {
		return fmt.Errorf("controller: dialing control channel: %w", err)
	}

	sessionID := session.NewSessionIdentifier()
	if err := ctrl.SendFramed(wire.ControlPrefix + sessionID); err != nil {
		return fmt.Errorf("controller: sending control handshake: %w", err)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("controller: encoding run config: %w", err)
	}
	if err := ctrl.SendFramed(string(cfgJSON)); err != nil {
		return fmt.Errorf("controller: sending run config: %w", err)
	}

	var dataConn net.Conn
	var pc net.PacketConn
	var peerAddr net.Addr
	var stopPings context.CancelFunc

	if cfg.Transport == session.TCP {
		dataConn, err = net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("controller: dialing data channel: %w", err)
		}
		if _, err := dataConn.Write([]byte(wire.DataPrefix + sessionID)); err != nil {
			return fmt.Errorf("controller: sending data handshake: %w", err)
		}
	} else {
		pc, err = net.ListenPacket("udp", ":0")
		if err != nil {
			return fmt.Errorf("controller: opening udp data channel: %w", err)
		}
		peerAddr, err = net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("controller: resolving udp server address: %w", err)
		}
		var pingCtx context.Context
		pingCtx, stopPings = context.WithCancel(setupCtx)
		defer stopPings()
		go sendUDPPings(pingCtx, pc, peerAddr, dataPingPayload(sessionID))
	}

	setupDone := make(chan error, 1)
	go func() {
		_, err := ctrl.RecvExact(len(control.SetupCompleteMsg))
		setupDone <- err
	}()
	select {
	case err := <-setupDone:
		if err != nil {
			return fmt.Errorf("controller: waiting for setup complete: %w", err)
		}
	case <-setupCtx.Done():
		return ErrSetupTimeout
	}
	if stopPings != nil {
		stopPings()
	}

	phase := session.NewPhase()
	oracle := calibration.New()
	artifacts, err := newArtifacts(sessionID)
	if err != nil {
		return fmt.Errorf("controller: creating output files: %w", err)
	}
	agg := output.New(cfg, oracle, phase, artifacts.graph, artifacts.raw)

	runCtx, cancelRun := context.WithCancel(ctx)
	var wg sync.WaitGroup
	feedback := make(chan controlreceiver.Feedback, 64)
	var recvErr error

	switch cfg.Direction {
	case session.Upload:
		var sender datasender.Sender
		if cfg.Transport == session.TCP {
			sender = datasender.NewTCPSender(dataConn)
		} else {
			sender = datasender.NewUDPSender(pc, peerAddr)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := datasender.Run(runCtx, sender, phase, cfg); err != nil {
				log.Println("data sender:", err)
			}
			// Closing the data channel is what tells the remote receiver
			// the run is over: TCP reads zero bytes, and for UDP the
			// sender has already emitted its stop sentinel before
			// returning. Without this the server would sit in its
			// inactivity watchdog for the full timeout after every run.
			if dataConn != nil {
				dataConn.Close()
			} else if pc != nil {
				pc.Close()
			}
		}()

		src := controlreceiver.NewControlSource(ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(feedback)
			if err := controlreceiver.Run(runCtx, src, feedback); err != nil {
				log.Println("control receiver:", err)
			}
		}()

	case session.Download:
		if err := ctrl.SendRaw([]byte(control.StartMsg)); err != nil {
			cancelRun()
			return fmt.Errorf("controller: sending start signal: %w", err)
		}

		var reader datareceiver.Reader
		if cfg.Transport == session.TCP {
			reader = datareceiver.NewTCPReader(dataConn)
		} else {
			reader = datareceiver.NewUDPReader(pc)
		}

		// Feedback goes up to the server over the control channel, where
		// it is stamped with the server's (the sender's) local arrival
		// time and echoed straight back for the output loop below.
		sink := datareceiver.NewControlSink(ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := datareceiver.Run(runCtx, reader, sink, cfg.Transport == session.UDP); err != nil {
				recvErr = err
				log.Println("data receiver:", err)
			}
		}()

		src := controlreceiver.NewControlSource(ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(feedback)
			if err := controlreceiver.Run(runCtx, src, feedback); err != nil {
				log.Println("control receiver:", err)
			}
		}()
	}

	agg.Run(feedback)
	phase.Store(session.PhaseStopping)
	cancelRun()
	wg.Wait()

	ctrl.Close()
	if dataConn != nil {
		dataConn.Close()
	}
	if pc != nil {
		pc.Close()
	}

	if err := finishRun(cfg, sessionID, artifacts, agg, gnuplotPath); err != nil {
		return err
	}
	// A data-channel stall is the one worker failure that must surface as
	// a non-zero exit; everything collected before the stall has already
	// been written out above. Other receiver failures (a reset control
	// channel racing teardown) end the run gracefully.
	if errors.Is(recvErr, datareceiver.ErrStalled) {
		return recvErr
	}
	return nil
}

// finishRun writes the retained CSV sample log (if -k was set), renders
// a graph (if -g was set), and closes the temporary artifact files,
// removing them unless retention was requested.
func finishRun(cfg session.RunConfig, sessionID string, artifacts *artifacts, agg *output.Aggregator, gnuplotPath string) error {
	artifacts.graph.Sync()
	artifacts.raw.Sync()

	if cfg.Graph {
		pngPath := fmt.Sprintf("bbperf-%s.png", sessionID)
		if err := graphexport.Render(gnuplotPath, artifacts.graph.Name(), pngPath); err != nil {
			log.Println("graph export:", err)
		} else {
			log.Println("graph written to", pngPath)
		}
	}

	if cfg.Keep {
		csvPath := fmt.Sprintf("bbperf-%s-samples.csv", sessionID)
		f, err := os.Create(csvPath)
		if err != nil {
			log.Println("creating csv sample log:", err)
		} else {
			if err := agg.WriteCSV(f); err != nil {
				log.Println("writing csv sample log:", err)
			}
			f.Close()
			log.Println("graph data retained at", artifacts.graph.Name())
			log.Println("raw feedback retained at", artifacts.raw.Name())
			log.Println("samples retained at", csvPath)
		}
	}

	artifacts.close(cfg.Keep)
	return nil
}
