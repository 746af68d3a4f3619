package controller

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/m-lab/bbperf/wire"
)

// udpPingInterval is how often the client resends its pairing ping
// while waiting for the server to notice it and complete setup.
const udpPingInterval = 100 * time.Millisecond

// sendUDPPings repeats ping on pc to peer every udpPingInterval until
// ctx is cancelled, letting a passively-bound peer (the server, which
// never dialed anywhere) learn this side's address.
func sendUDPPings(ctx context.Context, pc net.PacketConn, peer net.Addr, ping []byte) {
	ticker := time.NewTicker(udpPingInterval)
	defer ticker.Stop()
	for {
		pc.WriteTo(ping, peer)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// awaitUDPPing blocks until a datagram exactly matching want arrives on
// pc, returning the address it came from. Used by the server to learn
// the client's ephemeral UDP source port, which it has no other way to
// discover since it never dialed out.
func awaitUDPPing(ctx context.Context, pc net.PacketConn, want []byte) (net.Addr, error) {
	// One spare byte, so a longer datagram is not truncated into a match.
	buf := make([]byte, len(want)+1)
	type result struct {
		addr net.Addr
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		for {
			pc.SetReadDeadline(time.Now().Add(setupTimeout))
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				resCh <- result{nil, err}
				return
			}
			if n == len(want) && string(buf[:n]) == string(want) {
				resCh <- result{addr, nil}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resCh:
		return r.addr, r.err
	}
}

// dataPingPayload is the pairing ping's wire contents for sessionID.
func dataPingPayload(sessionID string) []byte {
	return []byte(fmt.Sprintf("%s%s", wire.DataPrefix, sessionID))
}
