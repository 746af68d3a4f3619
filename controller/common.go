// Package controller implements the Session Controller: it owns the
// control and data channel handshake, spawns the direction-appropriate
// workers, and drives teardown once a run completes.
package controller

import (
	"errors"
	"time"
)

// setupTimeout bounds the handshake: dialing, pairing the data channel,
// and receiving setup-complete must finish within this window or the
// run is treated as a setup error.
const setupTimeout = 10 * time.Second

// ErrSetupTimeout is returned when the handshake does not complete
// within setupTimeout.
var ErrSetupTimeout = errors.New("controller: setup did not complete in time")

// ErrSetupMismatch is returned when a peer's handshake bytes do not
// match what the protocol expects (wrong prefix, wrong session id).
var ErrSetupMismatch = errors.New("controller: setup handshake mismatch")
