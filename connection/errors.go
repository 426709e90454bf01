// Package connection implements the per-peer connection state machine:
// discovery, connect, retry-with-backoff, and the audit trail of every
// transition.
package connection

import "errors"

// ErrIllegalTransition is returned when an event is not valid for the
// peer's current state; state is left unmodified.
var ErrIllegalTransition = errors.New("connection: illegal transition for current state")
