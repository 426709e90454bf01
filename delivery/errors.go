// Package delivery tracks outbound messages that require acknowledgement:
// retry scheduling, backoff, and terminal-state garbage collection.
package delivery

import "errors"

// DeliveryError is the closed taxonomy of tracker failures.
var (
	ErrNotTracked         = errors.New("delivery: not tracked")
	ErrAlreadyTerminal    = errors.New("delivery: already in a terminal state")
	ErrMaxRetriesExceeded = errors.New("delivery: max retries exceeded")
)
