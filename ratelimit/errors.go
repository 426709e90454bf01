// Package ratelimit implements a sliding-window admission control with
// separate global and per-peer caps, keyed by event class.
package ratelimit

import "errors"

// ErrRateLimited is returned by CheckAllowed when admitting the event
// would exceed either the global or the per-peer cap for its class.
var ErrRateLimited = errors.New("ratelimit: rate limited")

// Reason names which cap was exceeded.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonGlobalCap
	ReasonPeerCap
)

func (r Reason) String() string {
	switch r {
	case ReasonGlobalCap:
		return "GlobalCap"
	case ReasonPeerCap:
		return "PeerCap"
	default:
		return "None"
	}
}
