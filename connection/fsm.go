package connection

import (
	"time"

	"github.com/noisymesh/bitchat/wire"
)

// State is a peer connection's FSM stage.
type State int

const (
	Disconnected State = iota
	Discovering
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Discovering:
		return "Discovering"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event drives a transition.
type Event int

const (
	EventStartDiscovery Event = iota
	EventPeerFound
	EventConnectOK
	EventConnectErr
	EventDiscoveryTimeout
	EventDiscoveryErr
	EventDisconnected
	EventRetryAllowed
)

// EffectKind names a side effect the FSM asks its caller to perform.
type EffectKind int

const (
	EffectInitiateConnection EffectKind = iota
	EffectStartTransportDiscovery
	EffectStopTransportDiscovery
	EffectCloseConnection
)

// Effect is one side effect emitted alongside a transition.
type Effect struct {
	Kind      EffectKind
	Transport string
}

// AuditEntry records one transition for observability.
type AuditEntry struct {
	Timestamp time.Time
	Event     Event
	Transport string
}

// StateTransition is the result of feeding one Event to a Peer: the
// pre/post states, its audit entry, and zero or more side effects.
type StateTransition struct {
	From    State
	To      State
	Audit   AuditEntry
	Effects []Effect
}

// RetryPolicy bounds per-peer reconnection attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy returns reasonable production retry bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 3 * time.Second}
}

// Peer is one peer's connection FSM instance.
type Peer struct {
	ID    wire.PeerID
	State State

	policy RetryPolicy
	now    func() time.Time

	attempts       int
	lastFailureAt  time.Time
}

// NewPeer constructs a Peer FSM starting in Disconnected.
func NewPeer(id wire.PeerID, policy RetryPolicy) *Peer {
	return &Peer{ID: id, State: Disconnected, policy: policy, now: time.Now}
}

// CanRetry reports whether a Connecting attempt may be made now: fewer
// than max_connection_attempts have elapsed, and enough time has passed
// since the last failure.
func (p *Peer) CanRetry() bool {
	if p.attempts >= p.policy.MaxAttempts {
		return false
	}
	if p.lastFailureAt.IsZero() {
		return true
	}
	return p.now().Sub(p.lastFailureAt) >= p.policy.Backoff
}

// Apply feeds event to the FSM, transitioning state and returning the
// resulting StateTransition. Illegal events leave the state untouched
// and return ErrIllegalTransition.
func (p *Peer) Apply(event Event, transport string) (StateTransition, error) {
	from := p.State
	now := p.now()
	audit := AuditEntry{Timestamp: now, Event: event, Transport: transport}

	var to State
	var effects []Effect

	switch {
	case from == Disconnected && event == EventStartDiscovery:
		to = Discovering
		effects = []Effect{{Kind: EffectStartTransportDiscovery, Transport: transport}}

	case (from == Disconnected || from == Discovering) && event == EventPeerFound:
		to = Connecting
		effects = []Effect{{Kind: EffectInitiateConnection, Transport: transport}}

	case from == Discovering && (event == EventDiscoveryTimeout || event == EventDiscoveryErr):
		to = Failed
		p.lastFailureAt = now
		effects = []Effect{{Kind: EffectStopTransportDiscovery, Transport: transport}}

	case from == Connecting && event == EventConnectOK:
		to = Connected
		p.attempts = 0
		p.lastFailureAt = time.Time{}

	case from == Connecting && event == EventConnectErr:
		to = Failed
		p.attempts++
		p.lastFailureAt = now
		effects = []Effect{{Kind: EffectCloseConnection, Transport: transport}}

	case from == Connected && event == EventDisconnected:
		to = Failed
		p.lastFailureAt = now
		effects = []Effect{{Kind: EffectCloseConnection, Transport: transport}}

	case from == Failed && event == EventDisconnected:
		to = Disconnected

	case from == Failed && event == EventRetryAllowed:
		if !p.CanRetry() {
			return StateTransition{}, ErrIllegalTransition
		}
		to = Connecting
		effects = []Effect{{Kind: EffectInitiateConnection, Transport: transport}}

	default:
		return StateTransition{}, ErrIllegalTransition
	}

	p.State = to
	return StateTransition{From: from, To: to, Audit: audit, Effects: effects}, nil
}
