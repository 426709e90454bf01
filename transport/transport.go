// Package transport defines the uniform interface the Core Engine uses to
// drive BLE, Nostr, and in-memory mock transports without knowing their
// radio- or protocol-level details. A Transport communicates with its
// owning Engine only through the (event, effect) channels the Supervisor
// wires at construction; the interface below is the subset of behaviour
// the Supervisor needs to start, stop, and describe a transport.
package transport

import (
	"context"

	"github.com/noisymesh/bitchat/wire"
)

// LatencyClass roughly buckets a transport's expected round-trip latency,
// used by the Engine's transport-selection policy.
type LatencyClass int

const (
	LatencyLow LatencyClass = iota
	LatencyMedium
	LatencyHigh
)

// ReliabilityClass buckets a transport's delivery guarantees.
type ReliabilityClass int

const (
	ReliabilityBestEffort ReliabilityClass = iota
	ReliabilityReliable
)

// Capabilities describes what a Transport can do, without exposing how.
// The Engine treats transports as opaque except for this struct.
type Capabilities struct {
	Kind              string
	MaxPacketSize     int
	SupportsDiscovery bool
	SupportsBroadcast bool
	RequiresInternet  bool
	LatencyClass      LatencyClass
	ReliabilityClass  ReliabilityClass
}

// Transport is the uniform boundary between the Engine and a concrete
// radio/protocol implementation (BLE GATT, a Nostr relay socket, or an
// in-memory mock). Start/Stop are idempotent; SendTo/Broadcast report
// inability by returning one of this package's errors (ErrUnavailable,
// ErrPeerNotFound, ErrSendBufferFull); the implementations here do not
// emit a TransportError event themselves.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	SendTo(peer wire.PeerID, raw []byte) error
	Broadcast(raw []byte) error
	DiscoveredPeers() []wire.PeerID
	IsActive() bool
	Capabilities() Capabilities
}
