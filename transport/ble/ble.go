// Package ble declares BLE mesh transport capabilities and satisfies the
// transport.Transport interface without a platform GATT backend: the
// radio-level implementation is out of scope (spec §1). Start, SendTo and
// Broadcast short-circuit to transport.ErrUnavailable until a platform backend is
// plugged in via SetBackend, matching the "transports MUST never block
// the Engine" contract.
package ble

import (
	"context"
	"sync"

	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

// Backend is the platform-specific GATT implementation a concrete build
// plugs in. It is intentionally minimal: everything topology-aware (peer
// discovery, connection bookkeeping) is expected to live in the backend,
// not here.
type Backend interface {
	Start(ctx context.Context) error
	Stop() error
	SendTo(peer wire.PeerID, raw []byte) error
	Broadcast(raw []byte) error
	DiscoveredPeers() []wire.PeerID
}

// Transport is the BLE mesh transport.Transport implementation. With no
// Backend set, Start, SendTo and Broadcast fail with
// transport.ErrUnavailable, Stop returns nil, and DiscoveredPeers returns
// nil.
type Transport struct {
	mu      sync.Mutex
	backend Backend
	active  bool
}

// New constructs a BLE transport with no backend plugged in yet.
func New() *Transport { return &Transport{} }

// SetBackend plugs in the platform GATT implementation. Passing nil
// reverts to the unavailable stub.
func (t *Transport) SetBackend(b Backend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backend = b
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil {
		return transport.ErrUnavailable
	}
	if err := t.backend.Start(ctx); err != nil {
		return err
	}
	t.active = true
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	if t.backend == nil {
		return nil
	}
	return t.backend.Stop()
}

func (t *Transport) SendTo(peer wire.PeerID, raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil || !t.active {
		return transport.ErrUnavailable
	}
	return t.backend.SendTo(peer, raw)
}

func (t *Transport) Broadcast(raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil || !t.active {
		return transport.ErrUnavailable
	}
	return t.backend.Broadcast(raw)
}

func (t *Transport) DiscoveredPeers() []wire.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil {
		return nil
	}
	return t.backend.DiscoveredPeers()
}

func (t *Transport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Kind:              "ble",
		MaxPacketSize:     512,
		SupportsDiscovery: true,
		SupportsBroadcast: true,
		RequiresInternet:  false,
		LatencyClass:      transport.LatencyLow,
		ReliabilityClass:  transport.ReliabilityBestEffort,
	}
}
