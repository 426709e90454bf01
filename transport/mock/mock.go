// Package mock provides an in-memory Transport for tests: every Mock
// sharing a Bus can SendTo/Broadcast one another without any real I/O,
// modeled on noisysockets' internal/transport/channels.go queue-backed
// producer/consumer contract between a Transport and its owning Engine.
package mock

import (
	"context"
	"sync"

	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

// Delivery is one piece of raw bytes that arrived at a peer over the bus.
type Delivery struct {
	Sender wire.PeerID
	Raw    []byte
}

// Bus is a shared in-memory medium connecting Mock transports registered
// under a PeerId. It has no buffering policy of its own; callers decide
// whether to drain synchronously (as tests do) or via a goroutine loop.
type Bus struct {
	mu      sync.Mutex
	members map[wire.PeerID]*Mock
}

// NewBus constructs an empty Bus.
func NewBus() *Bus { return &Bus{members: make(map[wire.PeerID]*Mock)} }

func (b *Bus) register(id wire.PeerID, m *Mock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[id] = m
}

func (b *Bus) unregister(id wire.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, id)
}

func (b *Bus) deliver(from, to wire.PeerID, raw []byte) bool {
	b.mu.Lock()
	m, ok := b.members[to]
	b.mu.Unlock()
	if !ok || !m.active {
		return false
	}
	m.inbox = append(m.inbox, Delivery{Sender: from, Raw: raw})
	return true
}

func (b *Bus) broadcast(from wire.PeerID, raw []byte) {
	b.mu.Lock()
	targets := make([]*Mock, 0, len(b.members))
	for id, m := range b.members {
		if id != from {
			targets = append(targets, m)
		}
	}
	b.mu.Unlock()
	for _, m := range targets {
		if m.active {
			m.inbox = append(m.inbox, Delivery{Sender: from, Raw: raw})
		}
	}
}

// Mock is an in-memory Transport. Outbound bytes are handed straight to
// the shared Bus; inbound bytes accumulate in Inbox until the caller
// drains them with Drain, which is how tests pump delivery into an
// Engine without a real goroutine/channel scheduler.
type Mock struct {
	id   wire.PeerID
	bus  *Bus
	caps transport.Capabilities

	active bool
	inbox  []Delivery
}

// New constructs a Mock transport for id, joined to bus.
func New(id wire.PeerID, bus *Bus, caps transport.Capabilities) *Mock {
	caps.Kind = "mock"
	return &Mock{id: id, bus: bus, caps: caps}
}

func (m *Mock) Start(ctx context.Context) error {
	m.active = true
	m.bus.register(m.id, m)
	return nil
}

func (m *Mock) Stop() error {
	m.active = false
	m.bus.unregister(m.id)
	return nil
}

func (m *Mock) SendTo(peer wire.PeerID, raw []byte) error {
	if !m.active {
		return transport.ErrUnavailable
	}
	if !m.bus.deliver(m.id, peer, raw) {
		return transport.ErrPeerNotFound
	}
	return nil
}

func (m *Mock) Broadcast(raw []byte) error {
	if !m.active {
		return transport.ErrUnavailable
	}
	m.bus.broadcast(m.id, raw)
	return nil
}

func (m *Mock) DiscoveredPeers() []wire.PeerID {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	out := make([]wire.PeerID, 0, len(m.bus.members))
	for id := range m.bus.members {
		if id != m.id {
			out = append(out, id)
		}
	}
	return out
}

func (m *Mock) IsActive() bool { return m.active }

func (m *Mock) Capabilities() transport.Capabilities { return m.caps }

// Drain removes and returns everything delivered to this Mock since the
// last Drain.
func (m *Mock) Drain() []Delivery {
	out := m.inbox
	m.inbox = nil
	return out
}
