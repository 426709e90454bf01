package mock

import (
	"context"
	"testing"

	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

func TestSendToDelivers(t *testing.T) {
	bus := NewBus()
	a := New(wire.PeerID{1}, bus, transport.Capabilities{})
	b := New(wire.PeerID{2}, bus, transport.Capabilities{})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("b.Start: %v", err)
	}

	if err := a.SendTo(wire.PeerID{2}, []byte("hi")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	got := b.Drain()
	if len(got) != 1 || string(got[0].Raw) != "hi" || got[0].Sender != (wire.PeerID{1}) {
		t.Fatalf("got %#v, want one delivery from peer 1 carrying \"hi\"", got)
	}
	if len(b.Drain()) != 0 {
		t.Fatalf("expected Drain to empty the inbox")
	}
}

func TestSendToUnknownPeerFails(t *testing.T) {
	bus := NewBus()
	a := New(wire.PeerID{1}, bus, transport.Capabilities{})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("a.Start: %v", err)
	}

	if err := a.SendTo(wire.PeerID{9}, []byte("hi")); err != transport.ErrPeerNotFound {
		t.Fatalf("got %v, want ErrPeerNotFound", err)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	bus := NewBus()
	a := New(wire.PeerID{1}, bus, transport.Capabilities{})
	b := New(wire.PeerID{2}, bus, transport.Capabilities{})
	c := New(wire.PeerID{3}, bus, transport.Capabilities{})
	for _, m := range []*Mock{a, b, c} {
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	if err := a.Broadcast([]byte("all")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if got := a.Drain(); len(got) != 0 {
		t.Fatalf("sender should not receive its own broadcast, got %#v", got)
	}
	if got := b.Drain(); len(got) != 1 {
		t.Fatalf("got %d deliveries on b, want 1", len(got))
	}
	if got := c.Drain(); len(got) != 1 {
		t.Fatalf("got %d deliveries on c, want 1", len(got))
	}
}

func TestStopStopsDelivery(t *testing.T) {
	bus := NewBus()
	a := New(wire.PeerID{1}, bus, transport.Capabilities{})
	b := New(wire.PeerID{2}, bus, transport.Capabilities{})
	a.Start(context.Background())
	b.Start(context.Background())

	if err := b.Stop(); err != nil {
		t.Fatalf("b.Stop: %v", err)
	}
	if err := a.SendTo(wire.PeerID{2}, []byte("hi")); err != transport.ErrPeerNotFound {
		t.Fatalf("got %v, want ErrPeerNotFound after Stop", err)
	}
}

func TestCapabilitiesKindIsOverridden(t *testing.T) {
	bus := NewBus()
	m := New(wire.PeerID{1}, bus, transport.Capabilities{Kind: "ignored", MaxPacketSize: 128})
	caps := m.Capabilities()
	if caps.Kind != "mock" {
		t.Fatalf("got Kind %q, want mock", caps.Kind)
	}
	if caps.MaxPacketSize != 128 {
		t.Fatalf("got MaxPacketSize %d, want 128", caps.MaxPacketSize)
	}
}
