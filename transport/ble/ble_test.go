package ble

import (
	"context"
	"testing"

	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

type fakeBackend struct {
	started bool
	sent    []byte
}

func (f *fakeBackend) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeBackend) Stop() error                      { f.started = false; return nil }
func (f *fakeBackend) SendTo(peer wire.PeerID, raw []byte) error {
	f.sent = raw
	return nil
}
func (f *fakeBackend) Broadcast(raw []byte) error { f.sent = raw; return nil }
func (f *fakeBackend) DiscoveredPeers() []wire.PeerID {
	return []wire.PeerID{{1, 2, 3, 4, 5, 6, 7, 8}}
}

func TestNoBackendIsUnavailable(t *testing.T) {
	tr := New()
	if err := tr.Start(context.Background()); err != transport.ErrUnavailable {
		t.Fatalf("got %v, want ErrUnavailable with no backend", err)
	}
	if err := tr.SendTo(wire.PeerID{}, []byte("x")); err != transport.ErrUnavailable {
		t.Fatalf("got %v, want ErrUnavailable with no backend", err)
	}
}

func TestBackendDelegation(t *testing.T) {
	tr := New()
	fb := &fakeBackend{}
	tr.SetBackend(fb)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !tr.IsActive() {
		t.Fatalf("expected IsActive after Start")
	}
	if !fb.started {
		t.Fatalf("expected backend.Start to have been called")
	}

	if err := tr.SendTo(wire.PeerID{9}, []byte("hi")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if string(fb.sent) != "hi" {
		t.Fatalf("got backend.sent %q, want hi", fb.sent)
	}

	if peers := tr.DiscoveredPeers(); len(peers) != 1 {
		t.Fatalf("got %d discovered peers, want 1", len(peers))
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tr.IsActive() {
		t.Fatalf("expected IsActive to be false after Stop")
	}
}

func TestCapabilities(t *testing.T) {
	caps := New().Capabilities()
	if caps.Kind != "ble" {
		t.Fatalf("got Kind %q, want ble", caps.Kind)
	}
	if !caps.SupportsDiscovery || !caps.SupportsBroadcast {
		t.Fatalf("expected BLE to support discovery and broadcast, got %#v", caps)
	}
	if caps.RequiresInternet {
		t.Fatalf("expected BLE not to require internet")
	}
}
