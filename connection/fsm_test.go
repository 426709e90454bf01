package connection

import (
	"testing"
	"time"

	"github.com/noisymesh/bitchat/wire"
)

func TestHappyPathToConnected(t *testing.T) {
	p := NewPeer(wire.PeerID{1}, DefaultRetryPolicy())

	tr, err := p.Apply(EventStartDiscovery, "mock")
	if err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if tr.To != Discovering {
		t.Fatalf("state = %v, want Discovering", tr.To)
	}

	tr, err = p.Apply(EventPeerFound, "mock")
	if err != nil {
		t.Fatalf("PeerFound: %v", err)
	}
	if tr.To != Connecting {
		t.Fatalf("state = %v, want Connecting", tr.To)
	}
	if len(tr.Effects) != 1 || tr.Effects[0].Kind != EffectInitiateConnection {
		t.Fatalf("expected InitiateConnection effect, got %+v", tr.Effects)
	}

	tr, err = p.Apply(EventConnectOK, "mock")
	if err != nil {
		t.Fatalf("ConnectOK: %v", err)
	}
	if tr.To != Connected {
		t.Fatalf("state = %v, want Connected", tr.To)
	}
}

// A peer discovered directly (no prior StartDiscovery call against it,
// e.g. an unsolicited transport-level discovery event) goes straight to
// Connecting rather than requiring Discovering first.
func TestPeerFoundFromDisconnectedGoesStraightToConnecting(t *testing.T) {
	p := NewPeer(wire.PeerID{5}, DefaultRetryPolicy())
	tr, err := p.Apply(EventPeerFound, "mock")
	if err != nil {
		t.Fatalf("PeerFound while Disconnected: %v", err)
	}
	if tr.To != Connecting {
		t.Fatalf("state = %v, want Connecting", tr.To)
	}
}

func TestIllegalEventLeavesStateUnchanged(t *testing.T) {
	p := NewPeer(wire.PeerID{2}, DefaultRetryPolicy())
	if _, err := p.Apply(EventConnectOK, "mock"); err != ErrIllegalTransition {
		t.Fatalf("ConnectOK while Disconnected: got %v, want ErrIllegalTransition", err)
	}
	if p.State != Disconnected {
		t.Fatalf("state mutated after illegal event: %v", p.State)
	}
}

func TestRetryPolicyBacksOffAndCaps(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, Backoff: 10 * time.Second}
	p := NewPeer(wire.PeerID{3}, policy)
	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }

	_, _ = p.Apply(EventStartDiscovery, "mock")
	_, _ = p.Apply(EventPeerFound, "mock")
	if _, err := p.Apply(EventConnectErr, "mock"); err != nil {
		t.Fatalf("ConnectErr: %v", err)
	}
	if p.State != Failed {
		t.Fatalf("state = %v, want Failed", p.State)
	}
	if p.CanRetry() {
		t.Fatalf("CanRetry() true immediately after failure, want false (backoff not elapsed)")
	}

	fakeNow = fakeNow.Add(11 * time.Second)
	if !p.CanRetry() {
		t.Fatalf("CanRetry() false after backoff elapsed")
	}

	if _, err := p.Apply(EventRetryAllowed, "mock"); err != nil {
		t.Fatalf("RetryAllowed: %v", err)
	}
	if _, err := p.Apply(EventConnectErr, "mock"); err != nil {
		t.Fatalf("ConnectErr 2: %v", err)
	}

	fakeNow = fakeNow.Add(11 * time.Second)
	if p.CanRetry() {
		t.Fatalf("CanRetry() true after exhausting max_connection_attempts")
	}
	if _, err := p.Apply(EventRetryAllowed, "mock"); err != ErrIllegalTransition {
		t.Fatalf("RetryAllowed over attempt cap: got %v, want ErrIllegalTransition", err)
	}
}

func TestSuccessfulConnectResetsCounters(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, Backoff: time.Second}
	p := NewPeer(wire.PeerID{4}, policy)
	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }

	_, _ = p.Apply(EventStartDiscovery, "mock")
	_, _ = p.Apply(EventPeerFound, "mock")
	_, _ = p.Apply(EventConnectErr, "mock")

	fakeNow = fakeNow.Add(2 * time.Second)
	_, _ = p.Apply(EventRetryAllowed, "mock")
	if _, err := p.Apply(EventConnectOK, "mock"); err != nil {
		t.Fatalf("ConnectOK: %v", err)
	}
	if p.attempts != 0 {
		t.Fatalf("attempts = %d after successful Connect, want 0", p.attempts)
	}
	if !p.CanRetry() {
		t.Fatalf("CanRetry() false immediately after a reset")
	}
}
