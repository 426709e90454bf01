// Package nostr implements the Nostr relay transport: a gorilla/websocket
// dialer to a relay endpoint. The Nostr event envelope/subscription
// protocol itself is out of scope (spec §1); what's in scope is the
// Transport boundary — turning inbound relay frames into raw bytes for
// the Engine and outbound raw bytes into relay frames.
package nostr

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

// Config configures one relay connection.
type Config struct {
	RelayURL string
	// Self is this node's PeerId. Transport does not read it: frames are
	// sent to the relay exactly as given, with no tag added.
	Self wire.PeerID
}

// Transport is a single-relay Nostr transport. It has no peer-discovery
// mechanism of its own (a relay isn't topology-aware the way BLE is):
// DiscoveredPeers always returns nil, and SupportsDiscovery is false.
type Transport struct {
	cfg Config

	mu     sync.Mutex
	conn   *websocket.Conn
	active bool
	inbox  chan Delivery
}

// Delivery is one frame received from the relay.
type Delivery struct {
	Raw []byte
}

// New constructs a Nostr transport dialing cfg.RelayURL on Start.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg, inbox: make(chan Delivery, 64)}
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.RelayURL == "" {
		return transport.ErrInvalidConfiguration
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.RelayURL, nil)
	if err != nil {
		return transport.ErrUnavailable
	}
	t.conn = conn
	t.active = true
	go t.readLoop(conn)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.active = false
			t.mu.Unlock()
			return
		}
		select {
		case t.inbox <- Delivery{Raw: data}:
		default:
			// Inbox full: drop rather than block the read loop, per the
			// "transports MUST never block the Engine" contract.
		}
	}
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Transport) SendTo(peer wire.PeerID, raw []byte) error {
	return t.Broadcast(raw)
}

func (t *Transport) Broadcast(raw []byte) error {
	t.mu.Lock()
	conn, active := t.conn, t.active
	t.mu.Unlock()
	if !active || conn == nil {
		return transport.ErrUnavailable
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return transport.ErrSendBufferFull
	}
	return nil
}

func (t *Transport) DiscoveredPeers() []wire.PeerID { return nil }

func (t *Transport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Kind:              "nostr",
		MaxPacketSize:     64 << 10,
		SupportsDiscovery: false,
		SupportsBroadcast: true,
		RequiresInternet:  true,
		LatencyClass:      transport.LatencyHigh,
		ReliabilityClass:  transport.ReliabilityReliable,
	}
}

// Drain removes and returns every frame received from the relay since
// the last Drain, without blocking.
func (t *Transport) Drain() []Delivery {
	var out []Delivery
	for {
		select {
		case d := <-t.inbox:
			out = append(out, d)
		default:
			return out
		}
	}
}
