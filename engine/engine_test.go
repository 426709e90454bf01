package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noisymesh/bitchat/connection"
	"github.com/noisymesh/bitchat/crypto"
	"github.com/noisymesh/bitchat/ratelimit"
	"github.com/noisymesh/bitchat/session"
	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

func newNode(t *testing.T, cfg Config) *Engine {
	t.Helper()
	kp, err := crypto.GenerateX25519KeyPair(crypto.DefaultRNG)
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	return NewEngine(cfg, *kp, nil, crypto.DefaultRNG, nil)
}

func newTestNode(t *testing.T) *Engine {
	return newNode(t, DefaultConfig())
}

// pump feeds every EffectSendBitchatPacket in effects (attributed to
// senderID) to its addressed Engine in byID, recursively routing whatever
// effects that produces, until no peer-addressed effect remains. It
// stands in for a running Supervisor's channel loop across two or more
// wired-together Engines, synchronously and deterministically.
func pump(byID map[wire.PeerID]*Engine, senderID wire.PeerID, effects []Effect) []AppEvent {
	type job struct {
		sender  wire.PeerID
		effects []Effect
	}
	var appEvents []AppEvent
	queue := []job{{senderID, effects}}
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		for _, eff := range j.effects {
			sbp, ok := eff.(EffectSendBitchatPacket)
			if !ok {
				continue
			}
			target, ok := byID[sbp.Peer]
			if !ok {
				continue
			}
			nextEffects, ae := target.HandleEvent(EventBitchatPacketReceived{
				Sender:    j.sender,
				Transport: sbp.Transport,
				Raw:       sbp.Raw,
			})
			appEvents = append(appEvents, ae...)
			if len(nextEffects) > 0 {
				queue = append(queue, job{target.Self(), nextEffects})
			}
		}
	}
	return appEvents
}

func firstTransportKind(effects []Effect) string {
	for _, eff := range effects {
		if sbp, ok := eff.(EffectSendBitchatPacket); ok {
			return sbp.Transport
		}
	}
	return ""
}

// S1: a sends a message to b with no prior session. The handshake
// completes, the queued message is flushed, and b surfaces it with the
// original content and sender.
func TestS1HandshakeAndEcho(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	byID := map[wire.PeerID]*Engine{a.Self(): a, b.Self(): b}

	content := []byte("hello bitchat")
	effects, appEvents := a.HandleCommand(CommandSendMessage{Recipient: b.Self(), Content: content})
	if len(appEvents) != 0 {
		t.Fatalf("unexpected app events from initial send: %#v", appEvents)
	}

	got := pump(byID, a.Self(), effects)

	var received *AppEventMessageReceived
	for _, ae := range got {
		if m, ok := ae.(AppEventMessageReceived); ok {
			m := m
			received = &m
		}
	}
	if received == nil {
		t.Fatalf("expected AppEventMessageReceived on b, got %#v", got)
	}
	if string(received.Content) != string(content) {
		t.Fatalf("got content %q, want %q", received.Content, content)
	}
	if received.Sender != a.Self() {
		t.Fatalf("got sender %v, want %v", received.Sender, a.Self())
	}

	bs, ok := b.sessions.Get(a.Self())
	if !ok || bs.State != session.StateEstablished {
		t.Fatalf("expected b's session with a to be Established, got %#v", bs)
	}
	as, ok := a.sessions.Get(b.Self())
	if !ok || as.State != session.StateEstablished {
		t.Fatalf("expected a's session with b to be Established, got %#v", as)
	}
}

// S2: a content larger than the configured MTU is split into fragments.
// Dropping one fragment leaves the reassembly incomplete — no message
// ever surfaces — and it is evicted once its deadline passes.
func TestS2FragmentationAndDroppedFragmentExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MTU = 64
	cfg.Fragment.Deadline = 30 * time.Millisecond

	a := newNode(t, cfg)
	b := newNode(t, cfg)
	byID := map[wire.PeerID]*Engine{a.Self(): a, b.Self(): b}

	// Establish a session first, so the content send below goes straight
	// through outboundPipeline instead of queuing behind a handshake.
	handshakeEffects, _ := a.HandleCommand(CommandSendMessage{Recipient: b.Self(), Content: []byte("warmup")})
	pump(byID, a.Self(), handshakeEffects)

	content := make([]byte, 200)
	for i := range content {
		content[i] = byte(i)
	}
	effects, appEvents := a.HandleCommand(CommandSendMessage{Recipient: b.Self(), Content: content})
	if len(appEvents) != 0 {
		t.Fatalf("unexpected app events: %#v", appEvents)
	}
	if len(effects) < 2 {
		t.Fatalf("expected a fragmented send to produce multiple packets, got %d", len(effects))
	}

	dropped := append(append([]Effect{}, effects[:2]...), effects[3:]...)
	got := pump(byID, a.Self(), dropped)
	for _, ae := range got {
		if _, ok := ae.(AppEventMessageReceived); ok {
			t.Fatalf("did not expect a completed message with a fragment dropped, got %#v", got)
		}
	}
	if b.reassembler.Pending() != 1 {
		t.Fatalf("expected one in-progress reassembly, got %d", b.reassembler.Pending())
	}

	time.Sleep(80 * time.Millisecond)
	// Any subsequent Add triggers the lazy eviction sweep.
	b.reassembler.Add(a.Self(), &wire.Fragment{
		MessageID:     uuid.New(),
		FragmentIndex: 0,
		FragmentTotal: 1,
		OriginalType:  wire.MessageTypeMessage,
	})
	if b.reassembler.Pending() != 0 {
		t.Fatalf("expected the dropped-fragment reassembly to have expired, pending=%d", b.reassembler.Pending())
	}
	if b.reassembler.Expired == 0 {
		t.Fatalf("expected Expired counter to have incremented")
	}
}

// S3: feeding the same packet three times yields exactly one
// AppEventMessageReceived and one stored message, but a DeliveryAck
// every time.
func TestS3DuplicateSuppression(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	byID := map[wire.PeerID]*Engine{a.Self(): a, b.Self(): b}

	warmup, _ := a.HandleCommand(CommandSendMessage{Recipient: b.Self(), Content: []byte("warmup")})
	pump(byID, a.Self(), warmup)

	effects, _ := a.HandleCommand(CommandSendMessage{Recipient: b.Self(), Content: []byte("dup-me")})
	var raw []byte
	for _, eff := range effects {
		if sbp, ok := eff.(EffectSendBitchatPacket); ok {
			raw = sbp.Raw
		}
	}
	if raw == nil {
		t.Fatalf("expected a Message packet effect, got %#v", effects)
	}

	var receivedCount, ackCount int
	for i := 0; i < 3; i++ {
		fx, ax := b.HandleEvent(EventBitchatPacketReceived{Sender: a.Self(), Raw: raw})
		for _, eff := range fx {
			if _, ok := eff.(EffectSendBitchatPacket); ok {
				ackCount++
			}
		}
		for _, ae := range ax {
			if _, ok := ae.(AppEventMessageReceived); ok {
				receivedCount++
			}
		}
	}
	if receivedCount != 1 {
		t.Fatalf("got %d AppEventMessageReceived, want 1", receivedCount)
	}
	if ackCount != 3 {
		t.Fatalf("got %d delivery acks, want 3", ackCount)
	}
	if b.store.Len() != 2 {
		t.Fatalf("got store length %d, want 2 (warmup + dup-me)", b.store.Len())
	}
}

// S4: a peer cap of 3 messages per one-second window admits the first 3
// of 5 rapid messages and rejects the rest, then admits again once the
// window has rolled over.
func TestS4RateLimitAdmission(t *testing.T) {
	b := newTestNode(t)
	b.cfg.RateLimit = ratelimit.Config{
		Classes: map[ratelimit.Class]ratelimit.Bound{
			ratelimit.ClassMessage: {Window: time.Second, GlobalCap: 1000, PeerCap: 3},
		},
		MaxTrackedPeers: 100,
	}
	b.limiter = ratelimit.NewLimiter(b.cfg.RateLimit)

	sender := wire.PeerID{1, 2, 3, 4, 5, 6, 7, 8}
	pkt := &wire.Packet{
		Version: wire.Version2, MessageType: wire.MessageTypeMessage, TTL: wire.DefaultTTL,
		Timestamp: time.Now(), SenderID: sender, RecipientID: b.Self(), HasRecipient: true,
		Payload: []byte("x"),
	}
	raw, err := wire.Encode(pkt)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}

	var admitted, rejected int
	for i := 0; i < 5; i++ {
		_, appEvents := b.HandleEvent(EventBitchatPacketReceived{Sender: sender, Raw: raw})
		if isRateLimited(appEvents) {
			rejected++
		} else {
			admitted++
		}
	}
	if admitted != 3 || rejected != 2 {
		t.Fatalf("got admitted=%d rejected=%d, want 3/2", admitted, rejected)
	}

	time.Sleep(1100 * time.Millisecond)
	admitted = 0
	for i := 0; i < 3; i++ {
		_, appEvents := b.HandleEvent(EventBitchatPacketReceived{Sender: sender, Raw: raw})
		if !isRateLimited(appEvents) {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("got %d admitted after window reset, want 3", admitted)
	}
}

func isRateLimited(appEvents []AppEvent) bool {
	for _, ae := range appEvents {
		if se, ok := ae.(AppEventSystemError); ok && se.Component == "ratelimit" {
			return true
		}
	}
	return false
}

// S5: a peer's connection FSM runs Disconnected -> Discovering is skipped
// here in favor of driving EventPeerDiscovered directly -> Connecting ->
// Connected -> Failed (on disconnect), at which point SendMessage is
// refused with a PeerNotFound system error rather than starting a new
// handshake against a peer known to be unreachable.
func TestS5ConnectionFSMCycleThenSendFails(t *testing.T) {
	a := newTestNode(t)
	peer := wire.PeerID{9, 9, 9, 9, 9, 9, 9, 9}

	a.HandleEvent(EventPeerDiscovered{Peer: peer, Transport: "mock"})
	if got := a.connectionFor(peer).State; got != connection.Connecting {
		t.Fatalf("got state %v after discovery, want Connecting", got)
	}

	a.HandleEvent(EventConnectionEstablished{Peer: peer, Transport: "mock"})
	if got := a.connectionFor(peer).State; got != connection.Connected {
		t.Fatalf("got state %v after connect, want Connected", got)
	}

	a.HandleEvent(EventConnectionLost{Peer: peer, Transport: "mock", Reason: "closed"})
	if got := a.connectionFor(peer).State; got != connection.Failed {
		t.Fatalf("got state %v after disconnect, want Failed", got)
	}

	_, appEvents := a.HandleCommand(CommandSendMessage{Recipient: peer, Content: []byte("x")})
	var gotPeerNotFound bool
	for _, ae := range appEvents {
		if se, ok := ae.(AppEventSystemError); ok && se.Reason == "PeerNotFound" {
			gotPeerNotFound = true
		}
	}
	if !gotPeerNotFound {
		t.Fatalf("expected a PeerNotFound system error, got %#v", appEvents)
	}
}

// S6: when the lower-latency transport goes down mid-handshake, the
// Engine fails over to the next-preferred registered transport for
// subsequent sends, and the message queued behind the handshake is not
// lost.
func TestS6TransportFailover(t *testing.T) {
	a := newTestNode(t)
	a.RegisterTransport(transport.Capabilities{Kind: "ble", LatencyClass: transport.LatencyLow})
	a.RegisterTransport(transport.Capabilities{Kind: "nostr", LatencyClass: transport.LatencyHigh})

	peer := wire.PeerID{3, 3, 3, 3, 3, 3, 3, 3}
	effects, _ := a.HandleCommand(CommandSendMessage{Recipient: peer, Content: []byte("hi")})
	if kind := firstTransportKind(effects); kind != "ble" {
		t.Fatalf("got transport %q, want ble", kind)
	}
	if len(a.pendingOutbound[peer]) != 1 {
		t.Fatalf("expected the message to be queued behind the handshake, got %d queued", len(a.pendingOutbound[peer]))
	}

	_, appEvents := a.HandleEvent(EventTransportError{Transport: "ble", Reason: "unavailable"})
	var statusChanged bool
	for _, ae := range appEvents {
		if tc, ok := ae.(AppEventTransportStatusChanged); ok && tc.Transport == "ble" && !tc.Active {
			statusChanged = true
		}
	}
	if !statusChanged {
		t.Fatalf("expected AppEventTransportStatusChanged(ble, false), got %#v", appEvents)
	}

	if len(a.pendingOutbound[peer]) != 1 {
		t.Fatalf("expected the in-flight message to survive the transport failure, got %d queued", len(a.pendingOutbound[peer]))
	}

	retry := a.sendHandshake(peer, wire.MessageTypeNoiseHandshakeInit, []byte("resend"))
	if kind := firstTransportKind(retry); kind != "nostr" {
		t.Fatalf("got transport %q after ble failure, want nostr", kind)
	}
}

// A Message packet addressed to a third peer must be relayed by an
// intermediate node regardless of its message_type, not swallowed by
// that node's own per-type handling.
func TestMeshRelayForwardsThirdPartyMessagePacket(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	c := newTestNode(t)
	b.RegisterTransport(transport.Capabilities{Kind: "mock", LatencyClass: transport.LatencyLow})

	p := &wire.Packet{
		Version: wire.Version2, MessageType: wire.MessageTypeMessage, TTL: 3,
		Timestamp: time.Now(), SenderID: a.Self(), RecipientID: c.Self(), HasRecipient: true,
		Payload: []byte("opaque ciphertext, b has no session for c"),
	}
	raw, err := wire.Encode(p)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}

	effects, _ := b.HandleEvent(EventBitchatPacketReceived{Sender: a.Self(), Transport: "ble", Raw: raw})

	var relayed *EffectSendBitchatPacket
	for _, eff := range effects {
		if sbp, ok := eff.(EffectSendBitchatPacket); ok && sbp.Peer == c.Self() {
			e := sbp
			relayed = &e
		}
	}
	if relayed == nil {
		t.Fatalf("expected a relay effect addressed to c, got %#v", effects)
	}
	if relayed.Transport != "mock" {
		t.Fatalf("relayed on transport %q, want mock", relayed.Transport)
	}
	out, err := wire.Decode(relayed.Raw)
	if err != nil {
		t.Fatalf("wire.Decode relayed packet: %v", err)
	}
	if out.TTL != 2 {
		t.Fatalf("relayed TTL = %d, want 2", out.TTL)
	}
}

// A favorited peer discovered once the concurrent-connecting cap is
// already full preempts the first non-favorite Connecting peer rather
// than waiting behind it.
func TestFavoriteAdmissionPreemptsNonFavoritePeer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentConnecting = 1
	b := newNode(t, cfg)

	p1 := wire.PeerID{21, 21, 21, 21, 21, 21, 21, 21}
	p2 := wire.PeerID{22, 22, 22, 22, 22, 22, 22, 22}

	announce := func(peer wire.PeerID, nickname string) {
		payload := wire.EncodeAnnounce(&wire.AnnouncePayload{
			Nickname:         nickname,
			NoisePublicKey:   [32]byte{peer[0]},
			SigningPublicKey: [32]byte{peer[0], 1},
		})
		packet := &wire.Packet{
			Version: wire.Version2, MessageType: wire.MessageTypeAnnounce, TTL: wire.DefaultTTL,
			Timestamp: time.Now(), SenderID: peer, Payload: payload,
		}
		raw, err := wire.Encode(packet)
		if err != nil {
			t.Fatalf("wire.Encode announce: %v", err)
		}
		b.HandleEvent(EventBitchatPacketReceived{Sender: peer, Transport: "mock", Raw: raw})
	}
	announce(p1, "alice")
	announce(p2, "bob")

	if _, appEvents := b.HandleCommand(CommandSetFavorite{Peer: p1, Favorite: true}); len(appEvents) != 0 {
		t.Fatalf("SetFavorite(p1) returned unexpected app events: %#v", appEvents)
	}

	b.HandleEvent(EventPeerDiscovered{Peer: p2, Transport: "mock"})
	if got := b.connectionFor(p2).State; got != connection.Connecting {
		t.Fatalf("p2 state = %v, want Connecting", got)
	}

	b.HandleEvent(EventPeerDiscovered{Peer: p1, Transport: "mock"})
	if got := b.connectionFor(p1).State; got != connection.Connecting {
		t.Fatalf("favorite p1 state = %v, want Connecting (should preempt p2)", got)
	}
	if got := b.connectionFor(p2).State; got != connection.Failed {
		t.Fatalf("preempted p2 state = %v, want Failed", got)
	}
}
