package engine

import (
	"encoding/binary"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noisymesh/bitchat/connection"
	"github.com/noisymesh/bitchat/crypto"
	"github.com/noisymesh/bitchat/delivery"
	"github.com/noisymesh/bitchat/fragment"
	"github.com/noisymesh/bitchat/identity"
	"github.com/noisymesh/bitchat/ratelimit"
	"github.com/noisymesh/bitchat/session"
	"github.com/noisymesh/bitchat/store"
	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/wire"
)

// Config bounds every owned component. Channel capacities here are
// consumed by NewInbox, not by the synchronous Handle* API tests exercise
// directly.
type Config struct {
	Nickname string
	MTU      int

	Session    session.Config
	Fragment   fragment.Config
	Store      store.Bounds
	Backoff    delivery.BackoffPolicy
	Retention  time.Duration
	Connection connection.RetryPolicy
	RateLimit  ratelimit.Config
	IdentityCacheSize int

	// MaxConcurrentConnecting bounds how many peers may sit in the
	// Connecting state at once. When a newly discovered favorite peer
	// would exceed it, it preempts the first non-favorite Connecting
	// peer found (in no particular order) rather than waiting behind it.
	MaxConcurrentConnecting int

	CommandQueue  int
	EventQueue    int
	EffectQueue   int
	AppEventQueue int
}

// DefaultConfig returns production defaults for every owned component.
func DefaultConfig() Config {
	return Config{
		MTU:                     500,
		Session:                 session.DefaultConfig(),
		Fragment:                fragment.DefaultConfig(),
		Store:                   store.DefaultBounds(),
		Backoff:                 delivery.DefaultBackoffPolicy(),
		Retention:               10 * time.Minute,
		Connection:              connection.DefaultRetryPolicy(),
		RateLimit:               ratelimit.DefaultConfig(),
		IdentityCacheSize:       2000,
		MaxConcurrentConnecting: 8,
		CommandQueue:            50,
		EventQueue:              100,
		EffectQueue:             100,
		AppEventQueue:           200,
	}
}

type pendingMessage struct {
	content []byte
}

// Engine owns every piece of state described in the data model and is
// the sole writer of all of it: Handle{Command,Event,Timer} each perform
// one deterministic read-compute-write-emit step and return the effects
// and app events that step produced. Run wraps these in a channel loop
// for production use; tests call them directly.
type Engine struct {
	cfg Config
	log *slog.Logger

	self     wire.PeerID
	identity crypto.X25519KeyPair
	signing  *crypto.SigningKeyPair

	sessions     *session.Manager
	reassembler  *fragment.Reassembler
	store        *store.Store
	tracker      *delivery.Tracker
	limiter      *ratelimit.Limiter
	identities   *identity.Cache
	connections  map[wire.PeerID]*connection.Peer
	relay        *relayFilter

	transportCaps map[string]transport.Capabilities
	transportDown map[string]bool

	favoritesStore identity.SecureStorage

	pendingOutbound map[wire.PeerID][]pendingMessage
	localSeq        uint64
}

// NewEngine constructs an Engine bound to this node's identity keys.
func NewEngine(cfg Config, staticKey crypto.X25519KeyPair, signing *crypto.SigningKeyPair, rng crypto.RNG, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:             cfg,
		log:             log,
		self:            session.DerivePeerID(staticKey.Public),
		identity:        staticKey,
		signing:         signing,
		sessions:        session.NewManager(staticKey, cfg.Session, rng),
		reassembler:     fragment.NewReassembler(cfg.Fragment),
		store:           store.NewStore(cfg.Store),
		tracker:         delivery.NewTracker(cfg.Backoff, cfg.Retention),
		limiter:         ratelimit.NewLimiter(cfg.RateLimit),
		identities:      identity.NewCache(cfg.IdentityCacheSize),
		connections:     make(map[wire.PeerID]*connection.Peer),
		relay:           newRelayFilter(),
		transportCaps:   make(map[string]transport.Capabilities),
		transportDown:   make(map[string]bool),
		pendingOutbound: make(map[wire.PeerID][]pendingMessage),
	}
}

// Self returns this node's PeerId.
func (e *Engine) Self() wire.PeerID { return e.self }

// RegisterTransport makes a transport kind known to the Engine's
// transport-selection policy. The Supervisor calls this once per
// transport it spawns.
func (e *Engine) RegisterTransport(caps transport.Capabilities) {
	e.transportCaps[caps.Kind] = caps
}

// SetFavoritesStore wires store as the persistence backend for favorites
// and loads whatever set is already on it. Call before Run starts;
// nothing else touches store concurrently with this call.
func (e *Engine) SetFavoritesStore(store identity.SecureStorage) error {
	e.favoritesStore = store
	return e.identities.LoadFavorites(store)
}

// isFavorite reports whether peer's authenticated fingerprint, if any,
// is marked as a favorite.
func (e *Engine) isFavorite(peer wire.PeerID) bool {
	fp, ok := e.identities.FingerprintForPeer(peer)
	if !ok {
		return false
	}
	s, ok := e.identities.SocialIdentity(fp)
	return ok && s.IsFavorite
}

// countConnecting returns how many peers currently sit in the Connecting
// state.
func (e *Engine) countConnecting() int {
	n := 0
	for _, p := range e.connections {
		if p.State == connection.Connecting {
			n++
		}
	}
	return n
}

// admitDiscoveredPeer decides whether to drive peer's connection FSM
// toward Connecting now. Under the concurrent-connecting cap it always
// does; over the cap, a favorite peer preempts the first non-favorite
// Connecting peer it finds, closing that peer's attempt, so a reconnect
// to a favorited peer is never starved by a pile of ordinary ones.
func (e *Engine) admitDiscoveredPeer(peer wire.PeerID, transportKind string) ([]Effect, []AppEvent) {
	max := e.cfg.MaxConcurrentConnecting
	if max <= 0 || e.countConnecting() < max {
		return e.driveConnection(peer, connection.EventPeerFound, transportKind)
	}
	if !e.isFavorite(peer) {
		return nil, nil
	}
	for id, p := range e.connections {
		if id == peer || p.State != connection.Connecting || e.isFavorite(id) {
			continue
		}
		preemptEffects, _ := e.driveConnection(id, connection.EventConnectErr, transportKind)
		effects, appEvents := e.driveConnection(peer, connection.EventPeerFound, transportKind)
		return append(preemptEffects, effects...), appEvents
	}
	return nil, nil
}

// connectionFor returns the connection FSM peer for id, creating one in
// Disconnected if it doesn't exist yet.
func (e *Engine) connectionFor(id wire.PeerID) *connection.Peer {
	p, ok := e.connections[id]
	if !ok {
		p = connection.NewPeer(id, e.cfg.Connection)
		e.connections[id] = p
	}
	return p
}

// preferredTransports orders registered, non-down transports by latency
// class (lowest first) for the outbound transport-selection policy.
func (e *Engine) preferredTransports() []string {
	kinds := make([]string, 0, len(e.transportCaps))
	for kind := range e.transportCaps {
		if e.transportDown[kind] {
			continue
		}
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ci, cj := e.transportCaps[kinds[i]], e.transportCaps[kinds[j]]
		if ci.LatencyClass != cj.LatencyClass {
			return ci.LatencyClass < cj.LatencyClass
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

// HandleCommand executes one Command and returns the effects and app
// events it produced.
func (e *Engine) HandleCommand(cmd Command) ([]Effect, []AppEvent) {
	switch c := cmd.(type) {
	case CommandSendMessage:
		return e.handleSendMessage(c.Recipient, c.Content)
	case CommandConnectToPeer:
		return e.driveConnection(c.Peer, connection.EventPeerFound, "")
	case CommandStartDiscovery:
		return e.startDiscovery(c.Transport)
	case CommandStopDiscovery:
		return []Effect{EffectStopTransportDiscovery{Transport: c.Transport}}, nil
	case CommandDisconnectFromPeer:
		return e.driveConnection(c.Peer, connection.EventDisconnected, "")
	case CommandPauseTransport:
		e.transportDown[c.Transport] = true
		return nil, []AppEvent{AppEventTransportStatusChanged{Transport: c.Transport, Active: false}}
	case CommandResumeTransport:
		delete(e.transportDown, c.Transport)
		return nil, []AppEvent{AppEventTransportStatusChanged{Transport: c.Transport, Active: true}}
	case CommandListFavorites:
		favs := e.identities.Favorites()
		out := make([][32]byte, len(favs))
		for i, f := range favs {
			out[i] = f
		}
		return nil, []AppEvent{AppEventFavoritesReport{Favorites: out}}
	case CommandSetFavorite:
		fp, ok := e.identities.FingerprintForPeer(c.Peer)
		if !ok {
			return nil, []AppEvent{AppEventSystemError{Component: "identity", Reason: "PeerNotFound"}}
		}
		e.identities.SetFavorite(fp, c.Favorite)
		if e.favoritesStore != nil {
			if err := e.identities.SaveFavorites(e.favoritesStore); err != nil {
				return nil, []AppEvent{AppEventSystemError{Component: "identity", Reason: err.Error()}}
			}
		}
		return nil, nil
	case CommandMessageStatusReport:
		tm, ok := e.tracker.Get(store.MessageID(c.MessageID))
		if !ok {
			return nil, []AppEvent{AppEventMessageStatusReport{MessageID: c.MessageID, Status: "unknown"}}
		}
		return nil, []AppEvent{AppEventMessageStatusReport{MessageID: c.MessageID, Status: tm.Status.String()}}
	case CommandPeerSessionReport:
		s, ok := e.sessions.Get(c.Peer)
		if !ok {
			return nil, []AppEvent{AppEventPeerSessionReport{Peer: c.Peer, State: "none"}}
		}
		return nil, []AppEvent{AppEventPeerSessionReport{Peer: c.Peer, State: s.State.String()}}
	case CommandShutdown:
		return nil, nil
	default:
		return nil, nil
	}
}

func (e *Engine) startDiscovery(kind string) ([]Effect, []AppEvent) {
	var effects []Effect
	for _, p := range e.connections {
		if p.State == connection.Disconnected {
			t, err := p.Apply(connection.EventStartDiscovery, kind)
			if err == nil {
				effects = append(effects, fsmEffects(t, kind)...)
			}
		}
	}
	effects = append(effects, EffectStartTransportDiscovery{Transport: kind})
	return effects, nil
}

func (e *Engine) driveConnection(peer wire.PeerID, ev connection.Event, transportKind string) ([]Effect, []AppEvent) {
	p := e.connectionFor(peer)
	t, err := p.Apply(ev, transportKind)
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "connection", Reason: err.Error()}}
	}
	return fsmEffects(t, transportKind), nil
}

func fsmEffects(t connection.StateTransition, transportKind string) []Effect {
	out := make([]Effect, 0, len(t.Effects))
	for _, eff := range t.Effects {
		switch eff.Kind {
		case connection.EffectInitiateConnection:
			out = append(out, EffectInitiateConnection{Transport: eff.Transport})
		case connection.EffectStartTransportDiscovery:
			out = append(out, EffectStartTransportDiscovery{Transport: eff.Transport})
		case connection.EffectStopTransportDiscovery:
			out = append(out, EffectStopTransportDiscovery{Transport: eff.Transport})
		case connection.EffectCloseConnection:
			out = append(out, EffectCloseConnection{Transport: eff.Transport})
		}
	}
	return out
}

// handleSendMessage implements the outbound pipeline's entry point: if no
// Established session exists yet, it starts a handshake and queues the
// message; otherwise it encrypts and sends immediately.
func (e *Engine) handleSendMessage(peer wire.PeerID, content []byte) ([]Effect, []AppEvent) {
	if conn, ok := e.connections[peer]; ok && conn.State == connection.Failed {
		return nil, []AppEvent{AppEventSystemError{Component: "transport", Reason: "PeerNotFound"}}
	}

	s, ok := e.sessions.Get(peer)
	if ok && s.State == session.StateEstablished {
		return e.outboundPipeline(peer, content)
	}

	if !ok {
		_, out, err := e.sessions.GetOrCreateOutbound(peer)
		if err != nil {
			return nil, []AppEvent{AppEventSystemError{Component: "session", Reason: err.Error()}}
		}
		e.pendingOutbound[peer] = append(e.pendingOutbound[peer], pendingMessage{content: content})
		return e.sendHandshake(peer, wire.MessageTypeNoiseHandshakeInit, out), nil
	}

	// Handshaking already in progress: queue behind it.
	e.pendingOutbound[peer] = append(e.pendingOutbound[peer], pendingMessage{content: content})
	return nil, nil
}

func (e *Engine) sendHandshake(peer wire.PeerID, kind wire.MessageType, payload []byte) []Effect {
	p := &wire.Packet{
		Version:      wire.Version2,
		MessageType:  kind,
		TTL:          wire.DefaultTTL,
		Timestamp:    time.Now(),
		SenderID:     e.self,
		RecipientID:  peer,
		HasRecipient: true,
		Payload:      payload,
	}
	raw, err := wire.Encode(p)
	if err != nil {
		return nil
	}
	return e.emitOnPreferredTransport(peer, raw)
}

func (e *Engine) emitOnPreferredTransport(peer wire.PeerID, raw []byte) []Effect {
	kinds := e.preferredTransports()
	if len(kinds) == 0 {
		return []Effect{EffectSendBitchatPacket{Peer: peer, Raw: raw}}
	}
	return []Effect{EffectSendBitchatPacket{Peer: peer, Transport: kinds[0], Raw: raw}}
}

func encodeMessagePlaintext(seq uint64, content []byte) []byte {
	buf := make([]byte, 8+len(content))
	binary.BigEndian.PutUint64(buf[:8], seq)
	copy(buf[8:], content)
	return buf
}

func decodeMessagePlaintext(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], true
}

// outboundPipeline encrypts, content-addresses, tracks, fragments if
// needed, and emits SendBitchatPacket effects for content bound to peer,
// whose session must already be Established.
func (e *Engine) outboundPipeline(peer wire.PeerID, content []byte) ([]Effect, []AppEvent) {
	s, _ := e.sessions.Get(peer)
	seq := e.localSeq
	e.localSeq++

	ciphertext, err := e.sessions.Encrypt(peer, encodeMessagePlaintext(seq, content))
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "session", Reason: err.Error()}}
	}

	tuple := store.CanonicalTuple{
		Sender: e.self, Recipient: peer, HasRecipient: true,
		Content: string(content), Sequence: seq, SessionEpoch: s.Epoch,
	}
	id, _, err := e.store.Store(tuple, time.Now())
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "store", Reason: err.Error()}}
	}
	e.tracker.Track(id)
	e.tracker.MarkSent(id)

	return e.emitMessagePackets(peer, ciphertext), nil
}

// emitMessagePackets wraps ciphertext in a Message packet, fragmenting it
// across FragmentStart/Continue/End envelopes if it would exceed the
// configured MTU.
func (e *Engine) emitMessagePackets(peer wire.PeerID, ciphertext []byte) []Effect {
	base := &wire.Packet{
		Version: wire.Version2, MessageType: wire.MessageTypeMessage, TTL: wire.DefaultTTL,
		Timestamp: time.Now(), SenderID: e.self, RecipientID: peer, HasRecipient: true,
	}
	base.Payload = ciphertext
	raw, err := wire.Encode(base)
	if err != nil {
		return nil
	}
	if len(raw) <= e.cfg.MTU {
		return e.emitOnPreferredTransport(peer, raw)
	}

	overhead := len(raw) - len(ciphertext)
	fragMTU := e.cfg.MTU - overhead
	frags, err := fragment.Split(uuid.New(), wire.MessageTypeMessage, ciphertext, fragMTU)
	if err != nil {
		return nil
	}
	var effects []Effect
	for i, f := range frags {
		fp := &wire.Packet{
			Version: wire.Version2, MessageType: fragment.EnvelopeType(i, len(frags)), TTL: wire.DefaultTTL,
			Timestamp: time.Now(), SenderID: e.self, RecipientID: peer, HasRecipient: true,
			Payload: wire.EncodeFragment(f),
		}
		fraw, err := wire.Encode(fp)
		if err != nil {
			continue
		}
		effects = append(effects, e.emitOnPreferredTransport(peer, fraw)...)
	}
	return effects
}

// flushPending re-enters the outbound pipeline for every message queued
// behind peer's handshake, once it has just become Established.
func (e *Engine) flushPending(peer wire.PeerID) ([]Effect, []AppEvent) {
	queued := e.pendingOutbound[peer]
	delete(e.pendingOutbound, peer)
	var effects []Effect
	var appEvents []AppEvent
	for _, m := range queued {
		eff, ae := e.outboundPipeline(peer, m.content)
		effects = append(effects, eff...)
		appEvents = append(appEvents, ae...)
	}
	return effects, appEvents
}

func nextHandshakeType(incoming wire.MessageType) (wire.MessageType, bool) {
	switch incoming {
	case wire.MessageTypeNoiseHandshakeInit:
		return wire.MessageTypeNoiseHandshakeResponse, true
	case wire.MessageTypeNoiseHandshakeResponse:
		return wire.MessageTypeNoiseHandshakeFinalize, true
	default:
		return 0, false
	}
}

// HandleEvent executes one transport Event and returns the effects and
// app events it produced.
func (e *Engine) HandleEvent(ev Event) ([]Effect, []AppEvent) {
	switch v := ev.(type) {
	case EventPeerDiscovered:
		effects, _ := e.admitDiscoveredPeer(v.Peer, v.Transport)
		return effects, []AppEvent{AppEventPeerDiscovered{Peer: v.Peer}}
	case EventBitchatPacketReceived:
		return e.handleInboundPacket(v.Sender, v.Transport, v.Raw)
	case EventMessageReceived:
		return e.handleInboundPacket(v.Sender, v.Transport, v.Raw)
	case EventConnectionEstablished:
		return e.driveConnection(v.Peer, connection.EventConnectOK, v.Transport)
	case EventConnectionLost:
		effects, appEvents := e.driveConnection(v.Peer, connection.EventDisconnected, v.Transport)
		return effects, appEvents
	case EventTransportError:
		e.transportDown[v.Transport] = true
		return nil, []AppEvent{AppEventTransportStatusChanged{Transport: v.Transport, Active: false}}
	default:
		return nil, nil
	}
}

// handleInboundPacket implements the Engine's inbound packet pipeline
// (wire decode, rate limiting, reassembly, dispatch, mesh relay). It does
// not verify signatures: a packet with has_signature set is handled the
// same as one without.
func (e *Engine) handleInboundPacket(sender wire.PeerID, transportKind string, raw []byte) ([]Effect, []AppEvent) {
	p, err := wire.Decode(raw)
	if err != nil {
		e.limiter.Record(sender, ratelimit.ClassMessage)
		return nil, []AppEvent{AppEventSystemError{Component: "wire", Reason: err.Error()}}
	}

	if p.MessageType == wire.MessageTypeMessage {
		if allowed, reason := e.limiter.CheckAllowed(sender, ratelimit.ClassMessage); !allowed {
			return nil, []AppEvent{AppEventSystemError{Component: "ratelimit", Reason: reason.String()}}
		}
		e.limiter.Record(sender, ratelimit.ClassMessage)
	}

	if p.MessageType == wire.MessageTypeFragmentStart || p.MessageType == wire.MessageTypeFragmentContinue || p.MessageType == wire.MessageTypeFragmentEnd {
		frag, err := wire.DecodeFragment(p.Payload)
		if err != nil {
			return nil, []AppEvent{AppEventSystemError{Component: "fragment", Reason: err.Error()}}
		}
		completed, err := e.reassembler.Add(sender, frag)
		if err != nil {
			return nil, []AppEvent{AppEventSystemError{Component: "fragment", Reason: err.Error()}}
		}
		if completed == nil {
			return nil, nil
		}
		return e.dispatch(sender, transportKind, p, completed.OriginalType, completed.Payload)
	}

	return e.dispatch(sender, transportKind, p, p.MessageType, p.Payload)
}

// dispatch handles one logical (possibly reassembled) packet by type.
func (e *Engine) dispatch(sender wire.PeerID, transportKind string, envelope *wire.Packet, kind wire.MessageType, payload []byte) ([]Effect, []AppEvent) {
	// A packet directed at a third peer is relayed regardless of its
	// message_type: this node is just an intermediate hop and has no
	// session (or any other local state) for the intended recipient, so
	// type-specific handling below would only misfire.
	if envelope.HasRecipient && envelope.RecipientID != e.self && envelope.TTL > 0 {
		return e.maybeRelay(sender, transportKind, envelope)
	}

	switch kind {
	case wire.MessageTypeNoiseHandshakeInit:
		if _, ok := e.sessions.Get(sender); !ok {
			if _, err := e.sessions.CreateInbound(sender); err != nil {
				return nil, []AppEvent{AppEventSystemError{Component: "session", Reason: err.Error()}}
			}
		}
		return e.continueHandshake(sender, kind, payload)

	case wire.MessageTypeNoiseHandshakeResponse, wire.MessageTypeNoiseHandshakeFinalize:
		return e.continueHandshake(sender, kind, payload)

	case wire.MessageTypeMessage:
		return e.handleMessage(sender, payload)

	case wire.MessageTypeDeliveryAck:
		if len(payload) == 32 {
			var id store.MessageID
			copy(id[:], payload)
			_ = e.tracker.ConfirmDelivery(id)
		}
		return nil, nil

	case wire.MessageTypeAnnounce:
		return e.handleAnnounce(sender, payload)

	case wire.MessageTypeReadReceipt, wire.MessageTypeRequestSync:
		return nil, nil

	default:
		return nil, nil
	}
}

func (e *Engine) continueHandshake(sender wire.PeerID, incoming wire.MessageType, payload []byte) ([]Effect, []AppEvent) {
	out, err := e.sessions.ProcessHandshake(sender, payload)
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "session", Reason: err.Error()}}
	}

	var effects []Effect
	if out != nil {
		if replyType, ok := nextHandshakeType(incoming); ok {
			effects = append(effects, e.sendHandshake(sender, replyType, out)...)
		}
	}

	var appEvents []AppEvent
	if s, ok := e.sessions.Get(sender); ok && s.State == session.StateEstablished {
		flushEffects, flushAppEvents := e.flushPending(sender)
		effects = append(effects, flushEffects...)
		appEvents = append(appEvents, flushAppEvents...)
	}
	return effects, appEvents
}

func (e *Engine) handleMessage(sender wire.PeerID, ciphertext []byte) ([]Effect, []AppEvent) {
	s, ok := e.sessions.Get(sender)
	if !ok || s.State != session.StateEstablished {
		return nil, []AppEvent{AppEventSystemError{Component: "session", Reason: "not established"}}
	}
	plaintext, err := e.sessions.Decrypt(sender, ciphertext)
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "session", Reason: err.Error()}}
	}
	seq, content, ok := decodeMessagePlaintext(plaintext)
	if !ok {
		return nil, []AppEvent{AppEventSystemError{Component: "store", Reason: "malformed message plaintext"}}
	}

	tuple := store.CanonicalTuple{
		Sender: sender, Recipient: e.self, HasRecipient: true,
		Content: string(content), Sequence: seq, SessionEpoch: s.Epoch,
	}
	id, outcome, err := e.store.Store(tuple, time.Now())
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "store", Reason: err.Error()}}
	}

	ackPacket := &wire.Packet{
		Version: wire.Version2, MessageType: wire.MessageTypeDeliveryAck, TTL: wire.DefaultTTL,
		Timestamp: time.Now(), SenderID: e.self, RecipientID: sender, HasRecipient: true,
		Payload: id[:],
	}
	raw, err := wire.Encode(ackPacket)
	var effects []Effect
	if err == nil {
		effects = e.emitOnPreferredTransport(sender, raw)
	}

	if outcome == store.AlreadyExisted {
		return effects, nil
	}
	return effects, []AppEvent{AppEventMessageReceived{Sender: sender, Content: content}}
}

func (e *Engine) handleAnnounce(sender wire.PeerID, payload []byte) ([]Effect, []AppEvent) {
	a, err := wire.DecodeAnnounce(payload)
	if err != nil {
		return nil, []AppEvent{AppEventSystemError{Component: "wire", Reason: err.Error()}}
	}
	fp := crypto.FingerprintOf(a.SigningPublicKey[:])
	e.identities.UpsertCryptographicIdentity(identity.CryptographicIdentity{
		Fingerprint: fp, PeerID: sender, LastHandshake: time.Now(),
	})
	e.identities.UpsertSocialIdentity(identity.SocialIdentity{Fingerprint: fp, ClaimedNickname: a.Nickname})
	return nil, []AppEvent{AppEventPeerDiscovered{Peer: sender}}
}

// maybeRelay re-emits a packet not addressed to this node on the
// remaining enabled transports, decrementing ttl and breaking loops via
// the relay-seen bloom filter.
func (e *Engine) maybeRelay(sender wire.PeerID, transportKind string, p *wire.Packet) ([]Effect, []AppEvent) {
	if !p.HasRecipient || p.RecipientID == e.self || p.TTL == 0 {
		return nil, nil
	}
	if e.relay.seen(p.SenderID, p.Payload) {
		return nil, nil
	}
	p.TTL--
	raw, err := wire.Encode(p)
	if err != nil {
		return nil, nil
	}
	var effects []Effect
	for _, kind := range e.preferredTransports() {
		if kind == transportKind {
			continue
		}
		effects = append(effects, EffectSendBitchatPacket{Peer: p.RecipientID, Transport: kind, Raw: raw})
	}
	return effects, nil
}

// HandleTimer executes one scheduler Timer and returns the effects and
// app events it produced.
func (e *Engine) HandleTimer(t Timer) ([]Effect, []AppEvent) {
	switch v := t.(type) {
	case TimerRetryDue:
		var effects []Effect
		for _, id := range e.tracker.DueRetries() {
			msg, ok := e.store.Get(id)
			if !ok {
				continue
			}
			s, ok := e.sessions.Get(msg.Recipient)
			if !ok || s.State != session.StateEstablished {
				continue
			}
			ciphertext, err := e.sessions.Encrypt(msg.Recipient, encodeMessagePlaintext(msg.Sequence, []byte(msg.Content)))
			if err != nil {
				continue
			}
			effects = append(effects, e.emitMessagePackets(msg.Recipient, ciphertext)...)
		}
		return effects, nil
	case TimerHandshakeTimeout, TimerSessionIdle:
		e.sessions.CleanupExpired()
		return nil, nil
	case TimerReassemblyTimeout:
		e.reassembler.EvictExpired()
		return nil, nil
	case TimerRekeyDue:
		// The scheduler fires this tick blindly, with no particular peer in
		// mind (it has no access to session state, which only the Run
		// goroutine touches); every Established session is checked here
		// instead of trusting v.Peer.
		var effects []Effect
		for _, peer := range e.sessions.DueForRekey() {
			out, err := e.sessions.BeginRekey(peer)
			if err != nil {
				continue
			}
			effects = append(effects, e.sendHandshake(peer, wire.MessageTypeNoiseHandshakeInit, out)...)
		}
		return effects, nil
	default:
		return nil, nil
	}
}
