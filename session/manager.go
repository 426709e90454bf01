package session

import (
	"errors"
	"sync"
	"time"

	"github.com/noisymesh/bitchat/crypto"
	"github.com/noisymesh/bitchat/wire"
)

// SessionError is the closed taxonomy of session-lifecycle failures.
var (
	ErrNotFound     = errors.New("session: not found")
	ErrInvalidState = errors.New("session: invalid state for operation")
	ErrKeyMismatch  = errors.New("session: peer presented a different static key")
	ErrTimeout      = errors.New("session: handshake timed out")
)

// Config bounds the Session Manager's timers and rekey policy.
type Config struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	FailedGrace      time.Duration

	RekeyMessageThreshold uint64
	RekeyByteThreshold    uint64
	RekeyAge              time.Duration
	RekeyDrainWindow      time.Duration // default 2 x HandshakeTimeout
}

// DefaultConfig returns reasonable production defaults for the timers
// and rekey policy above.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:      30 * time.Second,
		IdleTimeout:           300 * time.Second,
		FailedGrace:           10 * time.Second,
		RekeyMessageThreshold: 1_000_000_000,
		RekeyAge:              24 * time.Hour,
		RekeyDrainWindow:      60 * time.Second,
	}
}

type drainingSession struct {
	session    *Session
	drainUntil time.Time
}

// Manager owns the PeerId -> Session mapping and mediates every handshake
// and rekey. The Core Engine is its sole caller; Manager itself holds no
// references to transports.
//
// Rekey and the anti-downgrade rule: handshake messages arriving for an
// Established session must be ignored, to prevent a downgrade attack —
// but rekeying still needs a fresh XX handshake. These are reconciled by
// requiring both ends to have independently decided to rekey before any
// inbound NoiseHandshakeInit for
// an already-Established peer is honored: the initiating side calls
// BeginRekey and the accepting side must have already called
// BeginRekeyResponder (driven by its own RekeyDue timer firing at a
// similar counter/age threshold, since both ends observe the same traffic
// volume). An unsolicited init for an Established peer with no matching
// BeginRekeyResponder call is ignored, preserving the anti-downgrade rule.
type Manager struct {
	mu sync.Mutex

	identity crypto.X25519KeyPair
	cfg      Config
	rng      crypto.RNG
	now      func() time.Time

	sessions  map[wire.PeerID]*Session
	rekeying  map[wire.PeerID]*Session
	draining  map[wire.PeerID]*drainingSession

	// pinned records the static-key fingerprint a PeerId was first bound
	// to. A later handshake for the same PeerId presenting a different
	// static key fails instead of silently rebinding the identity.
	pinned map[wire.PeerID]crypto.Fingerprint
}

// NewManager constructs a Manager bound to this node's static identity
// key pair.
func NewManager(identity crypto.X25519KeyPair, cfg Config, rng crypto.RNG) *Manager {
	if rng == nil {
		rng = crypto.DefaultRNG
	}
	return &Manager{
		identity: identity,
		cfg:      cfg,
		rng:      rng,
		now:      time.Now,
		sessions: make(map[wire.PeerID]*Session),
		rekeying: make(map[wire.PeerID]*Session),
		draining: make(map[wire.PeerID]*drainingSession),
		pinned:   make(map[wire.PeerID]crypto.Fingerprint),
	}
}

// GetOrCreateOutbound returns the existing session for peer if one is
// already Handshaking or Established, otherwise starts a new Noise_XX
// handshake as the initiator and returns the first outbound handshake
// message alongside the new session.
func (m *Manager) GetOrCreateOutbound(peer wire.PeerID) (*Session, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[peer]; ok && existing.State != StateFailed {
		return existing, nil, nil
	}

	hs, err := crypto.NewHandshake(crypto.Initiator, m.identity, m.rng)
	if err != nil {
		return nil, nil, ErrInvalidState
	}
	now := m.now()
	s := newSession(peer, hs, now)
	m.sessions[peer] = s

	out, _, err := hs.WriteMessage(nil)
	if err != nil {
		s.fail(err, now)
		return s, nil, ErrInvalidState
	}
	return s, out, nil
}

// CreateInbound starts a new Noise_XX handshake as the responder for a
// peer we have not yet authenticated. It refuses to clobber an existing
// Handshaking or Established session.
func (m *Manager) CreateInbound(peer wire.PeerID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[peer]; ok && existing.State != StateFailed {
		return existing, ErrInvalidState
	}

	hs, err := crypto.NewHandshake(crypto.Responder, m.identity, m.rng)
	if err != nil {
		return nil, ErrInvalidState
	}
	s := newSession(peer, hs, m.now())
	m.sessions[peer] = s
	return s, nil
}

// BeginRekey starts a fresh XX handshake as the initiator for an already
// Established peer, without disturbing the existing session's traffic.
func (m *Manager) BeginRekey(peer wire.PeerID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok || s.State != StateEstablished {
		return nil, ErrInvalidState
	}
	if _, inProgress := m.rekeying[peer]; inProgress {
		return nil, ErrInvalidState
	}

	hs, err := crypto.NewHandshake(crypto.Initiator, m.identity, m.rng)
	if err != nil {
		return nil, ErrInvalidState
	}
	now := m.now()
	rs := newSession(peer, hs, now)
	m.rekeying[peer] = rs

	out, _, err := hs.WriteMessage(nil)
	if err != nil {
		delete(m.rekeying, peer)
		return nil, ErrInvalidState
	}
	return out, nil
}

// BeginRekeyResponder arms this peer's Manager to accept an incoming
// rekey handshake, per the anti-downgrade reconciliation documented on
// Manager.
func (m *Manager) BeginRekeyResponder(peer wire.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok || s.State != StateEstablished {
		return ErrInvalidState
	}
	if _, inProgress := m.rekeying[peer]; inProgress {
		return ErrInvalidState
	}

	hs, err := crypto.NewHandshake(crypto.Responder, m.identity, m.rng)
	if err != nil {
		return ErrInvalidState
	}
	m.rekeying[peer] = newSession(peer, hs, m.now())
	return nil
}

// ProcessHandshake consumes one handshake message for peer and returns
// zero or one outbound handshake bytes to send in reply.
func (m *Manager) ProcessHandshake(peer wire.PeerID, msg []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if rs, ok := m.rekeying[peer]; ok && rs.State == StateHandshaking {
		out, completed, err := m.stepHandshake(rs, msg, now)
		if err != nil {
			delete(m.rekeying, peer)
			return nil, err
		}
		if completed {
			old := m.sessions[peer]
			if pinnedFP, ok := m.pinned[peer]; ok && rs.Fingerprint != nil && *rs.Fingerprint != pinnedFP {
				rs.fail(ErrKeyMismatch, now)
				delete(m.rekeying, peer)
				return nil, ErrKeyMismatch
			}
			if old != nil {
				m.draining[peer] = &drainingSession{session: old, drainUntil: now.Add(m.cfg.RekeyDrainWindow)}
				rs.Epoch = old.Epoch + 1
			} else {
				rs.Epoch = 1
			}
			m.sessions[peer] = rs
			delete(m.rekeying, peer)
		}
		return out, nil
	}

	s, ok := m.sessions[peer]
	if !ok {
		return nil, ErrNotFound
	}

	switch s.State {
	case StateEstablished:
		// Anti-downgrade: an unsolicited handshake message for an already
		// Established session (with no matching BeginRekeyResponder call
		// above) is ignored rather than restarting the handshake.
		return nil, nil
	case StateFailed:
		return nil, ErrInvalidState
	}

	out, completed, err := m.stepHandshake(s, msg, now)
	if err != nil {
		return nil, err
	}
	if completed && s.Fingerprint != nil {
		if pinnedFP, ok := m.pinned[peer]; ok && *s.Fingerprint != pinnedFP {
			s.fail(ErrKeyMismatch, now)
			return nil, ErrKeyMismatch
		}
		m.pinned[peer] = *s.Fingerprint
	}
	return out, nil
}

// stepHandshake reads msg, writes a reply if the pattern calls for one,
// and establishes s if either step completed the handshake.
func (m *Manager) stepHandshake(s *Session, msg []byte, now time.Time) ([]byte, bool, error) {
	if s.handshake == nil {
		return nil, false, ErrInvalidState
	}

	_, ciphers, err := s.handshake.ReadMessage(msg)
	if err != nil {
		s.fail(err, now)
		return nil, false, ErrInvalidState
	}
	s.LastActivity = now

	if ciphers != nil {
		peerStatic, _ := s.handshake.PeerStatic()
		s.establish(peerStatic, ciphers, now)
		return nil, true, nil
	}

	out, ciphers2, err := s.handshake.WriteMessage(nil)
	if err != nil {
		s.fail(err, now)
		return nil, false, ErrInvalidState
	}
	s.LastActivity = now

	if ciphers2 != nil {
		peerStatic, _ := s.handshake.PeerStatic()
		s.establish(peerStatic, ciphers2, now)
		return out, true, nil
	}
	return out, false, nil
}

// Encrypt seals plaintext for peer. Only permitted when Established;
// failures transition the session to Failed.
func (m *Manager) Encrypt(peer wire.PeerID, plaintext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != StateEstablished {
		return nil, ErrInvalidState
	}

	ciphertext := crypto.Encrypt(s.ciphers.Send, nil, plaintext)
	now := m.now()
	s.MessageCounter++
	s.ByteCounter += uint64(len(plaintext))
	s.LastActivity = now
	return ciphertext, nil
}

// Decrypt opens ciphertext from peer. Only permitted when Established;
// failures transition the session to Failed.
func (m *Manager) Decrypt(peer wire.PeerID, ciphertext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != StateEstablished {
		return nil, ErrInvalidState
	}

	plaintext, err := crypto.Decrypt(s.ciphers.Recv, nil, ciphertext)
	now := m.now()
	if err != nil {
		s.fail(err, now)
		return nil, ErrCipherFailedAsSession(err)
	}
	s.MessageCounter++
	s.ByteCounter += uint64(len(plaintext))
	s.LastActivity = now
	return plaintext, nil
}

// ErrCipherFailedAsSession maps a crypto error onto the session taxonomy
// without losing the underlying cause.
func ErrCipherFailedAsSession(cause error) error {
	return errors.Join(ErrInvalidState, cause)
}

// Get returns the current session for peer, if any.
func (m *Manager) Get(peer wire.PeerID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	return s, ok
}

// needsRekeyLocked reports whether s has crossed the configured
// message/byte/age rekey threshold. Callers must hold mu.
func (m *Manager) needsRekeyLocked(s *Session) bool {
	if s.State != StateEstablished {
		return false
	}
	if m.cfg.RekeyMessageThreshold > 0 && s.MessageCounter >= m.cfg.RekeyMessageThreshold {
		return true
	}
	if m.cfg.RekeyByteThreshold > 0 && s.ByteCounter >= m.cfg.RekeyByteThreshold {
		return true
	}
	if m.cfg.RekeyAge > 0 && m.now().Sub(s.CreatedAt) >= m.cfg.RekeyAge {
		return true
	}
	return false
}

// NeedsRekey reports whether peer's Established session has crossed the
// configured message/byte/age rekey threshold.
func (m *Manager) NeedsRekey(peer wire.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	if !ok {
		return false
	}
	return m.needsRekeyLocked(s)
}

// DueForRekey returns every peer whose Established session has crossed
// the configured rekey threshold, for a scheduler tick that has no
// specific peer in mind and must scan for one.
func (m *Manager) DueForRekey() []wire.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []wire.PeerID
	for peer, s := range m.sessions {
		if m.needsRekeyLocked(s) {
			due = append(due, peer)
		}
	}
	return due
}

// CleanupExpired removes sessions whose timers have elapsed: Handshaking
// sessions past HandshakeTimeout, Established sessions past IdleTimeout,
// Failed sessions past FailedGrace, and draining sessions past their
// rekey drain window. It returns the PeerIds removed, for metrics/logging.
func (m *Manager) CleanupExpired() []wire.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed []wire.PeerID

	for peer, s := range m.sessions {
		idle := now.Sub(s.LastActivity)
		switch s.State {
		case StateHandshaking:
			if idle >= m.cfg.HandshakeTimeout {
				delete(m.sessions, peer)
				removed = append(removed, peer)
			}
		case StateEstablished:
			if idle >= m.cfg.IdleTimeout {
				delete(m.sessions, peer)
				removed = append(removed, peer)
			}
		case StateFailed:
			if idle >= m.cfg.FailedGrace {
				delete(m.sessions, peer)
				removed = append(removed, peer)
			}
		}
	}

	for peer, rs := range m.rekeying {
		if now.Sub(rs.LastActivity) >= m.cfg.HandshakeTimeout {
			delete(m.rekeying, peer)
		}
	}

	for peer, d := range m.draining {
		if now.After(d.drainUntil) {
			delete(m.draining, peer)
		}
	}

	return removed
}
