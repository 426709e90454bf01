// Package session implements the Session Manager: the per-peer Noise_XX
// handshake lifecycle, encryption/decryption once Established, and rekey
// scheduling.
package session

import (
	"time"

	"github.com/noisymesh/bitchat/crypto"
	"github.com/noisymesh/bitchat/wire"
)

// State is a Session's lifecycle stage. Transitions are monotonic:
// Handshaking -> Established or Failed. Failed is terminal until the
// session is removed.
type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// DerivePeerID returns the 8-byte PeerId prefix of a 32-byte static X25519
// public key.
func DerivePeerID(staticPublicKey []byte) wire.PeerID {
	var id wire.PeerID
	copy(id[:], staticPublicKey)
	return id
}

// Session is owned exclusively by the Session Manager / Core Engine,
// keyed by PeerId. Exactly one of handshake/ciphers is non-nil at a time.
type Session struct {
	PeerID      wire.PeerID
	Fingerprint *crypto.Fingerprint // nil until the handshake completes
	State       State

	handshake *crypto.Handshake        // present while Handshaking
	ciphers   *crypto.TransportCiphers // present while Established

	Epoch uint64 // incremented on every completed rekey

	MessageCounter uint64
	ByteCounter    uint64

	CreatedAt    time.Time
	LastActivity time.Time

	LastError error // set when transitioning to Failed
}

func newSession(peer wire.PeerID, hs *crypto.Handshake, now time.Time) *Session {
	return &Session{
		PeerID:       peer,
		State:        StateHandshaking,
		handshake:    hs,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (s *Session) fail(err error, now time.Time) {
	s.State = StateFailed
	s.LastError = err
	s.handshake = nil
	s.ciphers = nil
	s.LastActivity = now
}

func (s *Session) establish(peerStatic []byte, ciphers *crypto.TransportCiphers, now time.Time) {
	fp := crypto.FingerprintOf(peerStatic)
	s.Fingerprint = &fp
	s.ciphers = ciphers
	s.handshake = nil
	s.State = StateEstablished
	s.LastActivity = now
}
