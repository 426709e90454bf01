package crypto

import (
	"github.com/flynn/noise"
)

// NoiseSuite is Noise_XX_25519_ChaChaPoly_SHA256. flynn/noise expresses
// this construction directly via its generic cipher-suite/pattern
// machinery, so there is no hand-rolled KDF here.
var NoiseSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// X25519KeyPair is a Diffie-Hellman key pair used as either a session's
// static identity key or a handshake's ephemeral key.
type X25519KeyPair struct {
	Private []byte
	Public  []byte
}

// GenerateX25519KeyPair creates a new X25519 key pair using rng.
func GenerateX25519KeyPair(rng RNG) (*X25519KeyPair, error) {
	kp, err := noise.DH25519.GenerateKeypair(rng)
	if err != nil {
		return nil, ErrRNGFailed
	}
	return &X25519KeyPair{Private: kp.Private, Public: kp.Public}, nil
}

// X25519KeyPairFromSeed derives a deterministic key pair from a 32-byte
// seed.
func X25519KeyPairFromSeed(seed []byte) (*X25519KeyPair, error) {
	if len(seed) != 32 {
		return nil, ErrKeyInvalid
	}
	// DH25519's GenerateKeypair clamps whatever 32 bytes it reads from the
	// RNG, so handing it a one-shot reader over the seed deterministically
	// derives the same key pair every time for the same seed.
	kp, err := noise.DH25519.GenerateKeypair(newFixedReader(seed))
	if err != nil {
		return nil, ErrKeyInvalid
	}
	return &X25519KeyPair{Private: kp.Private, Public: kp.Public}, nil
}

type fixedReader struct{ b []byte }

func newFixedReader(b []byte) *fixedReader { return &fixedReader{b: b} }

func (f *fixedReader) Read(p []byte) (int, error) {
	n := copy(p, f.b)
	return n, nil
}

// HandshakeRole distinguishes the two ends of a Noise_XX handshake.
type HandshakeRole int

const (
	Initiator HandshakeRole = iota
	Responder
)

// Handshake wraps a flynn/noise HandshakeState for a single Noise_XX
// session, tracking whether it has completed and exposing the resulting
// transport ciphers.
type Handshake struct {
	state *noise.HandshakeState
	role  HandshakeRole
	done  bool
}

// NewHandshake starts a new Noise_XX handshake. staticKey is this party's
// long-term X25519 identity key pair.
func NewHandshake(role HandshakeRole, staticKey X25519KeyPair, rng RNG) (*Handshake, error) {
	cfg := noise.Config{
		CipherSuite: NoiseSuite,
		Random:      rng,
		Pattern:     noise.HandshakeXX,
		Initiator:   role == Initiator,
		StaticKeypair: noise.DHKey{
			Private: staticKey.Private,
			Public:  staticKey.Public,
		},
	}
	state, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	return &Handshake{state: state, role: role}, nil
}

// TransportCiphers holds the send/receive AEAD ciphers produced once a
// handshake completes.
type TransportCiphers struct {
	Send *noise.CipherState
	Recv *noise.CipherState
}

// WriteMessage produces the next outbound handshake message (and
// transport ciphers, once the handshake completes). payload is typically
// empty for BitChat's three-message XX exchange.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, *TransportCiphers, error) {
	if h.done {
		return nil, nil, ErrHandshakeFailed
	}
	out, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}
	return out, h.split(cs1, cs2), nil
}

// ReadMessage consumes an inbound handshake message (and yields transport
// ciphers, once the handshake completes).
func (h *Handshake) ReadMessage(msg []byte) ([]byte, *TransportCiphers, error) {
	if h.done {
		return nil, nil, ErrHandshakeFailed
	}
	out, cs1, cs2, err := h.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, nil, ErrHandshakeFailed
	}
	return out, h.split(cs1, cs2), nil
}

func (h *Handshake) split(cs1, cs2 *noise.CipherState) *TransportCiphers {
	if cs1 == nil || cs2 == nil {
		return nil
	}
	h.done = true
	// flynn/noise's Split returns cs1 for initiator-to-responder traffic
	// and cs2 for responder-to-initiator traffic on both sides, so the
	// responder sends with cs2 and receives with cs1.
	if h.role == Responder {
		return &TransportCiphers{Send: cs2, Recv: cs1}
	}
	return &TransportCiphers{Send: cs1, Recv: cs2}
}

// PeerStatic returns the remote party's static public key once the
// handshake has progressed far enough to have authenticated it (after the
// second XX message on the initiator side, the third on the responder
// side, per the Noise_XX pattern).
func (h *Handshake) PeerStatic() ([]byte, bool) {
	key := h.state.PeerStatic()
	if key == nil {
		return nil, false
	}
	return key, true
}

// Encrypt seals plaintext using the send cipher. Sessions only call this
// once Established.
func Encrypt(c *noise.CipherState, ad, plaintext []byte) []byte {
	return c.Encrypt(nil, ad, plaintext)
}

// Decrypt opens ciphertext using the receive cipher.
func Decrypt(c *noise.CipherState, ad, ciphertext []byte) ([]byte, error) {
	out, err := c.Decrypt(nil, ad, ciphertext)
	if err != nil {
		return nil, ErrCipherFailed
	}
	return out, nil
}
