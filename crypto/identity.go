package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// SigningKeyPair is a peer's long-term Ed25519 identity key, used to sign
// Announce and other authenticated packets.
type SigningKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateSigningKeyPair creates a new Ed25519 key pair using rng.
func GenerateSigningKeyPair(rng RNG) (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rng)
	if err != nil {
		return nil, ErrRNGFailed
	}
	return &SigningKeyPair{Private: priv, Public: pub}, nil
}

// SigningKeyPairFromSeed derives a deterministic key pair from a 32-byte
// seed, for reproducible identities and test vectors.
func SigningKeyPairFromSeed(seed []byte) (*SigningKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrKeyInvalid
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &SigningKeyPair{Private: priv, Public: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign produces a detached Ed25519 signature over msg.
func (k *SigningKeyPair) Sign(msg []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(k.Private, msg))
	return sig
}

// VerifySignature checks an Ed25519 signature over msg against a public
// key presented either out-of-band or embedded in an Announce payload.
func VerifySignature(pub ed25519.PublicKey, msg []byte, sig [64]byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return ErrKeyInvalid
	}
	if !ed25519.Verify(pub, msg, sig[:]) {
		return ErrSignatureFailed
	}
	return nil
}

// Fingerprint is the SHA-256 digest of a 32-byte static public key, used
// for out-of-band verification and identity cache keying.
type Fingerprint [32]byte

// FingerprintOf hashes a public key into a Fingerprint.
func FingerprintOf(pub []byte) Fingerprint {
	return sha256.Sum256(pub)
}
