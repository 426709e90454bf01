// Package crypto provides BitChat's cryptographic primitives: Ed25519
// signing identities, the Noise_XX_25519_ChaChaPoly_SHA256 handshake, and
// SHA-256 fingerprinting. All functions return explicit errors on failure;
// none panic on untrusted input.
package crypto

import "errors"

// CryptographicError is the closed taxonomy of cryptographic failures.
var (
	ErrKeyInvalid       = errors.New("crypto: key invalid")
	ErrSignatureFailed  = errors.New("crypto: signature verification failed")
	ErrHandshakeFailed  = errors.New("crypto: handshake failed")
	ErrCipherFailed     = errors.New("crypto: cipher operation failed")
	ErrRNGFailed        = errors.New("crypto: random number generation failed")
)
