// Package testutil holds small helpers shared across this module's
// _test.go files that don't belong in any one package.
package testutil

import "math/rand"

// SeededRNG returns a deterministic io.Reader seeded from seed, for test
// fixtures (identity keys, handshake ephemerals) that need to be
// reproducible across runs rather than drawn from crypto/rand. Modeled on
// crypto.X25519KeyPairFromSeed's own fixedReader, generalized so every
// package's tests can derive as many distinct deterministic identities as
// they need from a single int64 rather than hand-rolling a 32-byte seed
// buffer per identity.
func SeededRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
