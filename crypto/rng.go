package crypto

import (
	"crypto/rand"
	"io"
)

// RNG is the CSPRNG abstraction every primitive in this package draws
// randomness through, so a seeded source can be injected for deterministic
// tests.
type RNG interface {
	io.Reader
}

// DefaultRNG is the production random source: crypto/rand.Reader.
var DefaultRNG RNG = rand.Reader
