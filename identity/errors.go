// Package identity maintains the local node's durable identity state: the
// cryptographic/social identity cache for known peers, a favorites list,
// and a pluggable secure-storage backend for persisting it.
package identity

import "errors"

// StorageError is the closed taxonomy of identity-storage failures.
var (
	ErrUnavailable  = errors.New("identity: storage not available")
	ErrAccessDenied = errors.New("identity: access denied")
	ErrQuotaExceeded = errors.New("identity: quota exceeded")
	ErrKeyNotFound  = errors.New("identity: key not found")

	// ErrMalformedFingerprint is returned when a persisted favorites entry
	// doesn't decode to a 32-byte fingerprint.
	ErrMalformedFingerprint = errors.New("identity: malformed fingerprint")
)
