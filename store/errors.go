// Package store implements the content-addressed message store: dedup by
// id, ordered indexes, and bounded eviction.
package store

import "errors"

// StorageError is the closed taxonomy of store failures.
var (
	ErrValidationRejected = errors.New("store: validation rejected")
	ErrNotFound           = errors.New("store: not found")
)
