// Package fragment splits oversized payloads into wire-sized fragments
// and reassembles them on the receiving side.
package fragment

import "errors"

// FragmentationError is the closed taxonomy of fragmentation failures.
var (
	ErrUnknownMessage = errors.New("fragment: unknown message")
	ErrIndexOutOfRange = errors.New("fragment: index out of range")
	ErrTotalMismatch   = errors.New("fragment: total mismatch across fragments")
	ErrSizeMismatch    = errors.New("fragment: original_size mismatch across fragments")
	ErrExpired         = errors.New("fragment: reassembly expired")
	ErrMTUTooSmall     = errors.New("fragment: mtu too small to fit a single fragment")
)
