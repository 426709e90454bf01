package transport

import "errors"

// TransportError is the closed taxonomy of transport-boundary failures.
var (
	ErrUnavailable          = errors.New("transport: unavailable")
	ErrTimeout              = errors.New("transport: timeout")
	ErrInvalidConfiguration = errors.New("transport: invalid configuration")
	ErrSendBufferFull       = errors.New("transport: send buffer full")
	ErrPeerNotFound         = errors.New("transport: peer not found")
)
