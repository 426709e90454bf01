package wire

import "errors"

// PacketError is the closed taxonomy of codec failures.
// Errors are sentinel values so callers can compare with errors.Is.
var (
	ErrInvalidVersion   = errors.New("wire: invalid version")
	ErrInvalidType      = errors.New("wire: invalid message type")
	ErrTruncatedHeader  = errors.New("wire: truncated header")
	ErrTruncatedPayload = errors.New("wire: truncated payload")
	ErrPayloadTooLarge  = errors.New("wire: payload too large")
	ErrUnknownFlag      = errors.New("wire: unknown reserved flag set")
	ErrSignatureInvalid = errors.New("wire: signature invalid")
)

// maxPayloadV1 and maxPayloadV2 bound payload_length for each wire version.
const (
	maxPayloadV1 = 1<<8 - 1
	maxPayloadV2 = 1<<16 - 1
)
