package wire

import (
	"fmt"
)

// Encode serializes p into its wire representation. All multi-byte
// integers are big-endian. Encode never fails for a Packet that round-
// tripped through Decode, but can fail if the caller hand-built a Packet
// with an invalid version, type, or oversized payload.
func Encode(p *Packet) ([]byte, error) {
	if p.Version != Version1 && p.Version != Version2 {
		return nil, ErrInvalidVersion
	}
	if !p.MessageType.valid() {
		return nil, ErrInvalidType
	}
	maxPayload := maxPayloadV1
	if p.Version == Version2 {
		maxPayload = maxPayloadV2
	}
	if len(p.Payload) > maxPayload {
		return nil, ErrPayloadTooLarge
	}

	signable, err := encodeSignable(p)
	if err != nil {
		return nil, err
	}
	if !p.HasSignature {
		return signable, nil
	}
	return append(signable, p.Signature[:]...), nil
}

// encodeSignable returns every byte that a signature covers: the header,
// the sender, the optional recipient, and the payload — but never the
// trailing signature bytes themselves, so signing is independent of where
// the signature is later appended.
func encodeSignable(p *Packet) ([]byte, error) {
	headerSize := headerSizeV1
	if p.Version == Version2 {
		headerSize = headerSizeV2
	}
	if p.Version == Version1 && len(p.Payload) > maxPayloadV1 {
		return nil, ErrPayloadTooLarge
	}
	return layout(p, headerSize)
}

// layout builds the full signable buffer in one pass.
func layout(p *Packet, headerSize int) ([]byte, error) {
	size := headerSize + PeerIDSize // sender_id is always present
	if p.HasRecipient {
		size += PeerIDSize
	}
	size += len(p.Payload)

	buf := make([]byte, size)
	buf[0] = byte(p.Version)
	buf[1] = byte(p.MessageType)
	buf[2] = p.TTL
	putUint64(buf[3:11], timestampMillis(p.Timestamp))
	buf[11] = byte(p.effectiveFlags())

	switch p.Version {
	case Version1:
		buf[12] = byte(len(p.Payload))
	case Version2:
		be16(buf[12:14], uint16(len(p.Payload)))
	}

	pos := headerSize
	copy(buf[pos:pos+PeerIDSize], p.SenderID[:])
	pos += PeerIDSize

	if p.HasRecipient {
		copy(buf[pos:pos+PeerIDSize], p.RecipientID[:])
		pos += PeerIDSize
	}

	copy(buf[pos:], p.Payload)
	return buf, nil
}

// Decode parses b into a Packet. It returns a structured PacketError on any
// malformed input and never panics.
func Decode(b []byte) (*Packet, error) {
	if len(b) < 1 {
		return nil, ErrTruncatedHeader
	}
	version := Version(b[0])
	headerSize := headerSizeV1
	switch version {
	case Version1:
		headerSize = headerSizeV1
	case Version2:
		headerSize = headerSizeV2
	default:
		return nil, ErrInvalidVersion
	}
	if len(b) < headerSize+PeerIDSize {
		return nil, ErrTruncatedHeader
	}

	msgType := MessageType(b[1])
	if !msgType.valid() {
		return nil, ErrInvalidType
	}

	ttl := b[2]
	ts := timeFromMillis(getUint64(b[3:11]))
	flags := Flags(b[11])
	if flags&reservedFlagsMask != 0 {
		return nil, ErrUnknownFlag
	}

	var payloadLen int
	switch version {
	case Version1:
		payloadLen = int(b[12])
	case Version2:
		payloadLen = int(be16get(b[12:14]))
	}

	pos := headerSize
	p := &Packet{
		Version:      version,
		MessageType:  msgType,
		TTL:          ttl,
		Timestamp:    ts,
		Flags:        flags &^ (FlagHasRecipient | FlagHasSignature),
		HasRecipient: flags.has(FlagHasRecipient),
		HasSignature: flags.has(FlagHasSignature),
	}

	if len(b) < pos+PeerIDSize {
		return nil, ErrTruncatedHeader
	}
	copy(p.SenderID[:], b[pos:pos+PeerIDSize])
	pos += PeerIDSize

	if p.HasRecipient {
		if len(b) < pos+PeerIDSize {
			return nil, ErrTruncatedHeader
		}
		copy(p.RecipientID[:], b[pos:pos+PeerIDSize])
		pos += PeerIDSize
	}

	if len(b) < pos+payloadLen {
		return nil, ErrTruncatedPayload
	}
	p.Payload = append([]byte(nil), b[pos:pos+payloadLen]...)
	pos += payloadLen

	if p.HasSignature {
		if len(b) < pos+SignatureSize {
			return nil, ErrTruncatedPayload
		}
		copy(p.Signature[:], b[pos:pos+SignatureSize])
		pos += SignatureSize
	}

	return p, nil
}

func be16(dst []byte, v uint16) {
	dst[0] = byte(v >> 8)
	dst[1] = byte(v)
}

func be16get(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// SignableBytes returns the bytes a signature must cover for p: the header
// plus optional recipient plus payload, excluding any trailing signature.
// has_signature in the returned header reflects p.HasSignature as given,
// so callers sign before setting p.Signature.
func SignableBytes(p *Packet) ([]byte, error) {
	if !p.MessageType.valid() {
		return nil, fmt.Errorf("wire: %w", ErrInvalidType)
	}
	return encodeSignable(p)
}
