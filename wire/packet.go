// Package wire implements the BitChat packet wire format: a fixed header
// followed by an optional recipient, payload, and optional signature. The
// codec is pure — it performs no I/O and never panics on untrusted input.
package wire

import (
	"encoding/binary"
	"time"
)

// Version identifies the on-wire header layout.
type Version uint8

const (
	Version1 Version = 1
	Version2 Version = 2
)

// MessageType is the closed set of packet payload kinds.
type MessageType uint8

const (
	MessageTypeMessage MessageType = iota + 1
	MessageTypeDeliveryAck
	MessageTypeReadReceipt
	MessageTypeNoiseHandshakeInit
	MessageTypeNoiseHandshakeResponse
	MessageTypeNoiseHandshakeFinalize
	MessageTypeAnnounce
	MessageTypeRequestSync
	MessageTypeFragmentStart
	MessageTypeFragmentContinue
	MessageTypeFragmentEnd
)

func (t MessageType) valid() bool {
	return t >= MessageTypeMessage && t <= MessageTypeFragmentEnd
}

// Flags is the header flag bitmap.
type Flags uint8

const (
	FlagHasRecipient Flags = 1 << 0
	FlagHasSignature Flags = 1 << 1
	FlagIsCompressed Flags = 1 << 2

	// reservedFlagsMask covers bits not yet assigned meaning. Packets that
	// set any of these bits are rejected with ErrUnknownFlag rather than
	// silently accepted, since an unrecognized flag may change how a
	// future decoder must interpret the payload.
	reservedFlagsMask = Flags(0xF8)
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// PeerIDSize is the length in bytes of a PeerId.
const PeerIDSize = 8

// PeerID is the first 8 bytes of a peer's 32-byte static X25519 public key.
type PeerID [PeerIDSize]byte

// BroadcastPeer is the reserved all-0xFF PeerId.
var BroadcastPeer = PeerID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// IsBroadcast reports whether id is the reserved broadcast PeerId.
func (id PeerID) IsBroadcast() bool { return id == BroadcastPeer }

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = 64

// MaxTTL is the maximum number of relay hops a packet may carry.
const MaxTTL = 7

// DefaultTTL is the TTL assigned to freshly originated packets.
const DefaultTTL = 7

// headerSizeV1 and headerSizeV2 are the fixed-size portions of the header,
// before the optional recipient/payload/signature. v2 widens payload_length
// from one byte to two, shifting every subsequent field by one byte.
const (
	headerSizeV1 = 13
	headerSizeV2 = 14
)

// Packet is the on-wire unit routed by the Engine.
type Packet struct {
	Version       Version
	MessageType   MessageType
	TTL           uint8
	Timestamp     time.Time
	Flags         Flags
	SenderID      PeerID
	RecipientID   PeerID // valid iff Flags.has(FlagHasRecipient)
	Payload       []byte
	Signature     [SignatureSize]byte // valid iff Flags.has(FlagHasSignature)
	HasRecipient  bool
	HasSignature  bool
}

// effectiveFlags reports the header flags as they will be (or were)
// encoded, reconciling the struct's bool fields with Flags.
func (p *Packet) effectiveFlags() Flags {
	f := p.Flags &^ (FlagHasRecipient | FlagHasSignature)
	if p.HasRecipient {
		f |= FlagHasRecipient
	}
	if p.HasSignature {
		f |= FlagHasSignature
	}
	return f
}

func timestampMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

func timeFromMillis(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }
