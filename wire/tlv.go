package wire

import "encoding/binary"

// TLVType is the closed set of known TLV entry types carried inside an
// Announce payload. Unknown types MUST be ignored by decoders, not
// rejected — ParseTLVs returns them as-is for the caller to skip.
type TLVType uint8

const (
	TLVNickname         TLVType = 0x01
	TLVNoisePublicKey   TLVType = 0x02
	TLVSigningPublicKey TLVType = 0x03
	TLVDirectNeighbors  TLVType = 0x04
)

// TLV is a single {type, length, value} entry.
type TLV struct {
	Type  TLVType
	Value []byte
}

// EncodeTLVs serializes a sequence of TLV entries.
func EncodeTLVs(entries []TLV) []byte {
	size := 0
	for _, e := range entries {
		size += 1 + 2 + len(e.Value)
	}
	buf := make([]byte, 0, size)
	for _, e := range entries {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.Value)))
		buf = append(buf, byte(e.Type))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, e.Value...)
	}
	return buf
}

// ParseTLVs decodes a sequence of TLV entries, stopping only on a
// structurally truncated stream. Unknown TLVType values are returned to
// the caller rather than dropped here, so "ignore unknown types" is a
// decision made by consumers (e.g. DecodeAnnounce).
func ParseTLVs(b []byte) ([]TLV, error) {
	var out []TLV
	for len(b) > 0 {
		if len(b) < 3 {
			return nil, ErrTruncatedPayload
		}
		t := TLVType(b[0])
		length := int(binary.BigEndian.Uint16(b[1:3]))
		if len(b) < 3+length {
			return nil, ErrTruncatedPayload
		}
		out = append(out, TLV{Type: t, Value: append([]byte(nil), b[3:3+length]...)})
		b = b[3+length:]
	}
	return out, nil
}

// AnnouncePayload is the decoded content of an Announce packet's payload.
type AnnouncePayload struct {
	Nickname         string
	NoisePublicKey   [32]byte
	SigningPublicKey [32]byte
	DirectNeighbors  [][32]byte
}

// ErrMissingRequiredTLV is returned when a required Announce TLV entry is
// absent.
var ErrMissingRequiredTLV = errTLV("wire: missing required TLV entry")

type errTLV string

func (e errTLV) Error() string { return string(e) }

// EncodeAnnounce serializes an AnnouncePayload into its TLV wire form.
func EncodeAnnounce(a *AnnouncePayload) []byte {
	entries := []TLV{
		{Type: TLVNickname, Value: []byte(a.Nickname)},
		{Type: TLVNoisePublicKey, Value: a.NoisePublicKey[:]},
		{Type: TLVSigningPublicKey, Value: a.SigningPublicKey[:]},
	}
	if len(a.DirectNeighbors) > 0 {
		buf := make([]byte, 0, 32*len(a.DirectNeighbors))
		for _, n := range a.DirectNeighbors {
			buf = append(buf, n[:]...)
		}
		entries = append(entries, TLV{Type: TLVDirectNeighbors, Value: buf})
	}
	return EncodeTLVs(entries)
}

// DecodeAnnounce parses an Announce payload, ignoring unknown TLV types and
// failing only if a required entry is absent or malformed.
func DecodeAnnounce(b []byte) (*AnnouncePayload, error) {
	entries, err := ParseTLVs(b)
	if err != nil {
		return nil, err
	}

	a := &AnnouncePayload{}
	var haveNickname, haveNoiseKey, haveSigningKey bool
	for _, e := range entries {
		switch e.Type {
		case TLVNickname:
			if len(e.Value) > 255 {
				return nil, ErrPayloadTooLarge
			}
			a.Nickname = string(e.Value)
			haveNickname = true
		case TLVNoisePublicKey:
			if len(e.Value) != 32 {
				return nil, ErrTruncatedPayload
			}
			copy(a.NoisePublicKey[:], e.Value)
			haveNoiseKey = true
		case TLVSigningPublicKey:
			if len(e.Value) != 32 {
				return nil, ErrTruncatedPayload
			}
			copy(a.SigningPublicKey[:], e.Value)
			haveSigningKey = true
		case TLVDirectNeighbors:
			if len(e.Value)%32 != 0 {
				return nil, ErrTruncatedPayload
			}
			for i := 0; i < len(e.Value); i += 32 {
				var key [32]byte
				copy(key[:], e.Value[i:i+32])
				a.DirectNeighbors = append(a.DirectNeighbors, key)
			}
		default:
			// Unknown TLV type: ignored for forward compatibility.
		}
	}

	if !haveNickname || !haveNoiseKey || !haveSigningKey {
		return nil, ErrMissingRequiredTLV
	}
	return a, nil
}
