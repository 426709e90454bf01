package wire

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// FragmentHeaderSize is the encoded size of everything in a Fragment
// except its data payload.
const FragmentHeaderSize = 16 + 2 + 2 + 4 + 1

// Fragment carries one piece of a message that exceeded a transport's MTU.
// Fragments are independently routable; reassembly is keyed by
// (sender_id, message_id).
type Fragment struct {
	MessageID      uuid.UUID
	FragmentIndex  uint16
	FragmentTotal  uint16
	OriginalSize   uint32
	OriginalType   MessageType
	Data           []byte
}

// EncodeFragment serializes a Fragment for use as a Packet payload.
func EncodeFragment(f *Fragment) []byte {
	buf := make([]byte, FragmentHeaderSize+len(f.Data))
	copy(buf[0:16], f.MessageID[:])
	binary.BigEndian.PutUint16(buf[16:18], f.FragmentIndex)
	binary.BigEndian.PutUint16(buf[18:20], f.FragmentTotal)
	binary.BigEndian.PutUint32(buf[20:24], f.OriginalSize)
	buf[24] = byte(f.OriginalType)
	copy(buf[25:], f.Data)
	return buf
}

// DecodeFragment parses a Fragment payload.
func DecodeFragment(b []byte) (*Fragment, error) {
	if len(b) < FragmentHeaderSize {
		return nil, ErrTruncatedPayload
	}
	f := &Fragment{
		FragmentIndex: binary.BigEndian.Uint16(b[16:18]),
		FragmentTotal: binary.BigEndian.Uint16(b[18:20]),
		OriginalSize:  binary.BigEndian.Uint32(b[20:24]),
		OriginalType:  MessageType(b[24]),
	}
	copy(f.MessageID[:], b[0:16])
	f.Data = append([]byte(nil), b[FragmentHeaderSize:]...)
	return f, nil
}
