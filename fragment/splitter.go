package fragment

import (
	"github.com/google/uuid"

	"github.com/noisymesh/bitchat/wire"
)

// Split breaks payload into an ordered sequence of fragments where each
// wire-encoded fragment, including its header, fits under mtu. It
// returns one Fragment per piece; the caller wraps each in a Packet whose
// MessageType is given by EnvelopeType(index, len(fragments)).
func Split(messageID uuid.UUID, originalType wire.MessageType, payload []byte, mtu int) ([]*wire.Fragment, error) {
	maxChunk := mtu - wire.FragmentHeaderSize
	if maxChunk <= 0 {
		return nil, ErrMTUTooSmall
	}

	if len(payload) == 0 {
		return []*wire.Fragment{{
			MessageID:     messageID,
			FragmentIndex: 0,
			FragmentTotal: 1,
			OriginalSize:  0,
			OriginalType:  originalType,
			Data:          nil,
		}}, nil
	}

	total := (len(payload) + maxChunk - 1) / maxChunk
	if total > 1<<16-1 {
		return nil, ErrIndexOutOfRange
	}

	fragments := make([]*wire.Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunk
		end := start + maxChunk
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, &wire.Fragment{
			MessageID:     messageID,
			FragmentIndex: uint16(i),
			FragmentTotal: uint16(total),
			OriginalSize:  uint32(len(payload)),
			OriginalType:  originalType,
			Data:          payload[start:end],
		})
	}
	return fragments, nil
}

// EnvelopeType returns the outer Packet MessageType a fragment at index
// out of total should be sent as: Start for the first, End for the last
// (including when total is 1), Continue otherwise.
func EnvelopeType(index, total int) wire.MessageType {
	switch {
	case total == 1, index == total-1:
		return wire.MessageTypeFragmentEnd
	case index == 0:
		return wire.MessageTypeFragmentStart
	default:
		return wire.MessageTypeFragmentContinue
	}
}
