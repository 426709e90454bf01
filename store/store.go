package store

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"time"

	"github.com/noisymesh/bitchat/wire"
)

// MessageID is the content address of a stored message.
type MessageID [32]byte

// CanonicalTuple is the exact set of fields hashed to produce a
// MessageID. SessionEpoch is folded in to keep ids unique across epochs:
// two messages with the same sender/recipient/content/sequence but
// different epochs never collide.
type CanonicalTuple struct {
	Sender       wire.PeerID
	Recipient    wire.PeerID
	HasRecipient bool
	Content      string
	Sequence     uint64
	SessionEpoch uint64
}

// Hash computes this tuple's MessageID.
func (c CanonicalTuple) Hash() MessageID {
	buf := make([]byte, 0, wire.PeerIDSize*2+1+8+8+len(c.Content))
	buf = append(buf, c.Sender[:]...)
	buf = append(buf, c.Recipient[:]...)
	if c.HasRecipient {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var seqBuf, epochBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], c.Sequence)
	binary.BigEndian.PutUint64(epochBuf[:], c.SessionEpoch)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, epochBuf[:]...)
	buf = append(buf, c.Content...)
	return sha256.Sum256(buf)
}

// Message is one stored, content-addressed message. No message content
// crosses into persistent storage elsewhere in the system; this is the
// sole place it is retained, and only in memory.
type Message struct {
	ID        MessageID
	Sender    wire.PeerID
	Recipient wire.PeerID
	Content   string
	Sequence  uint64
	Timestamp time.Time
}

// Outcome reports whether Store inserted a new message or found an
// existing one with the same id.
type Outcome int

const (
	Inserted Outcome = iota
	AlreadyExisted
)

// Bounds configures the content length and table-size limits enforced on
// every Store call.
type Bounds struct {
	MaxContentLength          int
	MaxMessagesPerConversation int
	MaxTotalMessages          int
}

// DefaultBounds returns reasonable production limits.
func DefaultBounds() Bounds {
	return Bounds{
		MaxContentLength:           4096,
		MaxMessagesPerConversation: 10_000,
		MaxTotalMessages:           200_000,
	}
}

type conversationKey struct {
	a, b wire.PeerID
}

func conversationOf(sender, recipient wire.PeerID) conversationKey {
	// Order-independent so both directions of a 1:1 conversation share a
	// bucket for the per-conversation size bound.
	if string(sender[:]) <= string(recipient[:]) {
		return conversationKey{sender, recipient}
	}
	return conversationKey{recipient, sender}
}

// Store is the content-addressed message store: dedup by id, an ordered
// (sender, sequence) index, a timestamp index, and size-bound eviction.
type Store struct {
	bounds Bounds
	now    func() time.Time

	byID           map[MessageID]*Message
	bySequence     map[wire.PeerID]map[uint64][]MessageID
	lastSeqBySender map[wire.PeerID]uint64
	conversations  map[conversationKey][]MessageID
}

// NewStore constructs an empty Store.
func NewStore(bounds Bounds) *Store {
	return &Store{
		bounds:          bounds,
		now:             time.Now,
		byID:            make(map[MessageID]*Message),
		bySequence:      make(map[wire.PeerID]map[uint64][]MessageID),
		lastSeqBySender: make(map[wire.PeerID]uint64),
		conversations:   make(map[conversationKey][]MessageID),
	}
}

// Store inserts msg if its content address is new, enforcing content
// length and non-decreasing-sequence validation first. Sequence gaps are
// allowed and simply recorded; only a regression (a sequence less than
// the sender's last recorded sequence) is rejected.
func (s *Store) Store(tuple CanonicalTuple, timestamp time.Time) (MessageID, Outcome, error) {
	if len(tuple.Content) > s.bounds.MaxContentLength {
		return MessageID{}, 0, ErrValidationRejected
	}
	if last, ok := s.lastSeqBySender[tuple.Sender]; ok && tuple.Sequence < last {
		return MessageID{}, 0, ErrValidationRejected
	}

	id := tuple.Hash()
	if _, exists := s.byID[id]; exists {
		return id, AlreadyExisted, nil
	}

	msg := &Message{
		ID:        id,
		Sender:    tuple.Sender,
		Recipient: tuple.Recipient,
		Content:   tuple.Content,
		Sequence:  tuple.Sequence,
		Timestamp: timestamp,
	}
	s.byID[id] = msg
	s.lastSeqBySender[tuple.Sender] = tuple.Sequence

	if s.bySequence[tuple.Sender] == nil {
		s.bySequence[tuple.Sender] = make(map[uint64][]MessageID)
	}
	s.bySequence[tuple.Sender][tuple.Sequence] = append(s.bySequence[tuple.Sender][tuple.Sequence], id)

	ck := conversationOf(tuple.Sender, tuple.Recipient)
	s.conversations[ck] = append(s.conversations[ck], id)

	s.evictOverBounds(ck)
	return id, Inserted, nil
}

// Get returns the message stored under id, if any.
func (s *Store) Get(id MessageID) (*Message, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// BySequence returns, in non-decreasing sequence order, every message
// from sender.
func (s *Store) BySequence(sender wire.PeerID) []*Message {
	seqs := s.bySequence[sender]
	var ordered []uint64
	for seq := range seqs {
		ordered = append(ordered, seq)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var out []*Message
	for _, seq := range ordered {
		for _, id := range seqs[seq] {
			if m, ok := s.byID[id]; ok {
				out = append(out, m)
			}
		}
	}
	return out
}

// InRange returns every stored message with Timestamp in [from, to].
func (s *Store) InRange(from, to time.Time) []*Message {
	var out []*Message
	for _, m := range s.byID {
		if (m.Timestamp.Equal(from) || m.Timestamp.After(from)) && (m.Timestamp.Equal(to) || m.Timestamp.Before(to)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Len reports the total number of stored messages.
func (s *Store) Len() int {
	return len(s.byID)
}

// evictOverBounds drops the oldest messages in ck's conversation once it
// exceeds MaxMessagesPerConversation, and the oldest messages overall
// once the store exceeds MaxTotalMessages.
func (s *Store) evictOverBounds(ck conversationKey) {
	ids := s.conversations[ck]
	if s.bounds.MaxMessagesPerConversation > 0 && len(ids) > s.bounds.MaxMessagesPerConversation {
		s.sortByTimestamp(ids)
		overflow := len(ids) - s.bounds.MaxMessagesPerConversation
		for _, id := range ids[:overflow] {
			s.remove(id)
		}
		s.conversations[ck] = ids[overflow:]
	}

	if s.bounds.MaxTotalMessages > 0 && len(s.byID) > s.bounds.MaxTotalMessages {
		var all []MessageID
		for id := range s.byID {
			all = append(all, id)
		}
		s.sortByTimestamp(all)
		overflow := len(all) - s.bounds.MaxTotalMessages
		for _, id := range all[:overflow] {
			s.remove(id)
		}
	}
}

func (s *Store) sortByTimestamp(ids []MessageID) {
	sort.Slice(ids, func(i, j int) bool {
		mi, mj := s.byID[ids[i]], s.byID[ids[j]]
		if mi == nil || mj == nil {
			return false
		}
		return mi.Timestamp.Before(mj.Timestamp)
	})
}

// remove evicts msg's storage-table entries. It intentionally leaves
// lastSeqBySender untouched: that tracks the highest sequence ever
// validated for sender, independent of whether the message itself is
// still retained.
func (s *Store) remove(id MessageID) {
	msg, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if bySeq := s.bySequence[msg.Sender]; bySeq != nil {
		delete(bySeq, msg.Sequence)
	}
}
