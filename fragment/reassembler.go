package fragment

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noisymesh/bitchat/wire"
)

// Key identifies one in-progress reassembly.
type Key struct {
	Sender    wire.PeerID
	MessageID uuid.UUID
}

type entry struct {
	total        uint16
	originalSize uint32
	originalType wire.MessageType
	received     map[uint16][]byte
	bytes        int
	deadline     time.Time
}

// Config bounds the Reassembler's lifetime and memory use.
type Config struct {
	Deadline     time.Duration // per-reassembly time budget, started on first fragment
	MemoryBudget int           // total accumulated bytes across all in-progress reassemblies
}

// DefaultConfig returns the reassembler defaults.
func DefaultConfig() Config {
	return Config{
		Deadline:     30 * time.Second,
		MemoryBudget: 16 << 20,
	}
}

// Reassembler maintains a bounded table of in-progress reassemblies
// keyed by (sender_id, message_id). Completion yields a synthetic packet
// of original_type carrying the concatenated payload, to be fed back into
// the normal pipeline as if received directly.
type Reassembler struct {
	mu sync.Mutex

	cfg   Config
	now   func() time.Time
	table map[Key]*entry

	usedBytes int

	Expired int // count of reassemblies evicted past deadline, for metrics
}

// NewReassembler constructs an empty Reassembler.
func NewReassembler(cfg Config) *Reassembler {
	return &Reassembler{
		cfg:   cfg,
		now:   time.Now,
		table: make(map[Key]*entry),
	}
}

// Completed is the result of a fragment that finished a reassembly.
type Completed struct {
	OriginalType wire.MessageType
	Payload      []byte
}

// Add feeds one fragment from sender into the table. It returns a
// non-nil Completed when this fragment was the last one needed; duplicate
// fragments are idempotent and out-of-order arrival is allowed.
func (r *Reassembler) Add(sender wire.PeerID, f *wire.Fragment) (*Completed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.FragmentTotal == 0 || f.FragmentIndex >= f.FragmentTotal {
		return nil, ErrIndexOutOfRange
	}

	r.evictExpiredLocked()

	key := Key{Sender: sender, MessageID: f.MessageID}
	e, ok := r.table[key]
	if !ok {
		e = &entry{
			total:        f.FragmentTotal,
			originalSize: f.OriginalSize,
			originalType: f.OriginalType,
			received:     make(map[uint16][]byte),
			deadline:     r.now().Add(r.cfg.Deadline),
		}
		r.table[key] = e
	}

	if f.FragmentTotal != e.total || f.OriginalSize != e.originalSize {
		delete(r.table, key)
		r.usedBytes -= e.bytes
		return nil, ErrTotalMismatch
	}

	if _, dup := e.received[f.FragmentIndex]; !dup {
		e.received[f.FragmentIndex] = f.Data
		e.bytes += len(f.Data)
		r.usedBytes += len(f.Data)
	}

	r.evictOverBudgetLocked()

	if len(e.received) != int(e.total) {
		return nil, nil
	}

	payload := make([]byte, 0, e.originalSize)
	for i := uint16(0); i < e.total; i++ {
		payload = append(payload, e.received[i]...)
	}
	delete(r.table, key)
	r.usedBytes -= e.bytes

	if uint32(len(payload)) != e.originalSize {
		return nil, ErrSizeMismatch
	}
	return &Completed{OriginalType: e.originalType, Payload: payload}, nil
}

// evictExpiredLocked removes reassemblies whose deadline has passed.
// Callers must hold mu.
func (r *Reassembler) evictExpiredLocked() {
	now := r.now()
	for k, e := range r.table {
		if now.After(e.deadline) {
			delete(r.table, k)
			r.usedBytes -= e.bytes
			r.Expired++
		}
	}
}

// evictOverBudgetLocked drops the oldest-deadline reassemblies until
// total accumulated bytes is back under the memory budget. Callers must
// hold mu.
func (r *Reassembler) evictOverBudgetLocked() {
	for r.cfg.MemoryBudget > 0 && r.usedBytes > r.cfg.MemoryBudget {
		var oldestKey Key
		var oldest *entry
		for k, e := range r.table {
			if oldest == nil || e.deadline.Before(oldest.deadline) {
				oldestKey, oldest = k, e
			}
		}
		if oldest == nil {
			return
		}
		delete(r.table, oldestKey)
		r.usedBytes -= oldest.bytes
		r.Expired++
	}
}

// Pending reports the number of in-progress reassemblies.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// EvictExpired drops every reassembly past its deadline. Add already does
// this lazily on each new fragment; this is for a peer that stops sending
// mid-message and never triggers that path again, so the partial entry
// would otherwise sit in the table until the process restarts.
func (r *Reassembler) EvictExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictExpiredLocked()
}
