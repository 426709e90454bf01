package engine

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/holiman/bloomfilter/v2"

	"github.com/noisymesh/bitchat/wire"
)

// relayFilterBits and relayFilterHashes pin the Open Question in spec §9
// ("Relay loop-detection bloom-filter parameters ... are not fixed;
// specify minima that bound false-positive probability at <=1e-4 for
// 1000 in-flight relays"): m = ceil(-n*ln(p)/(ln2)^2) for n=1000,
// p=1e-4 is ~19171 bits, and k = round((m/n)*ln2) is 13.
const (
	relayFilterBits   = 19171
	relayFilterHashes = 13
)

// hashValue adapts a precomputed uint64 to hash.Hash64, the interface
// holiman/bloomfilter/v2's Filter.Add/Contains expect. The filter only
// ever reads Sum64 from it; Write/Sum/Reset/Size/BlockSize are unused
// stubs required to satisfy hash.Hash.
type hashValue uint64

func (h hashValue) Write(p []byte) (int, error) { return len(p), nil }
func (h hashValue) Sum(b []byte) []byte         { return b }
func (h hashValue) Reset()                      {}
func (h hashValue) Size() int                   { return 8 }
func (h hashValue) BlockSize() int               { return 1 }
func (h hashValue) Sum64() uint64               { return uint64(h) }

// relayFilter breaks mesh-relay loops: a packet whose (sender, message
// content) has already been relayed is not re-relayed. It is replaced by
// an empty filter after every resetEach (1000) newly recorded relays
// rather than grown unboundedly, since a bloom filter only ever saturates.
type relayFilter struct {
	filter    *bloomfilter.Filter
	resetEach int // relays seen before the next Add triggers a reset
	seenSince int
}

func newRelayFilter() *relayFilter {
	f, err := bloomfilter.New(relayFilterBits, relayFilterHashes)
	if err != nil {
		// New only fails on a zero m or k, both of which are fixed
		// non-zero constants above; this path is unreachable.
		panic(err)
	}
	return &relayFilter{filter: f, resetEach: 1000}
}

func relayKey(sender wire.PeerID, payload []byte) hashValue {
	h := fnv.New64a()
	h.Write(sender[:])
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	h.Write(lenBuf[:])
	h.Write(payload)
	return hashValue(h.Sum64())
}

// seen reports whether (sender, payload) has already been relayed, and
// marks it as relayed for next time.
func (r *relayFilter) seen(sender wire.PeerID, payload []byte) bool {
	key := relayKey(sender, payload)
	if r.filter.Contains(key) {
		return true
	}
	r.filter.Add(key)
	r.seenSince++
	if r.seenSince >= r.resetEach {
		f, err := bloomfilter.New(relayFilterBits, relayFilterHashes)
		if err == nil {
			r.filter = f
		}
		r.seenSince = 0
	}
	return false
}
