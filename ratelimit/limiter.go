package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"github.com/noisymesh/bitchat/wire"
)

// Class is the closed set of rate-limited event kinds.
type Class int

const (
	ClassMessage Class = iota
	ClassConnection
)

// Bound pairs a global cap with a per-peer cap for one Class, both
// measured over the same sliding window.
type Bound struct {
	Window   time.Duration
	GlobalCap int
	PeerCap   int
}

// Config configures the Limiter per event class.
type Config struct {
	Classes map[Class]Bound

	// MaxTrackedPeers bounds the per-peer bookkeeping table; beyond it
	// the least-recently-active peer entry is evicted. Its in-window
	// events still count against the global cap until they age out.
	MaxTrackedPeers int
}

// DefaultConfig returns reasonable production caps.
func DefaultConfig() Config {
	return Config{
		Classes: map[Class]Bound{
			ClassMessage:    {Window: 10 * time.Second, GlobalCap: 500, PeerCap: 20},
			ClassConnection: {Window: 60 * time.Second, GlobalCap: 50, PeerCap: 5},
		},
		MaxTrackedPeers: 1000,
	}
}

type window struct {
	events *list.List // of time.Time, oldest-first
}

func newWindow() *window { return &window{events: list.New()} }

func (w *window) evictBefore(cutoff time.Time) {
	for e := w.events.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			w.events.Remove(e)
		} else {
			break
		}
		e = next
	}
}

type peerState struct {
	windows      map[Class]*window
	lastActiveAt time.Time
	lruElem      *list.Element
}

// Limiter enforces a sliding-window cap over window_duration per class,
// with both a global cap and a per-peer cap. Old events are lazily
// evicted on every check.
type Limiter struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	global map[Class]*window
	peers  map[wire.PeerID]*peerState

	lru *list.List // of wire.PeerID, least-recently-active at front
}

// NewLimiter constructs a Limiter bound to cfg.
func NewLimiter(cfg Config) *Limiter {
	global := make(map[Class]*window, len(cfg.Classes))
	for class := range cfg.Classes {
		global[class] = newWindow()
	}
	return &Limiter{
		cfg:    cfg,
		now:    time.Now,
		global: global,
		peers:  make(map[wire.PeerID]*peerState),
		lru:    list.New(),
	}
}

// CheckAllowed reports whether an event of class for peer may be
// admitted right now, without recording it. Call Record after the
// caller actually admits the event.
func (l *Limiter) CheckAllowed(peer wire.PeerID, class Class) (bool, Reason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bound, ok := l.cfg.Classes[class]
	if !ok {
		return true, ReasonNone
	}
	now := l.now()
	cutoff := now.Add(-bound.Window)

	gw := l.global[class]
	gw.evictBefore(cutoff)
	if bound.GlobalCap > 0 && gw.events.Len() >= bound.GlobalCap {
		return false, ReasonGlobalCap
	}

	ps := l.peers[peer]
	if ps != nil {
		if pw := ps.windows[class]; pw != nil {
			pw.evictBefore(cutoff)
			if bound.PeerCap > 0 && pw.events.Len() >= bound.PeerCap {
				return false, ReasonPeerCap
			}
		}
	}
	return true, ReasonNone
}

// Record registers an admitted event of class for peer, touching the
// peer's LRU position and evicting the least-recently-active tracked
// peer if the table is over MaxTrackedPeers.
func (l *Limiter) Record(peer wire.PeerID, class Class) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if _, ok := l.cfg.Classes[class]; ok {
		l.global[class].events.PushBack(now)
	}

	ps, ok := l.peers[peer]
	if !ok {
		ps = &peerState{windows: make(map[Class]*window)}
		l.peers[peer] = ps
		ps.lruElem = l.lru.PushBack(peer)
		l.evictOverCapacityLocked()
	} else {
		l.lru.MoveToBack(ps.lruElem)
	}
	ps.lastActiveAt = now

	pw, ok := ps.windows[class]
	if !ok {
		pw = newWindow()
		ps.windows[class] = pw
	}
	pw.events.PushBack(now)
}

// evictOverCapacityLocked drops the least-recently-active tracked peer
// once the table exceeds MaxTrackedPeers. Callers must hold mu.
func (l *Limiter) evictOverCapacityLocked() {
	if l.cfg.MaxTrackedPeers <= 0 {
		return
	}
	for len(l.peers) > l.cfg.MaxTrackedPeers {
		front := l.lru.Front()
		if front == nil {
			return
		}
		peer := front.Value.(wire.PeerID)
		l.lru.Remove(front)
		delete(l.peers, peer)
	}
}

// TrackedPeers reports how many peers currently have bookkeeping state.
func (l *Limiter) TrackedPeers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}
