package engine

import (
	"context"
)

// Inbox is the four typed streams Run selects over. The Supervisor owns
// these channels; transports and the scheduler write to Command/Event/
// Timer, Run writes to Effect/AppEvent, and closing Shutdown (or
// cancelling ctx) ends the loop.
type Inbox struct {
	Command  chan Command
	Event    chan Event
	Timer    chan Timer
	Shutdown chan struct{}

	Effect   chan Effect
	AppEvent chan AppEvent
}

// NewInbox allocates an Inbox sized per cfg, matching the bounded-channel
// policy: Command blocks the sender when full (backpressure on the
// frontend), Event drops only low-priority events under pressure (see
// isLowPriority), AppEvent drops non-critical events under pressure (see
// publish), Effect is sized for a broadcast fanout burst.
func NewInbox(cfg Config) *Inbox {
	return &Inbox{
		Command:  make(chan Command, cfg.CommandQueue),
		Event:    make(chan Event, cfg.EventQueue),
		Timer:    make(chan Timer, 8),
		Shutdown: make(chan struct{}),
		Effect:   make(chan Effect, cfg.EffectQueue),
		AppEvent: make(chan AppEvent, cfg.AppEventQueue),
	}
}

// isLowPriority reports whether ev may be dropped under Event-queue
// pressure rather than stalling the Engine. Packet delivery and
// connection-lifecycle events are never dropped; discovery chatter is.
func isLowPriority(ev Event) bool {
	_, ok := ev.(EventPeerDiscovered)
	return ok
}

// isCritical reports whether appEv must never be dropped under AppEvent-
// queue pressure, even at the cost of discarding an older, non-critical
// entry first.
func isCritical(appEv AppEvent) bool {
	switch appEv.(type) {
	case AppEventMessageReceived, AppEventSystemError:
		return true
	default:
		return false
	}
}

// Run drains inbox until ctx is cancelled or Shutdown is closed, feeding
// each input through the matching Handle* step and publishing its
// effects and app events. It is the only place the Engine's single-writer
// state is touched concurrently with transports and the frontend: every
// other access happens through this goroutine.
func (e *Engine) Run(ctx context.Context, inbox *Inbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-inbox.Shutdown:
			return
		case cmd := <-inbox.Command:
			effects, appEvents := e.HandleCommand(cmd)
			e.publish(ctx, inbox, effects, appEvents)
		case ev := <-inbox.Event:
			effects, appEvents := e.HandleEvent(ev)
			e.publish(ctx, inbox, effects, appEvents)
		case t := <-inbox.Timer:
			effects, appEvents := e.HandleTimer(t)
			e.publish(ctx, inbox, effects, appEvents)
		}
	}
}

// publish pushes effects and appEvents onto their outbound channels,
// applying the drop policy when a channel is full rather than ever
// blocking the Engine's single select loop.
func (e *Engine) publish(ctx context.Context, inbox *Inbox, effects []Effect, appEvents []AppEvent) {
	for _, eff := range effects {
		select {
		case inbox.Effect <- eff:
		case <-ctx.Done():
			return
		default:
			e.log.Warn("effect queue full, dropping", "kind", eff)
		}
	}
	for _, appEv := range appEvents {
		select {
		case inbox.AppEvent <- appEv:
			continue
		case <-ctx.Done():
			return
		default:
		}
		if !isCritical(appEv) {
			e.log.Warn("app event queue full, dropping non-critical event")
			continue
		}
		e.dropOldestNonCritical(inbox)
		select {
		case inbox.AppEvent <- appEv:
		default:
			e.log.Warn("app event queue full, dropping critical event")
		}
	}
}

// dropOldestNonCritical tries to make room for a critical app event by
// taking the entry at the front of the buffer: a non-critical entry is
// discarded, a critical one is put back at the end of the buffer and
// nothing is discarded. Entries behind the front are not examined, and no
// count of discarded events is kept. It never blocks.
func (e *Engine) dropOldestNonCritical(inbox *Inbox) {
	select {
	case dropped := <-inbox.AppEvent:
		if isCritical(dropped) {
			// Put it back: only non-critical entries are sacrificed. If the
			// queue is saturated with critical events there is nothing safe
			// to evict, so the newest critical event is dropped instead by
			// the caller.
			select {
			case inbox.AppEvent <- dropped:
			default:
			}
		}
	default:
	}
}

// PushEvent feeds ev into inbox, honoring the low-priority drop policy:
// discovery chatter is dropped under pressure rather than blocking the
// transport goroutine that produced it.
func PushEvent(inbox *Inbox, ev Event) {
	select {
	case inbox.Event <- ev:
	default:
		if !isLowPriority(ev) {
			inbox.Event <- ev
		}
	}
}

// PushTimer feeds t into inbox, dropping it if the Timer queue is still
// full from a previous tick: every Timer variant scans the Engine's own
// state for what's actually due, so a skipped tick is caught by the next
// one rather than worth blocking the scheduler goroutine over.
func PushTimer(inbox *Inbox, t Timer) {
	select {
	case inbox.Timer <- t:
	default:
	}
}
