// Package supervisor wires together an Engine, its Inbox, and a set of
// registered Transports into one cooperatively-shutdown process: it
// spawns the Engine's Run loop, a delivery-polling goroutine per
// transport, starts each transport with restart backoff, and aggregates
// every goroutine's terminal error on shutdown. Modeled on the
// reference benchmark's signal-driven shutdown (os/signal + context
// cancellation) and its use of hashicorp/go-multierror to aggregate
// multiple listeners' close errors.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/noisymesh/bitchat/engine"
	"github.com/noisymesh/bitchat/transport"
	"github.com/noisymesh/bitchat/transport/mock"
	"github.com/noisymesh/bitchat/transport/nostr"
	"github.com/noisymesh/bitchat/wire"
)

// RetryPolicy bounds how aggressively a failed transport is restarted.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy tries to start a transport at most 5 times in all
// (the first attempt plus up to 4 restarts) with doubling backoff, capped
// at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

// schedulerTick is how often the Supervisor wakes the Engine's Timer
// stream. Every Timer variant scans the Engine's own state for what's
// actually due (due retries, expired sessions, expired reassemblies,
// peers overdue for rekey), so the scheduler itself only needs to tick;
// it carries no state of its own.
const schedulerTick = time.Second

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// registeredTransport pairs a Transport with the kind string the Engine
// uses to address it in effects.
type registeredTransport struct {
	kind string
	t    transport.Transport
}

// Supervisor owns the Engine's Run loop and the lifecycle of every
// Transport feeding it. It is the single place that starts goroutines:
// the Engine itself never spawns one.
type Supervisor struct {
	log    *slog.Logger
	retry  RetryPolicy
	engine *engine.Engine
	inbox  *engine.Inbox

	mu         sync.Mutex
	transports []registeredTransport
}

// New constructs a Supervisor around an already-built Engine and its
// Inbox. Callers register transports with AddTransport before calling
// Run.
func New(e *engine.Engine, inbox *engine.Inbox, retry RetryPolicy, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{log: log, retry: retry, engine: e, inbox: inbox}
}

// AddTransport registers t with the Engine's transport-selection policy
// and with this Supervisor's lifecycle management. Call before Run.
func (s *Supervisor) AddTransport(t transport.Transport) {
	caps := t.Capabilities()
	s.engine.RegisterTransport(caps)

	s.mu.Lock()
	s.transports = append(s.transports, registeredTransport{kind: caps.Kind, t: t})
	s.mu.Unlock()
}

// Run starts the Engine loop and every registered transport, blocking
// until ctx is cancelled or inbox.Shutdown is closed. It returns the
// aggregated error from every transport's final Start/Stop attempt, or
// nil if everything shut down cleanly.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.engine.Run(ctx, s.inbox)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runScheduler(ctx)
	}()

	var errsMu sync.Mutex
	var errs *multierror.Error

	s.mu.Lock()
	regs := append([]registeredTransport(nil), s.transports...)
	s.mu.Unlock()

	for _, r := range regs {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runTransport(ctx, r); err != nil {
				errsMu.Lock()
				errs = multierror.Append(errs, err)
				errsMu.Unlock()
			}
		}()
	}

	wg.Wait()
	if errs != nil {
		return errs.ErrorOrNil()
	}
	return nil
}

// runScheduler drives the Engine's Timer stream every schedulerTick until
// ctx is cancelled. It has no view into session/delivery/fragment state
// itself — that lives behind the Engine's single-writer Run goroutine —
// so it fires every tick-style Timer unconditionally and lets HandleTimer
// decide, per variant, what (if anything) is actually due.
func (s *Supervisor) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			engine.PushTimer(s.inbox, engine.TimerRetryDue{At: now})
			engine.PushTimer(s.inbox, engine.TimerHandshakeTimeout{At: now})
			engine.PushTimer(s.inbox, engine.TimerSessionIdle{At: now})
			engine.PushTimer(s.inbox, engine.TimerReassemblyTimeout{At: now})
			engine.PushTimer(s.inbox, engine.TimerRekeyDue{})
		}
	}
}

// runTransport starts r.t, restarting it with backoff if it goes
// inactive, and polls it for inbound deliveries until ctx is done. It
// returns the last Stop error, if any, once ctx is cancelled.
func (s *Supervisor) runTransport(ctx context.Context, r registeredTransport) error {
	attempt := 0
	for {
		if err := r.t.Start(ctx); err != nil {
			engine.PushEvent(s.inbox, engine.EventTransportError{Transport: r.kind, Reason: err.Error()})
			attempt++
			if attempt >= s.retry.MaxAttempts {
				s.log.Error("transport exhausted restart attempts, giving up", "transport", r.kind, "attempts", attempt)
				return err
			}
			s.log.Warn("transport failed to start, retrying", "transport", r.kind, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retry.delay(attempt)):
				continue
			}
		}
		attempt = 0
		break
	}

	stop := s.pollTransport(ctx, r)

	<-ctx.Done()
	stop()
	return r.t.Stop()
}

// pollTransport starts a kind-specific delivery-draining goroutine and
// returns a function that stops it. mock and nostr transports buffer
// inbound frames for polling; a ble.Transport with no backend attached
// has no delivery surface to poll yet, so it is started and stopped but
// never polled.
func (s *Supervisor) pollTransport(ctx context.Context, r registeredTransport) func() {
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	switch t := r.t.(type) {
	case *mock.Mock:
		go s.pollMock(ctx, done, r.kind, t)
	case *nostr.Transport:
		go s.pollNostr(ctx, done, r.kind, t)
	default:
		// No drainable inbox: discovery-capable transports (e.g. ble) push
		// their own PeerDiscovered events once a real backend is wired in.
	}
	return stop
}

func (s *Supervisor) pollMock(ctx context.Context, done <-chan struct{}, kind string, t *mock.Mock) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			for _, d := range t.Drain() {
				engine.PushEvent(s.inbox, engine.EventBitchatPacketReceived{
					Sender:    d.Sender,
					Transport: kind,
					Raw:       d.Raw,
				})
			}
		}
	}
}

func (s *Supervisor) pollNostr(ctx context.Context, done <-chan struct{}, kind string, t *nostr.Transport) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			for _, d := range t.Drain() {
				// The relay has no per-frame sender header of its own; the
				// sender lives in the wire envelope, so it's read here
				// rather than re-plumbing transport.Delivery with a field
				// every other transport already gets for free from its
				// medium.
				p, err := wire.Decode(d.Raw)
				if err != nil {
					s.log.Warn("dropping undecodable nostr frame", "error", err)
					continue
				}
				engine.PushEvent(s.inbox, engine.EventBitchatPacketReceived{
					Sender:    p.SenderID,
					Transport: kind,
					Raw:       d.Raw,
				})
			}
		}
	}
}
