package delivery

import (
	"sync"
	"time"

	"github.com/noisymesh/bitchat/store"
)

// Status is a tracked message's lifecycle stage. Transitions only move
// forward along the allowed edges; Confirmed, Failed, and Cancelled are
// terminal.
type Status int

const (
	Pending Status = iota
	Sent
	Confirmed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Sent:
		return "Sent"
	case Confirmed:
		return "Confirmed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s Status) terminal() bool {
	return s == Confirmed || s == Failed || s == Cancelled
}

// BackoffPolicy computes next_delay = min(initial * multiplier^attempt,
// max_delay).
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy returns reasonable production retry bounds.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:    2 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   60 * time.Second,
		MaxRetries: 5,
	}
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// TrackedMessage is one outbound message awaiting acknowledgement.
type TrackedMessage struct {
	ID           store.MessageID
	Status       Status
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
	TerminalAt   time.Time
}

// Tracker owns every in-flight TrackedMessage.
type Tracker struct {
	mu sync.Mutex

	backoff             BackoffPolicy
	confirmationRetention time.Duration
	now                 func() time.Time

	messages map[store.MessageID]*TrackedMessage

	totalAttempts int
	confirmedCount int
	failedCount    int
}

// NewTracker constructs an empty Tracker.
func NewTracker(backoff BackoffPolicy, confirmationRetention time.Duration) *Tracker {
	return &Tracker{
		backoff:               backoff,
		confirmationRetention: confirmationRetention,
		now:                   time.Now,
		messages:              make(map[store.MessageID]*TrackedMessage),
	}
}

// Track enters a new message as Pending.
func (t *Tracker) Track(id store.MessageID) *TrackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	tm := &TrackedMessage{ID: id, Status: Pending, CreatedAt: now}
	t.messages[id] = tm
	return tm
}

// MarkSent transitions id to Sent and schedules its first retry.
func (t *Tracker) MarkSent(id store.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.messages[id]
	if !ok {
		return ErrNotTracked
	}
	if tm.Status.terminal() {
		return ErrAlreadyTerminal
	}
	tm.Status = Sent
	tm.NextRetryAt = t.now().Add(t.backoff.delay(0))
	return nil
}

// ConfirmDelivery transitions id to Confirmed on receipt of a
// DeliveryAck.
func (t *Tracker) ConfirmDelivery(id store.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.messages[id]
	if !ok {
		return ErrNotTracked
	}
	if tm.Status.terminal() {
		return ErrAlreadyTerminal
	}
	tm.Status = Confirmed
	tm.TerminalAt = t.now()
	t.confirmedCount++
	return nil
}

// Cancel transitions any non-terminal message to Cancelled.
func (t *Tracker) Cancel(id store.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.messages[id]
	if !ok {
		return ErrNotTracked
	}
	if tm.Status.terminal() {
		return ErrAlreadyTerminal
	}
	tm.Status = Cancelled
	tm.TerminalAt = t.now()
	return nil
}

// DueRetries returns the ids of every Sent message whose next_retry_at
// has elapsed, advancing attempts and rescheduling — or, once
// max_retries is exceeded, transitioning the message to Failed. Callers
// re-emit a SendPacket effect for each returned id.
func (t *Tracker) DueRetries() []store.MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var due []store.MessageID
	for id, tm := range t.messages {
		if tm.Status != Sent || now.Before(tm.NextRetryAt) {
			continue
		}
		if tm.Attempts >= t.backoff.MaxRetries {
			tm.Status = Failed
			tm.TerminalAt = now
			t.failedCount++
			continue
		}
		tm.Attempts++
		t.totalAttempts++
		tm.NextRetryAt = now.Add(t.backoff.delay(tm.Attempts))
		due = append(due, id)
	}
	return due
}

// GC removes Confirmed and Failed messages older than
// confirmation_retention past their terminal transition.
func (t *Tracker) GC() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for id, tm := range t.messages {
		if !tm.Status.terminal() || tm.Status == Cancelled {
			continue
		}
		if now.Sub(tm.TerminalAt) >= t.confirmationRetention {
			delete(t.messages, id)
			removed++
		}
	}
	return removed
}

// Get returns the TrackedMessage for id, if any.
func (t *Tracker) Get(id store.MessageID) (*TrackedMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.messages[id]
	return tm, ok
}

// Stats is the delivery tracker's exposed statistics.
type Stats struct {
	Pending, Sent, Confirmed, Failed, Cancelled int
	TotalAttempts                               int
	SuccessRate                                 float64
	AverageAttempts                             float64
}

// Stats computes the tracker's current statistics snapshot.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	var attemptSum int
	for _, tm := range t.messages {
		switch tm.Status {
		case Pending:
			s.Pending++
		case Sent:
			s.Sent++
		case Confirmed:
			s.Confirmed++
		case Failed:
			s.Failed++
		case Cancelled:
			s.Cancelled++
		}
		attemptSum += tm.Attempts
	}
	s.TotalAttempts = t.totalAttempts
	if terminal := t.confirmedCount + t.failedCount; terminal > 0 {
		s.SuccessRate = float64(t.confirmedCount) / float64(terminal)
	}
	if n := len(t.messages); n > 0 {
		s.AverageAttempts = float64(attemptSum) / float64(n)
	}
	return s
}
