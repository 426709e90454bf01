package delivery

import (
	"testing"
	"time"

	"github.com/noisymesh/bitchat/store"
)

func testID(b byte) store.MessageID {
	var id store.MessageID
	id[0] = b
	return id
}

func TestTrackerHappyPath(t *testing.T) {
	tr := NewTracker(DefaultBackoffPolicy(), time.Minute)
	id := testID(1)
	tr.Track(id)

	tm, _ := tr.Get(id)
	if tm.Status != Pending {
		t.Fatalf("initial status = %v, want Pending", tm.Status)
	}

	if err := tr.MarkSent(id); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	tm, _ = tr.Get(id)
	if tm.Status != Sent {
		t.Fatalf("status after MarkSent = %v, want Sent", tm.Status)
	}

	if err := tr.ConfirmDelivery(id); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	tm, _ = tr.Get(id)
	if tm.Status != Confirmed {
		t.Fatalf("status after ConfirmDelivery = %v, want Confirmed", tm.Status)
	}
}

func TestTrackerRejectsTransitionsAfterTerminal(t *testing.T) {
	tr := NewTracker(DefaultBackoffPolicy(), time.Minute)
	id := testID(2)
	tr.Track(id)
	_ = tr.MarkSent(id)
	_ = tr.ConfirmDelivery(id)

	if err := tr.ConfirmDelivery(id); err != ErrAlreadyTerminal {
		t.Fatalf("double-confirm: got %v, want ErrAlreadyTerminal", err)
	}
	if err := tr.Cancel(id); err != ErrAlreadyTerminal {
		t.Fatalf("cancel after confirm: got %v, want ErrAlreadyTerminal", err)
	}
}

func TestTrackerRetriesThenFails(t *testing.T) {
	policy := BackoffPolicy{Initial: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, MaxRetries: 2}
	tr := NewTracker(policy, time.Minute)
	fakeNow := time.Now()
	tr.now = func() time.Time { return fakeNow }

	id := testID(3)
	tr.Track(id)
	_ = tr.MarkSent(id)

	// Not due yet.
	if due := tr.DueRetries(); len(due) != 0 {
		t.Fatalf("DueRetries fired before the scheduled delay")
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	due := tr.DueRetries()
	if len(due) != 1 || due[0] != id {
		t.Fatalf("DueRetries = %v, want [%v] after first delay elapsed", due, id)
	}
	tm, _ := tr.Get(id)
	if tm.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", tm.Attempts)
	}

	fakeNow = fakeNow.Add(5 * time.Second)
	due = tr.DueRetries()
	if len(due) != 1 {
		t.Fatalf("DueRetries = %v, want exactly one more retry", due)
	}
	tm, _ = tr.Get(id)
	if tm.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", tm.Attempts)
	}

	fakeNow = fakeNow.Add(20 * time.Second)
	due = tr.DueRetries()
	if len(due) != 0 {
		t.Fatalf("DueRetries returned %v after exceeding max_retries, want none", due)
	}
	tm, _ = tr.Get(id)
	if tm.Status != Failed {
		t.Fatalf("status after exhausting retries = %v, want Failed", tm.Status)
	}
}

func TestTrackerGCRemovesOldTerminalMessages(t *testing.T) {
	tr := NewTracker(DefaultBackoffPolicy(), 5*time.Second)
	fakeNow := time.Now()
	tr.now = func() time.Time { return fakeNow }

	confirmed := testID(4)
	cancelled := testID(5)
	tr.Track(confirmed)
	tr.Track(cancelled)
	_ = tr.MarkSent(confirmed)
	_ = tr.ConfirmDelivery(confirmed)
	_ = tr.Cancel(cancelled)

	if removed := tr.GC(); removed != 0 {
		t.Fatalf("GC removed %d before retention elapsed", removed)
	}

	fakeNow = fakeNow.Add(10 * time.Second)
	removed := tr.GC()
	if removed != 1 {
		t.Fatalf("GC removed %d, want 1 (only the confirmed message)", removed)
	}
	if _, ok := tr.Get(confirmed); ok {
		t.Fatalf("confirmed message survived GC")
	}
	if _, ok := tr.Get(cancelled); !ok {
		t.Fatalf("cancelled message was garbage-collected, should only terminal-GC Confirmed/Failed")
	}
}

func TestTrackerStats(t *testing.T) {
	tr := NewTracker(DefaultBackoffPolicy(), time.Minute)
	a, b, c := testID(6), testID(7), testID(8)
	tr.Track(a)
	tr.Track(b)
	tr.Track(c)
	_ = tr.MarkSent(a)
	_ = tr.ConfirmDelivery(a)
	_ = tr.MarkSent(b)

	stats := tr.Stats()
	if stats.Confirmed != 1 || stats.Sent != 1 || stats.Pending != 1 {
		t.Fatalf("Stats = %+v, unexpected counts", stats)
	}
	if stats.SuccessRate != 1.0 {
		t.Fatalf("SuccessRate = %v, want 1.0", stats.SuccessRate)
	}
}
