package notify

import (
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Notify(title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func TestPlanReminders(t *testing.T) {
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		minutes   int
		wantSlots []int
	}{
		{1, nil},                                    // minimum walk: no reminders at all
		{2, []int{SlotOneMinute}},                   // final warning only
		{5, []int{SlotOneMinute}},                   // five-minute slot needs duration > 5
		{6, []int{SlotFiveMinutes, SlotOneMinute}},  // both
		{60, []int{SlotFiveMinutes, SlotOneMinute}}, // both
	}

	for _, tt := range tests {
		got := PlanReminders(deadline, tt.minutes)
		if len(got) != len(tt.wantSlots) {
			t.Errorf("duration %d: got %d reminders, want %d", tt.minutes, len(got), len(tt.wantSlots))
			continue
		}
		for i, r := range got {
			if r.Slot != tt.wantSlots[i] {
				t.Errorf("duration %d: reminder %d slot = %d, want %d", tt.minutes, i, r.Slot, tt.wantSlots[i])
			}
		}
	}
}

func TestPlanRemindersAnchoredToDeadline(t *testing.T) {
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got := PlanReminders(deadline, 30)
	if len(got) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(got))
	}
	if !got[0].At.Equal(deadline.Add(-5 * time.Minute)) {
		t.Errorf("five-minute reminder at %v", got[0].At)
	}
	if !got[1].At.Equal(deadline.Add(-1 * time.Minute)) {
		t.Errorf("one-minute reminder at %v", got[1].At)
	}
}

func TestSchedulerFires(t *testing.T) {
	n := &recordingNotifier{}
	s := NewScheduler(n)

	// Anchor the deadline so the one-minute slot lands a few milliseconds out.
	s.now = func() time.Time { return time.Now() }
	deadline := time.Now().Add(time.Minute + 50*time.Millisecond)
	s.Schedule(deadline, 2)
	defer s.CancelAll()

	deadlineFor := time.After(2 * time.Second)
	for {
		n.mu.Lock()
		fired := len(n.titles)
		n.mu.Unlock()
		if fired == 1 {
			return
		}
		select {
		case <-deadlineFor:
			t.Fatalf("reminder did not fire, got %d notifications", fired)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduleIdempotent(t *testing.T) {
	n := &recordingNotifier{}
	s := NewScheduler(n)
	deadline := time.Now().Add(time.Hour)

	// Re-arming replaces the slots instead of stacking them.
	s.Schedule(deadline, 30)
	s.Schedule(deadline, 30)

	s.mu.Lock()
	armed := len(s.timers)
	s.mu.Unlock()
	if armed != 2 {
		t.Fatalf("expected 2 armed slots after re-arm, got %d", armed)
	}

	s.CancelAll()
	s.CancelAll() // cancelling nothing is a no-op

	s.mu.Lock()
	armed = len(s.timers)
	s.mu.Unlock()
	if armed != 0 {
		t.Fatalf("expected 0 armed slots after cancel, got %d", armed)
	}
}

func TestSchedulePastSlotsSkipped(t *testing.T) {
	n := &recordingNotifier{}
	s := NewScheduler(n)

	// Deadline 30s out: both slots are already in the past.
	s.Schedule(time.Now().Add(30*time.Second), 30)

	s.mu.Lock()
	armed := len(s.timers)
	s.mu.Unlock()
	if armed != 0 {
		t.Fatalf("expected no armed slots for past reminder times, got %d", armed)
	}
}
