// Package notify schedules the local reminder notifications that fire before
// a walk's deadline.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Reminder is one planned local notification, anchored to the deadline.
type Reminder struct {
	Slot  int // fixed notification slot, stable across re-arms
	Title string
	Body  string
	At    time.Time
}

// Notification slots. Re-arming always replaces both.
const (
	SlotFiveMinutes = 1
	SlotOneMinute   = 2
)

// PlanReminders computes the reminder set for a deadline. The five-minute
// warning only exists for walks longer than five minutes, the one-minute
// final warning only for walks of at least two, so a one-minute walk gets no
// reminders at all.
func PlanReminders(deadline time.Time, durationMinutes int) []Reminder {
	var reminders []Reminder

	if durationMinutes > 5 {
		reminders = append(reminders, Reminder{
			Slot:  SlotFiveMinutes,
			Title: "SafeWalk: 5 Mins Left",
			Body:  "You have 5 minutes to reach your destination.",
			At:    deadline.Add(-5 * time.Minute),
		})
	}

	if durationMinutes >= 2 {
		reminders = append(reminders, Reminder{
			Slot:  SlotOneMinute,
			Title: "FINAL WARNING",
			Body:  "1 minute left! Mark safe now or contacts will be alerted.",
			At:    deadline.Add(-1 * time.Minute),
		})
	}

	return reminders
}

// Notifier delivers a single local notification.
type Notifier interface {
	Notify(title, body string) error
}

// Scheduler arms timer-backed reminders against a Notifier.
type Scheduler struct {
	notifier Notifier
	now      func() time.Time

	mu     sync.Mutex
	timers map[int]*time.Timer
}

// NewScheduler creates a Scheduler delivering through notifier.
func NewScheduler(notifier Notifier) *Scheduler {
	return &Scheduler{
		notifier: notifier,
		now:      time.Now,
		timers:   make(map[int]*time.Timer),
	}
}

// Schedule arms the reminder slots for the deadline. Previously armed slots
// are cancelled first, so re-arming is idempotent. Slots already in the past
// are skipped.
func (s *Scheduler) Schedule(deadline time.Time, durationMinutes int) {
	s.CancelAll()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range PlanReminders(deadline, durationMinutes) {
		wait := r.At.Sub(s.now())
		if wait <= 0 {
			continue
		}
		r := r
		s.timers[r.Slot] = time.AfterFunc(wait, func() {
			if err := s.notifier.Notify(r.Title, r.Body); err != nil {
				slog.Warn("deliver reminder", "slot", r.Slot, "error", err)
			}
		})
	}
}

// CancelAll stops every armed reminder. Cancelling when nothing is armed is
// a no-op.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slot, t := range s.timers {
		t.Stop()
		delete(s.timers, slot)
	}
}

// Noop is the ReminderScheduler for hosts without notification capability.
type Noop struct{}

func (Noop) Schedule(time.Time, int) {}
func (Noop) CancelAll()              {}
