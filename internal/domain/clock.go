package domain

import "time"

// DeadlineFrom converts a duration into an absolute deadline anchored at start.
func DeadlineFrom(start time.Time, minutes int) time.Time {
	return start.Add(time.Duration(minutes) * time.Minute)
}

// GraceDeadline returns the moment past the nominal deadline at which the
// alert transition actually fires.
func GraceDeadline(deadline time.Time, grace time.Duration) time.Time {
	return deadline.Add(grace)
}

// RemainingSeconds returns the whole seconds left until the deadline,
// clamped to zero. The value is floored so the display reaches 0 only when
// less than a full second remains.
func RemainingSeconds(now, deadline time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
