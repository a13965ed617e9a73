package domain

import "time"

// WalkSession is the single safety session a device can run. The deadline is
// the sole source of truth for remaining time; it never decrements in memory.
type WalkSession struct {
	SessionID          string // issued by the backend on arm
	DurationMinutes    int
	Deadline           time.Time
	AlertGraceDeadline time.Time
	Status             Status
	LastFix            *Fix
}

// Status is the lifecycle state of a walk session. It only advances forward:
// idle -> arming -> active -> {alerting|ended} -> idle. A failed arm returns
// to idle without passing through active.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusArming   Status = "arming"
	StatusActive   Status = "active"
	StatusAlerting Status = "alerting"
	StatusEnded    Status = "ended"
)

// Fix is a single location reading.
type Fix struct {
	Lat            float64
	Lng            float64
	AccuracyMeters float64
}

// Duration bounds for a walk, in minutes. Requests outside the bounds are
// clamped, never rejected.
const (
	MinMinutes = 1
	MaxMinutes = 300
)

// ClampDuration clamps a requested duration to the allowed bounds.
func ClampDuration(minutes int) int {
	if minutes < MinMinutes {
		return MinMinutes
	}
	if minutes > MaxMinutes {
		return MaxMinutes
	}
	return minutes
}

// SessionRecord is the persisted slice of a session: exactly what survives a
// process restart and drives recovery.
type SessionRecord struct {
	SessionID string
	Deadline  time.Time
}
