package domain

import (
	"context"
	"time"
)

// SessionStore is the durable single-slot persistence for the active session.
// Each implementation (SQLite, in-memory) satisfies the same contract so the
// backing store is swappable. The controller is the only writer.
type SessionStore interface {
	// Save persists the record and marks it active. The active flag is
	// written last so a crash mid-write never leaves it set with missing
	// companion fields.
	Save(ctx context.Context, rec SessionRecord) error
	// Load returns the active record, or nil when no session is persisted.
	// A torn write (active flag set without its companions) loads as nil.
	Load(ctx context.Context) (*SessionRecord, error)
	// Clear removes the persisted session. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}

// LocationProvider wraps the platform's one-shot and continuous position
// capabilities.
type LocationProvider interface {
	// GetFix blocks until a single fix is available or ctx expires.
	GetFix(ctx context.Context) (Fix, error)
	// Watch delivers fixes to cb until the returned handle is stopped.
	// Only one watch may be active per provider consumer.
	Watch(cb func(Fix)) (WatchHandle, error)
}

// WatchHandle tears down a continuous location watch. Stop is idempotent.
type WatchHandle interface {
	Stop()
}

// ReminderScheduler arms local, time-anchored notifications relative to a
// deadline. Implementations on hosts without notification capability are
// no-ops with the same interface.
type ReminderScheduler interface {
	// Schedule arms the fixed reminder slots for the deadline, cancelling
	// any previously scheduled ones first.
	Schedule(deadline time.Time, durationMinutes int)
	// CancelAll cancels all armed reminders. Cancelling reminders that were
	// never armed is a no-op.
	CancelAll()
}

// TransportChannel is a persistent connection used only to emit location
// updates. Delivery is fire-and-forget; reconnection is the channel's own
// concern.
type TransportChannel interface {
	EmitLocation(sessionID string, lat, lng float64)
	Close() error
}

// WalkBackend is the remote service that owns session creation, mark-safe,
// and the emergency contact list.
type WalkBackend interface {
	// StartSession creates the session server-side and returns its id.
	StartSession(ctx context.Context, durationMinutes int, startLat, startLon float64) (string, error)
	// MarkSafe reports a safe check-in. Best-effort from the caller's view.
	MarkSafe(ctx context.Context, sessionID string) error
	// ContactCount returns the caller's current number of emergency contacts.
	ContactCount(ctx context.Context) (int, error)
}
