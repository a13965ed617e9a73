// Package controller implements the safety session state machine: it arms,
// tracks, persists, recovers, and resolves one walk session, coordinating the
// location watch, the reminder scheduler, and the 1 Hz countdown tick.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/msomdec/safewalk/internal/domain"
)

// Config tunes the controller's timing. Unset fields take the defaults
// below; see each field for what counts as unset.
type Config struct {
	// Grace is the window past the nominal deadline before the alert state
	// is entered, absorbing tick-granularity slop. Zero is a valid setting
	// (alert exactly at the deadline); negative values take the default.
	Grace time.Duration
	// TickInterval is the countdown recomputation period.
	TickInterval time.Duration
	// FixTimeout bounds the one-shot fix acquisition during arming.
	FixTimeout time.Duration
	// AccuracyGateMeters gates location emission: fixes with worse accuracy
	// still update the local view but are not pushed. Zero disables the gate.
	AccuracyGateMeters float64
	// Now supplies wall-clock time; defaults to time.Now.
	Now func() time.Time
}

const (
	defaultGrace        = 10 * time.Second
	defaultTickInterval = time.Second
	defaultFixTimeout   = 30 * time.Second
)

// View is the observable session state exposed to the display layer,
// refreshed on every tick and every fix.
type View struct {
	Status           domain.Status
	RemainingSeconds int
	LastFix          *domain.Fix
	IsAlerting       bool
}

// Controller owns the single walk session of this device. All state mutation
// goes through its mutex; the tick runs in its own goroutine and is stopped
// synchronously on every end path.
type Controller struct {
	cfg       Config
	store     domain.SessionStore
	backend   domain.WalkBackend
	location  domain.LocationProvider
	reminders domain.ReminderScheduler
	transport domain.TransportChannel

	mu          sync.Mutex
	sess        *domain.WalkSession
	armInFlight bool
	tickStop    chan struct{}
	watch       domain.WatchHandle

	updates chan View
}

// New creates a Controller. Call Recover before accepting user actions so a
// session persisted by a previous process resumes or escalates correctly.
func New(store domain.SessionStore, backend domain.WalkBackend, location domain.LocationProvider,
	reminders domain.ReminderScheduler, transport domain.TransportChannel, cfg Config) *Controller {

	if cfg.Grace < 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = defaultFixTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		cfg:       cfg,
		store:     store,
		backend:   backend,
		location:  location,
		reminders: reminders,
		transport: transport,
		updates:   make(chan View, 16),
	}
}

// Updates returns the stream of view snapshots. Sends never block; a slow
// consumer misses intermediate frames, not the latest state (use View).
func (c *Controller) Updates() <-chan View {
	return c.updates
}

// View returns the current observable session state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Arm starts a new walk session: contact gate, one-shot fix, backend session
// creation, persistence, then watch + reminders + tick. Any failure rolls
// back to idle with nothing persisted.
func (c *Controller) Arm(ctx context.Context, durationMinutes int) error {
	durationMinutes = domain.ClampDuration(durationMinutes)

	c.mu.Lock()
	if c.armInFlight || c.sess != nil {
		c.mu.Unlock()
		return domain.ErrSessionActive
	}
	c.armInFlight = true
	c.mu.Unlock()

	// Contact gate: a safety session must always be alertable, so verify
	// freshly before any location or session work.
	count, err := c.backend.ContactCount(ctx)
	if err != nil {
		c.abortArm()
		return fmt.Errorf("verify contacts: %w", err)
	}
	if count == 0 {
		c.abortArm()
		return domain.ErrNoContacts
	}

	c.mu.Lock()
	c.sess = &domain.WalkSession{DurationMinutes: durationMinutes, Status: domain.StatusArming}
	c.publishLocked()
	c.mu.Unlock()

	fixCtx, cancel := context.WithTimeout(ctx, c.cfg.FixTimeout)
	fix, err := c.location.GetFix(fixCtx)
	cancel()
	if err != nil {
		c.abortArm()
		return fmt.Errorf("acquire fix: %w", err)
	}

	sessionID, err := c.backend.StartSession(ctx, durationMinutes, fix.Lat, fix.Lng)
	if err != nil {
		c.abortArm()
		return fmt.Errorf("start session: %w", err)
	}

	armTime := c.cfg.Now()
	deadline := domain.DeadlineFrom(armTime, durationMinutes)
	if err := c.store.Save(ctx, domain.SessionRecord{SessionID: sessionID, Deadline: deadline}); err != nil {
		c.abortArm()
		// Best effort: don't leave an orphaned server session counting down.
		if msErr := c.backend.MarkSafe(ctx, sessionID); msErr != nil {
			slog.Warn("release orphaned session", "session", sessionID, "error", msErr)
		}
		return fmt.Errorf("persist session: %w", err)
	}

	c.mu.Lock()
	c.sess = &domain.WalkSession{
		SessionID:          sessionID,
		DurationMinutes:    durationMinutes,
		Deadline:           deadline,
		AlertGraceDeadline: domain.GraceDeadline(deadline, c.cfg.Grace),
		Status:             domain.StatusActive,
		LastFix:            &fix,
	}
	c.armInFlight = false
	c.startTickLocked()
	c.startWatchLocked()
	c.publishLocked()
	c.mu.Unlock()

	c.reminders.Schedule(deadline, durationMinutes)

	slog.Info("session armed", "session", sessionID, "duration_minutes", durationMinutes, "deadline", deadline)
	return nil
}

// abortArm rolls a failed arm back to idle. Nothing was persisted.
func (c *Controller) abortArm() {
	c.mu.Lock()
	c.armInFlight = false
	c.sess = nil
	c.publishLocked()
	c.mu.Unlock()
}

// MarkSafe ends the session as a successful check-in. Local teardown happens
// regardless of the backend call's outcome; a returned error means only that
// the server may not have been informed.
func (c *Controller) MarkSafe(ctx context.Context) error {
	sessionID := c.currentSessionID()
	if sessionID == "" {
		// The session id may survive only in the store.
		rec, err := c.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if rec == nil {
			return nil // nothing to end; MarkSafe is idempotent
		}
		sessionID = rec.SessionID
	}

	if err := c.endLocal(ctx); err != nil {
		slog.Error("end local session", "session", sessionID, "error", err)
	}

	if err := c.backend.MarkSafe(ctx, sessionID); err != nil {
		slog.Warn("mark-safe not acknowledged", "session", sessionID, "error", err)
		return fmt.Errorf("server may not be informed: %w", err)
	}

	slog.Info("session marked safe", "session", sessionID)
	return nil
}

// Cancel ends the session. Safe to call repeatedly and from any state. The
// server has no cancel endpoint, so a session that has not yet alerted is
// released best-effort via mark-safe; left alone it would reach its deadline
// server-side and alert contacts about a walk the user called off. A session
// already alerting is torn down locally only (the alert is not retractable).
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	var sessionID string
	if c.sess != nil && c.sess.Status == domain.StatusActive {
		sessionID = c.sess.SessionID
	}
	c.mu.Unlock()

	if err := c.endLocal(ctx); err != nil {
		return err
	}

	if sessionID != "" {
		if err := c.backend.MarkSafe(ctx, sessionID); err != nil {
			slog.Warn("release cancelled session", "session", sessionID, "error", err)
		}
	}
	return nil
}

// Acknowledge dismisses a fired alert and returns to idle. The alert itself
// is not retractable; contacts were already notified by the backend, so no
// call is made.
func (c *Controller) Acknowledge(ctx context.Context) error {
	c.mu.Lock()
	alerting := c.sess != nil && c.sess.Status == domain.StatusAlerting
	c.mu.Unlock()
	if !alerting {
		return nil
	}
	return c.endLocal(ctx)
}

// Recover reconciles persisted state with wall-clock time on startup. A
// session whose deadline is still ahead resumes active with the tick and
// watch re-armed; one that expired while the process was away is immediately
// alerting, with no fresh grace window.
func (c *Controller) Recover(ctx context.Context) error {
	rec, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session store: %w", err)
	}
	if rec == nil {
		return nil
	}

	now := c.cfg.Now()
	remaining := domain.RemainingSeconds(now, rec.Deadline)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess = &domain.WalkSession{
		SessionID:          rec.SessionID,
		Deadline:           rec.Deadline,
		AlertGraceDeadline: domain.GraceDeadline(rec.Deadline, c.cfg.Grace),
	}

	if rec.Deadline.After(now) {
		c.sess.Status = domain.StatusActive
		c.startTickLocked()
		// The watch delivers a fresh fix asynchronously; no synchronous
		// re-acquisition and no second backend start call.
		c.startWatchLocked()
		slog.Info("session recovered", "session", rec.SessionID, "remaining_seconds", remaining)
	} else {
		c.sess.Status = domain.StatusAlerting
		slog.Warn("session expired while away, alerting", "session", rec.SessionID)
	}

	c.publishLocked()
	return nil
}

// endLocal is the shared teardown: stop the tick synchronously, stop the
// watch, cancel reminders, clear the store, reset to idle. A session still
// arming is left to Arm's own rollback.
func (c *Controller) endLocal(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil && c.sess.Status == domain.StatusArming {
		c.mu.Unlock()
		return nil
	}
	if c.sess != nil {
		c.stopTickLocked()
		c.stopWatchLocked()
		c.sess.Status = domain.StatusEnded
		c.publishLocked()
	}
	c.mu.Unlock()

	c.reminders.CancelAll()
	clearErr := c.store.Clear(ctx)

	c.mu.Lock()
	c.sess = nil
	c.publishLocked()
	c.mu.Unlock()

	if clearErr != nil {
		return fmt.Errorf("clear session store: %w", clearErr)
	}
	return nil
}

func (c *Controller) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.SessionID
}

// startTickLocked launches the countdown goroutine for the current session.
func (c *Controller) startTickLocked() {
	stop := make(chan struct{})
	c.tickStop = stop
	go c.runTick(c.sess.SessionID, stop)
}

func (c *Controller) stopTickLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

func (c *Controller) runTick(sessionID string, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.tick(sessionID) {
				return
			}
		case <-stop:
			return
		}
	}
}

// tick recomputes the countdown once. It re-reads the persisted deadline and
// derives remaining time from the wall clock, because device sleep stalls
// in-memory timers without stalling wall-clock time. Returns false when the
// tick loop must stop.
func (c *Controller) tick(sessionID string) bool {
	rec, err := c.store.Load(context.Background())
	if err != nil {
		slog.Warn("read session store", "error", err)
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A tick racing a concurrent end must observe the mismatch and do nothing.
	if c.sess == nil || c.sess.SessionID != sessionID || c.sess.Status != domain.StatusActive {
		return false
	}
	if rec == nil || rec.SessionID != sessionID {
		return false
	}

	now := c.cfg.Now()
	if !now.Before(domain.GraceDeadline(rec.Deadline, c.cfg.Grace)) {
		c.sess.Status = domain.StatusAlerting
		c.tickStop = nil
		c.publishLocked()
		slog.Warn("deadline passed, session alerting", "session", sessionID)
		return false
	}

	c.publishLocked()
	return true
}

// startWatchLocked begins the continuous location watch for the current
// session. A watch failure degrades tracking but never the countdown.
func (c *Controller) startWatchLocked() {
	if c.watch != nil {
		panic("controller: location watch already active")
	}
	sessionID := c.sess.SessionID
	handle, err := c.location.Watch(func(fix domain.Fix) {
		c.onFix(sessionID, fix)
	})
	if err != nil {
		slog.Warn("location watch unavailable", "session", sessionID, "error", err)
		return
	}
	c.watch = handle
}

func (c *Controller) stopWatchLocked() {
	if c.watch != nil {
		c.watch.Stop()
		c.watch = nil
	}
}

// onFix handles one watch callback: update the local view, and push the
// position when it meets the accuracy gate. Callbacks for a session id that
// is no longer current are silently dropped.
func (c *Controller) onFix(sessionID string, fix domain.Fix) {
	c.mu.Lock()
	if c.sess == nil || c.sess.SessionID != sessionID ||
		(c.sess.Status != domain.StatusActive && c.sess.Status != domain.StatusAlerting) {
		c.mu.Unlock()
		return
	}
	f := fix
	c.sess.LastFix = &f
	emit := c.cfg.AccuracyGateMeters <= 0 || fix.AccuracyMeters <= c.cfg.AccuracyGateMeters
	c.publishLocked()
	c.mu.Unlock()

	if emit {
		c.transport.EmitLocation(sessionID, fix.Lat, fix.Lng)
	}
}

func (c *Controller) viewLocked() View {
	v := View{Status: domain.StatusIdle}
	if c.sess == nil {
		return v
	}
	v.Status = c.sess.Status
	v.IsAlerting = c.sess.Status == domain.StatusAlerting
	if c.sess.LastFix != nil {
		f := *c.sess.LastFix
		v.LastFix = &f
	}
	if c.sess.Status == domain.StatusActive {
		v.RemainingSeconds = domain.RemainingSeconds(c.cfg.Now(), c.sess.Deadline)
	}
	return v
}

// publishLocked pushes a snapshot to the updates channel without blocking.
func (c *Controller) publishLocked() {
	select {
	case c.updates <- c.viewLocked():
	default:
	}
}
