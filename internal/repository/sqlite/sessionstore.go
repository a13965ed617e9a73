package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/msomdec/safewalk/internal/domain"
)

// Keys in the session_state table. The deadline is serialized as unix
// milliseconds so clock math on recovery is exact integer arithmetic.
const (
	keySessionID = "session_id"
	keyDeadline  = "deadline"
	keyActive    = "active"
	keyDeviceID  = "device_id"
)

// SessionStore implements domain.SessionStore on the session_state table.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a SQLite-backed SessionStore.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db.SqlDB}
}

// Save writes the record as three separate autocommit statements in a fixed
// order: session id, deadline, active flag last. A crash between statements
// can never leave the active flag set without its companion fields.
func (s *SessionStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrInvalidInput)
	}
	if err := s.set(ctx, keySessionID, rec.SessionID); err != nil {
		return fmt.Errorf("save session id: %w", err)
	}
	deadlineMS := strconv.FormatInt(rec.Deadline.UnixMilli(), 10)
	if err := s.set(ctx, keyDeadline, deadlineMS); err != nil {
		return fmt.Errorf("save deadline: %w", err)
	}
	if err := s.set(ctx, keyActive, "true"); err != nil {
		return fmt.Errorf("save active flag: %w", err)
	}
	return nil
}

// Load returns the persisted session record, or nil when no session is
// active. A record whose active flag is set but whose companion fields are
// missing or unreadable is treated as a torn write: it loads as nil and the
// slot is cleared.
func (s *SessionStore) Load(ctx context.Context) (*domain.SessionRecord, error) {
	active, err := s.get(ctx, keyActive)
	if err != nil {
		return nil, fmt.Errorf("load active flag: %w", err)
	}
	if active != "true" {
		return nil, nil
	}

	id, err := s.get(ctx, keySessionID)
	if err != nil {
		return nil, fmt.Errorf("load session id: %w", err)
	}
	deadlineMS, err := s.get(ctx, keyDeadline)
	if err != nil {
		return nil, fmt.Errorf("load deadline: %w", err)
	}

	ms, parseErr := strconv.ParseInt(deadlineMS, 10, 64)
	if id == "" || deadlineMS == "" || parseErr != nil {
		if err := s.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear torn record: %w", err)
		}
		return nil, nil
	}

	return &domain.SessionRecord{
		SessionID: id,
		Deadline:  time.UnixMilli(ms).UTC(),
	}, nil
}

// Clear removes the persisted session. The device id survives.
func (s *SessionStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM session_state WHERE key IN (?, ?, ?)",
		keySessionID, keyDeadline, keyActive,
	)
	if err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

// DeviceID returns the stable identifier for this device, generating and
// persisting one on first use.
func (s *SessionStore) DeviceID(ctx context.Context) (string, error) {
	id, err := s.get(ctx, keyDeviceID)
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	id = uuid.New().String()
	if err := s.set(ctx, keyDeviceID, id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}

func (s *SessionStore) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

// get returns the value for key, or "" when the key is absent.
func (s *SessionStore) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM session_state WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
