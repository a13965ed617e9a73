package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/msomdec/safewalk/internal/domain"
	"github.com/msomdec/safewalk/internal/repository/sqlite"
)

// Verify that *sqlite.SessionStore implements domain.SessionStore at compile time.
var _ domain.SessionStore = (*sqlite.SessionStore)(nil)

func newStore(t *testing.T) *sqlite.SessionStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "safewalk.db")

	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db.Sessions()
}

func TestSaveLoadClear(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// Empty store loads as no session.
	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record from empty store, got %+v", rec)
	}

	deadline := time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC)
	if err := store.Save(ctx, domain.SessionRecord{SessionID: "sess-123", Deadline: deadline}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record after Save")
	}
	if rec.SessionID != "sess-123" {
		t.Errorf("SessionID = %q, want %q", rec.SessionID, "sess-123")
	}
	if !rec.Deadline.Equal(deadline) {
		t.Errorf("Deadline = %v, want %v", rec.Deadline, deadline)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rec, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load after Clear: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record after Clear, got %+v", rec)
	}

	// Clearing an empty store is a no-op, not an error.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear twice: %v", err)
	}
}

func TestSaveOverwritesSlot(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := domain.SessionRecord{SessionID: "sess-1", Deadline: time.Now().Add(time.Hour).UTC()}
	second := domain.SessionRecord{SessionID: "sess-2", Deadline: time.Now().Add(2 * time.Hour).UTC()}

	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.SessionID != "sess-2" {
		t.Fatalf("expected single-slot overwrite, got session %q", rec.SessionID)
	}
}

func TestSaveRejectsEmptySessionID(t *testing.T) {
	store := newStore(t)

	err := store.Save(context.Background(), domain.SessionRecord{Deadline: time.Now()})
	if err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestLoadTornWrite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "safewalk.db")

	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// Simulate a crash that left the active flag set with no companions.
	if _, err := db.SqlDB.ExecContext(ctx,
		"INSERT INTO session_state (key, value) VALUES ('active', 'true')"); err != nil {
		t.Fatalf("insert torn flag: %v", err)
	}

	store := db.Sessions()
	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("torn write must load as no session, got %+v", rec)
	}

	// The torn slot is cleared; the flag is gone on the next read.
	var count int
	if err := db.SqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM session_state WHERE key = 'active'").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatal("torn active flag was not cleared")
	}
}

func TestDeviceIDStable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := store.DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if first == "" {
		t.Fatal("expected generated device id")
	}

	second, err := store.DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if second != first {
		t.Fatalf("device id changed between reads: %q vs %q", first, second)
	}

	// The device id survives a session Clear.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	third, err := store.DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if third != first {
		t.Fatalf("device id lost on Clear: %q vs %q", first, third)
	}
}
