package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/quayside/stevedore/internal/stevedore/lifecycle"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(sessionID string) *Session {
	return &Session{
		SessionID:     sessionID,
		RuntimeID:     "rt-" + sessionID,
		Image:         "registry.example.com/sandbox:v2",
		URL:           "https://" + sessionID + ".example.com",
		SessionAPIKey: "sk-" + sessionID,
		Status:        "running",
	}
}

func TestUpsertAndGetSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, sample("task-1")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	got, err := s.GetSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.RuntimeID != "rt-task-1" || got.Status != "running" {
		t.Errorf("session = %+v", got)
	}
	if got.SessionAPIKey != "sk-task-1" {
		t.Errorf("session api key = %q; want persisted", got.SessionAPIKey)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestUpsertSession_RefreshesExistingRow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, sample("task-1")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	updated := sample("task-1")
	updated.RuntimeID = "rt-replacement"
	updated.Status = "starting"
	if err := s.UpsertSession(ctx, updated); err != nil {
		t.Fatalf("second UpsertSession: %v", err)
	}

	got, err := s.GetSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.RuntimeID != "rt-replacement" || got.Status != "starting" {
		t.Errorf("session = %+v; want refreshed fields", got)
	}

	all, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("rows = %d; upsert must not duplicate", len(all))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, sid := range []string{"task-1", "task-2", "task-3"} {
		if err := s.UpsertSession(ctx, sample(sid)); err != nil {
			t.Fatalf("UpsertSession(%s): %v", sid, err)
		}
	}

	all, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("rows = %d; want 3", len(all))
	}
	seen := map[string]bool{}
	for _, sess := range all {
		seen[sess.SessionID] = true
	}
	for _, sid := range []string{"task-1", "task-2", "task-3"} {
		if !seen[sid] {
			t.Errorf("session %s missing from listing", sid)
		}
	}
}

func TestUpdateSessionStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, sample("task-1")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := s.UpdateSessionStatus(ctx, "task-1", "paused"); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}

	got, err := s.GetSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "paused" {
		t.Errorf("status = %q; want paused", got.Status)
	}

	if err := s.UpdateSessionStatus(ctx, "missing", "stopped"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for unknown session, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, sample("task-1")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := s.DeleteSession(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, "task-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}

	// Absent rows delete cleanly.
	if err := s.DeleteSession(ctx, "task-1"); err != nil {
		t.Errorf("DeleteSession on absent row: %v", err)
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	if err := s1.UpsertSession(context.Background(), sample("task-1")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	s1.Close()

	s2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetSession(context.Background(), "task-1"); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}

func TestRecordSessionAndStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RecordSession(ctx, lifecycle.SessionRecord{
		SessionID: "task-1",
		RuntimeID: "rt-1",
		Image:     "sandbox:v2",
		URL:       "https://rt-1.example.com",
		Status:    "starting",
	})
	if err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if err := s.RecordStatus(ctx, "task-1", "running"); err != nil {
		t.Fatalf("RecordStatus: %v", err)
	}

	got, err := s.GetSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "running" {
		t.Errorf("status = %q; want running", got.Status)
	}
}

func TestRecordStatus_UnknownSessionIgnored(t *testing.T) {
	s := testStore(t)
	// Reused runtimes may predate the ledger; their transitions are dropped.
	if err := s.RecordStatus(context.Background(), "never-seen", "stopped"); err != nil {
		t.Fatalf("RecordStatus for unknown session must not fail: %v", err)
	}
}
