package store

import (
	"context"
	"errors"

	"github.com/quayside/stevedore/internal/stevedore/lifecycle"
)

// The store doubles as the lifecycle controller's transition recorder.
var _ lifecycle.Recorder = (*Store)(nil)

// RecordSession persists a lifecycle transition that carries full session
// details (start, ready).
func (s *Store) RecordSession(ctx context.Context, rec lifecycle.SessionRecord) error {
	return s.UpsertSession(ctx, &Session{
		SessionID:     rec.SessionID,
		RuntimeID:     rec.RuntimeID,
		Image:         rec.Image,
		URL:           rec.URL,
		SessionAPIKey: rec.SessionAPIKey,
		Status:        rec.Status,
	})
}

// RecordStatus persists a status-only transition (paused, stopped, failed).
// Sessions the ledger never saw are ignored: reused runtimes may predate it.
func (s *Store) RecordStatus(ctx context.Context, sessionID, status string) error {
	err := s.UpdateSessionStatus(ctx, sessionID, status)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}
