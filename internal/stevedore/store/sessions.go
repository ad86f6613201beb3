package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when the ledger has no row for a session.
var ErrSessionNotFound = errors.New("session not found")

// Session is one ledger row: a session this client drove and where its
// runtime ended up.
type Session struct {
	SessionID string
	RuntimeID string
	Image     string
	URL       string
	// SessionAPIKey is the runtime-scoped credential returned by start,
	// kept so an operator can reach the runtime without re-provisioning.
	SessionAPIKey string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertSession inserts the session or refreshes its mutable fields.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	apiKey, err := s.sealer.seal(sess.SessionAPIKey)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.SessionID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, runtime_id, image, url, session_api_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			runtime_id = excluded.runtime_id,
			image = excluded.image,
			url = excluded.url,
			session_api_key = excluded.session_api_key,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, sess.SessionID, sess.RuntimeID, sess.Image, sess.URL, apiKey, sess.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

// GetSession retrieves one ledger row by session ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, runtime_id, image, url, session_api_key, status, created_at, updated_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID).Scan(
		&sess.SessionID, &sess.RuntimeID, &sess.Image, &sess.URL,
		&sess.SessionAPIKey, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if sess.SessionAPIKey, err = s.sealer.open(sess.SessionAPIKey); err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ListSessions returns all ledger rows, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, runtime_id, image, url, session_api_key, status, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(
			&sess.SessionID, &sess.RuntimeID, &sess.Image, &sess.URL,
			&sess.SessionAPIKey, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if sess.SessionAPIKey, err = s.sealer.open(sess.SessionAPIKey); err != nil {
			return nil, fmt.Errorf("failed to scan session %s: %w", sess.SessionID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus sets the status of an existing ledger row.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?
	`, status, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session %s status: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session %s status: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// DeleteSession removes a ledger row. Deleting an absent row is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}
