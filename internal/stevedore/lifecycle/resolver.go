package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

// Lookup is the result of resolving a session against the remote service.
type Lookup struct {
	// Found is false when the service has no runtime for the session.
	Found     bool
	RuntimeID string
	State     runtime.SessionState
	URL       string
}

// Resolver determines whether a runtime already exists for a session and in
// what state.
type Resolver struct {
	svc runtime.Service
}

// NewResolver creates a Resolver backed by the given service.
func NewResolver(svc runtime.Service) *Resolver {
	return &Resolver{svc: svc}
}

// Resolve looks the session up. A 404 from the service is not an error: it
// maps to an absent lookup. Any other failure surfaces to the caller
// unretried; retrying is the controller's call for idempotent actions only.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (Lookup, error) {
	status, err := r.svc.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return Lookup{}, nil
		}
		return Lookup{}, fmt.Errorf("resolve session %s: %w", sessionID, err)
	}

	if status.State == runtime.SessionUnknown {
		slog.Warn("resolver: session in unrecognised state, treating as stopped",
			"session", sessionID, "runtime", status.RuntimeID)
	}

	return Lookup{
		Found:     true,
		RuntimeID: status.RuntimeID,
		State:     status.State,
		URL:       status.URL,
	}, nil
}
