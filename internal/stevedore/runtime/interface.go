// Package runtime defines the Service interface for the remote runtime
// provisioning API.
package runtime

import "context"

// Service abstracts the remote provisioning service. The HTTP adapter in the
// remote subpackage is the production implementation; tests substitute fakes.
type Service interface {
	// GetSession returns the remote state of a session, or ErrNotFound when
	// the service has no runtime associated with the session ID.
	GetSession(ctx context.Context, sessionID string) (*SessionStatus, error)

	// ListSessions returns all sessions the service currently tracks, keyed
	// by session ID.
	ListSessions(ctx context.Context) (map[string]SessionInfo, error)

	// RegistryPrefix returns the registry prefix used to qualify image names.
	RegistryPrefix(ctx context.Context) (string, error)

	// ImageExists reports whether the named image is available to the
	// service. A false result is not an error; the image must be built
	// out-of-band before Start.
	ImageExists(ctx context.Context, image string) (bool, error)

	// Start provisions a new runtime. Not idempotent: every call provisions
	// a fresh runtime, so callers must re-resolve session state before
	// repeating it.
	Start(ctx context.Context, spec StartSpec) (*StartResult, error)

	// Stop tears the runtime down. Returns ErrNotFound when the runtime is
	// already gone.
	Stop(ctx context.Context, runtimeID string) error

	// Pause suspends a running runtime.
	Pause(ctx context.Context, runtimeID string) error

	// Resume unsuspends a paused runtime.
	Resume(ctx context.Context, runtimeID string) error

	// RuntimeInfo returns live pod status and restart bookkeeping for a
	// runtime.
	RuntimeInfo(ctx context.Context, runtimeID string) (*RuntimeInfo, error)

	// Alive checks that the service itself is reachable and responding.
	Alive(ctx context.Context) error
}
