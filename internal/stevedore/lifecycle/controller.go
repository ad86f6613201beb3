// Package lifecycle drives a session's remote runtime to the desired state:
// it reconciles the session against the service, chooses among reuse, resume
// and create, polls for readiness, and applies the teardown policy on close.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quayside/stevedore/common/reqid"
	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

// cleanupTimeout bounds the best-effort stop issued after a readiness
// timeout, so cleanup is not itself blocked by the already-dead deadline.
const cleanupTimeout = 30 * time.Second

// State is the controller's view of the session lifecycle.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StatePaused   State = "paused"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Endpoint is where a ready runtime can be reached.
type Endpoint struct {
	RuntimeID     string
	URL           string
	WorkHosts     map[string]int
	SessionAPIKey string
}

// SessionRecord is the ledger entry a Recorder persists per driven session.
type SessionRecord struct {
	SessionID     string
	RuntimeID     string
	Image         string
	URL           string
	SessionAPIKey string
	Status        string
}

// Recorder observes lifecycle transitions. The sqlite session ledger
// implements it; a nil Recorder disables local bookkeeping.
type Recorder interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
	RecordStatus(ctx context.Context, sessionID, status string) error
}

// Config tunes one Controller.
type Config struct {
	// InitTimeout bounds the whole poll loop from start/resume issuance to
	// ready.
	InitTimeout time.Duration
	// PollInterval is the sleep between readiness polls.
	PollInterval time.Duration
	// CrashLoopRestartLimit is the restart count at which a crash-looping
	// runtime is declared dead.
	CrashLoopRestartLimit int
	// EnableRetries toggles the start retry (with re-resolution) on
	// service-side failures.
	EnableRetries bool
	// StartMaxAttempts caps start attempts when retries are enabled.
	// Defaults to 3.
	StartMaxAttempts int
	// KeepAlive and PauseOnClose select the teardown action; see Teardown.
	KeepAlive    bool
	PauseOnClose bool
}

// Controller drives exactly one session to completion. It serializes its own
// operations; concurrent sessions get their own Controller instances sharing
// only the transport's connection pool.
type Controller struct {
	svc      runtime.Service
	resolver *Resolver
	images   *ImageResolver
	poller   *Poller
	recorder Recorder
	cfg      Config

	// sleep paces start retries; tests inject a stub.
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	sessionID string
	runtimeID string
	endpoint  *Endpoint
}

// New creates a Controller. recorder may be nil.
func New(svc runtime.Service, recorder Recorder, cfg Config) *Controller {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 180 * time.Second
	}
	if cfg.StartMaxAttempts <= 0 {
		cfg.StartMaxAttempts = 3
	}
	return &Controller{
		svc:      svc,
		resolver: NewResolver(svc),
		images:   NewImageResolver(svc),
		poller:   NewPoller(svc, cfg.PollInterval, cfg.CrashLoopRestartLimit),
		recorder: recorder,
		cfg:      cfg,
		sleep:    waitInterval,
		state:    StateAbsent,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the ready runtime's endpoint, or nil before readiness.
func (c *Controller) Endpoint() *Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// EnsureActive drives the session to a usable runtime. It reuses a running
// runtime as-is, resumes a paused one, and provisions a fresh one when the
// session is absent or its runtime stopped. It issues no remote calls beyond
// the minimum the chosen path requires.
func (c *Controller) EnsureActive(ctx context.Context, spec runtime.StartSpec) (*Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if spec.SessionID == "" {
		return nil, fmt.Errorf("session ID must not be empty")
	}
	if c.state == StateReady && c.sessionID == spec.SessionID {
		return c.endpoint, nil
	}

	ctx = reqid.WithID(ctx, reqid.New())
	c.sessionID = spec.SessionID

	lookup, err := c.resolver.Resolve(ctx, spec.SessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case lookup.Found && lookup.State == runtime.SessionRunning:
		// Reuse as-is; no further calls needed.
		slog.Info("lifecycle: reusing running runtime",
			"session", spec.SessionID, "runtime", lookup.RuntimeID)
		return c.becomeReady(ctx, spec, &Endpoint{RuntimeID: lookup.RuntimeID, URL: lookup.URL})

	case lookup.Found && lookup.State == runtime.SessionPaused:
		return c.resumeRuntime(ctx, spec, lookup)

	default:
		// Absent, stopped, or unrecognised: a new runtime must be created.
		return c.startRuntime(ctx, spec)
	}
}

// Close applies the teardown policy and releases the runtime accordingly.
// Safe to call when nothing was ever provisioned.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runtimeID == "" || c.state == StateStopped || c.state == StateFailed {
		return nil
	}

	ctx = reqid.WithID(ctx, reqid.New())
	action := Teardown(c.cfg.KeepAlive, c.cfg.PauseOnClose)

	// A half-started runtime cannot be meaningfully paused.
	if action == ActionPause && c.state == StateStarting {
		action = ActionStop
	}

	switch action {
	case ActionStop:
		if err := c.svc.Stop(ctx, c.runtimeID); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			return fmt.Errorf("stop runtime %s: %w", c.runtimeID, err)
		}
		c.state = StateStopped
		c.recordStatus(ctx, "stopped")
		slog.Info("lifecycle: runtime stopped", "session", c.sessionID, "runtime", c.runtimeID)

	case ActionPause:
		if err := c.svc.Pause(ctx, c.runtimeID); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			return fmt.Errorf("pause runtime %s: %w", c.runtimeID, err)
		}
		c.state = StatePaused
		c.recordStatus(ctx, "paused")
		slog.Info("lifecycle: runtime paused", "session", c.sessionID, "runtime", c.runtimeID)

	case ActionNone:
		slog.Info("lifecycle: leaving runtime alive",
			"session", c.sessionID, "runtime", c.runtimeID)
	}

	return nil
}

// --- internal ---------------------------------------------------------------

// resumeRuntime unsuspends a paused runtime and waits for readiness. A 404 on
// resume is folded into success: the desired "not paused" state is already
// achieved, and the subsequent poll decides whether the runtime is usable.
func (c *Controller) resumeRuntime(ctx context.Context, spec runtime.StartSpec, lookup Lookup) (*Endpoint, error) {
	slog.Info("lifecycle: resuming paused runtime",
		"session", spec.SessionID, "runtime", lookup.RuntimeID)

	if err := c.svc.Resume(ctx, lookup.RuntimeID); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return nil, fmt.Errorf("resume runtime %s: %w", lookup.RuntimeID, err)
	}

	c.state = StateStarting
	c.runtimeID = lookup.RuntimeID

	if err := c.awaitReady(ctx, lookup.RuntimeID); err != nil {
		return nil, err
	}
	return c.becomeReady(ctx, spec, &Endpoint{RuntimeID: lookup.RuntimeID, URL: lookup.URL})
}

// startRuntime provisions a fresh runtime and waits for readiness.
func (c *Controller) startRuntime(ctx context.Context, spec runtime.StartSpec) (*Endpoint, error) {
	image, err := c.images.Resolve(ctx, spec.Image)
	if err != nil {
		return nil, err
	}
	spec.Image = image
	if spec.ResourceFactor <= 0 {
		spec.ResourceFactor = 1
	}

	res, err := c.startWithReResolve(ctx, spec)
	if err != nil {
		c.state = StateFailed
		return nil, err
	}

	c.state = StateStarting
	c.runtimeID = res.RuntimeID
	c.recordSession(ctx, SessionRecord{
		SessionID:     spec.SessionID,
		RuntimeID:     res.RuntimeID,
		Image:         spec.Image,
		URL:           res.URL,
		SessionAPIKey: res.SessionAPIKey,
		Status:        "starting",
	})
	slog.Info("lifecycle: runtime starting",
		"session", spec.SessionID, "runtime", res.RuntimeID, "image", spec.Image)

	if err := c.awaitReady(ctx, res.RuntimeID); err != nil {
		return nil, err
	}
	return c.becomeReady(ctx, spec, &Endpoint{
		RuntimeID:     res.RuntimeID,
		URL:           res.URL,
		WorkHosts:     res.WorkHosts,
		SessionAPIKey: res.SessionAPIKey,
	})
}

// startWithReResolve issues start, retrying service-side failures only after
// re-resolving the session: start is not idempotent, so a blind retry could
// orphan a runtime the failed attempt actually provisioned. Validation
// errors are never retried.
func (c *Controller) startWithReResolve(ctx context.Context, spec runtime.StartSpec) (*runtime.StartResult, error) {
	attempts := 1
	if c.cfg.EnableRetries {
		attempts = c.cfg.StartMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, time.Duration(attempt-1)*time.Second); err != nil {
				return nil, errors.Join(lastErr, err)
			}

			lookup, rerr := c.resolver.Resolve(ctx, spec.SessionID)
			if rerr != nil {
				return nil, errors.Join(lastErr, rerr)
			}
			if lookup.Found && (lookup.State == runtime.SessionRunning || lookup.State == runtime.SessionPaused) {
				// The failed attempt did provision a runtime; adopt it
				// instead of starting another.
				slog.Warn("lifecycle: failed start left a runtime behind, adopting it",
					"session", spec.SessionID, "runtime", lookup.RuntimeID, "state", lookup.State)
				if lookup.State == runtime.SessionPaused {
					if err := c.svc.Resume(ctx, lookup.RuntimeID); err != nil && !errors.Is(err, runtime.ErrNotFound) {
						return nil, fmt.Errorf("resume adopted runtime %s: %w", lookup.RuntimeID, err)
					}
				}
				return &runtime.StartResult{RuntimeID: lookup.RuntimeID, URL: lookup.URL}, nil
			}
		}

		res, err := c.svc.Start(ctx, spec)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var apiErr *runtime.APIError
		if errors.As(err, &apiErr) && apiErr.IsValidation() {
			return nil, err
		}
		if attempt < attempts {
			slog.Warn("lifecycle: start failed, re-resolving before retry",
				"session", spec.SessionID, "attempt", attempt, "err", err)
		}
	}
	return nil, lastErr
}

// awaitReady runs the readiness poll. On timeout it issues exactly one
// best-effort stop so a half-provisioned runtime is not leaked; that
// cleanup's own failure is logged, never propagated.
func (c *Controller) awaitReady(ctx context.Context, runtimeID string) error {
	_, err := c.poller.AwaitReady(ctx, runtimeID, c.cfg.InitTimeout)
	if err == nil {
		return nil
	}

	// The caller giving up is not a runtime failure; the runtime may still
	// come up, and Close decides what happens to it.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	c.state = StateFailed
	c.recordStatus(ctx, "failed")

	var timeoutErr *ReadinessTimeoutError
	if errors.As(err, &timeoutErr) {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if stopErr := c.svc.Stop(stopCtx, runtimeID); stopErr != nil && !errors.Is(stopErr, runtime.ErrNotFound) {
			slog.Warn("lifecycle: best-effort stop after readiness timeout failed",
				"runtime", runtimeID, "err", stopErr)
		}
	}
	return err
}

func (c *Controller) becomeReady(ctx context.Context, spec runtime.StartSpec, ep *Endpoint) (*Endpoint, error) {
	c.state = StateReady
	c.runtimeID = ep.RuntimeID
	c.endpoint = ep
	c.recordSession(ctx, SessionRecord{
		SessionID:     spec.SessionID,
		RuntimeID:     ep.RuntimeID,
		Image:         spec.Image,
		URL:           ep.URL,
		SessionAPIKey: ep.SessionAPIKey,
		Status:        "running",
	})
	return ep, nil
}

func (c *Controller) recordSession(ctx context.Context, rec SessionRecord) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordSession(ctx, rec); err != nil {
		slog.Warn("lifecycle: session ledger write failed",
			"session", rec.SessionID, "err", err)
	}
}

func (c *Controller) recordStatus(ctx context.Context, status string) {
	if c.recorder == nil || c.sessionID == "" {
		return
	}
	if err := c.recorder.RecordStatus(ctx, c.sessionID, status); err != nil {
		slog.Warn("lifecycle: session ledger status write failed",
			"session", c.sessionID, "status", status, "err", err)
	}
}
