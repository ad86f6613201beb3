package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

const (
	// defaultPollInterval is the sleep between successive status fetches.
	defaultPollInterval = 2 * time.Second
	// defaultCrashLoopRestartLimit is how many restarts a crash-looping
	// runtime is allowed before the poll gives up on it. Below the limit the
	// remote process may still self-recover, so polling continues.
	defaultCrashLoopRestartLimit = 3
)

// Poller watches a runtime after start/resume until it is usable or
// definitively failed.
type Poller struct {
	svc            runtime.Service
	interval       time.Duration
	crashLoopLimit int

	// sleep waits between polls; tests inject a stub for determinism.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller. interval <= 0 and crashLoopLimit <= 0 select
// the defaults (2s, 3 restarts).
func NewPoller(svc runtime.Service, interval time.Duration, crashLoopLimit int) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if crashLoopLimit <= 0 {
		crashLoopLimit = defaultCrashLoopRestartLimit
	}
	return &Poller{
		svc:            svc,
		interval:       interval,
		crashLoopLimit: crashLoopLimit,
		sleep:          waitInterval,
	}
}

// AwaitReady fetches runtime info on a fixed interval until the runtime is
// ready, a terminal failure is detected, or initTimeout elapses.
//
// Status classification:
//
//	ready                     → success
//	pending, running, unknown → keep polling
//	not_found, failed         → *FatalRuntimeError
//	crashloopbackoff          → fatal once restart_count reaches the limit,
//	                            otherwise keep polling
//
// Elapsed wall-clock time is bounded by initTimeout; exceeding it yields a
// *ReadinessTimeoutError, which is distinct from fatal failures because the
// whole start sequence may be worth repeating.
func (p *Poller) AwaitReady(ctx context.Context, runtimeID string, initTimeout time.Duration) (*runtime.RuntimeInfo, error) {
	waitCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	started := time.Now()
	lastStatus := runtime.PodUnknown

	for {
		info, err := p.svc.RuntimeInfo(waitCtx, runtimeID)
		switch {
		case err == nil:
			lastStatus = info.PodStatus
			switch info.PodStatus {
			case runtime.PodReady:
				return info, nil

			case runtime.PodFailed:
				return nil, &FatalRuntimeError{
					RuntimeID:      runtimeID,
					Status:         info.PodStatus,
					RestartCount:   info.RestartCount,
					RestartReasons: info.RestartReasons,
					Reason:         "runtime failed before becoming ready",
				}

			case runtime.PodNotFound:
				return nil, &FatalRuntimeError{
					RuntimeID: runtimeID,
					Status:    info.PodStatus,
					Reason:    "runtime disappeared while waiting for ready",
				}

			case runtime.PodCrashLoopBackOff:
				if info.RestartCount >= p.crashLoopLimit {
					return nil, &FatalRuntimeError{
						RuntimeID:      runtimeID,
						Status:         info.PodStatus,
						RestartCount:   info.RestartCount,
						RestartReasons: info.RestartReasons,
						Reason:         "crash loop exceeded restart limit",
					}
				}
				slog.Warn("poll: runtime crash-looping, waiting for self-recovery",
					"runtime", runtimeID,
					"restarts", info.RestartCount, "limit", p.crashLoopLimit)

			default:
				// pending, running, unknown: keep polling
			}

		case errors.Is(err, runtime.ErrNotFound):
			return nil, &FatalRuntimeError{
				RuntimeID: runtimeID,
				Status:    runtime.PodNotFound,
				Reason:    "runtime disappeared while waiting for ready",
			}

		default:
			// Transient fetch failure; the next interval retries it.
			slog.Debug("poll: runtime info fetch failed (will retry)",
				"runtime", runtimeID, "err", err)
		}

		if err := p.sleep(waitCtx, p.interval); err != nil {
			if ctx.Err() != nil {
				// The caller's context ended, not the init timeout.
				return nil, ctx.Err()
			}
			return nil, &ReadinessTimeoutError{
				RuntimeID:  runtimeID,
				LastStatus: lastStatus,
				Waited:     time.Since(started),
			}
		}
	}
}

func waitInterval(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
