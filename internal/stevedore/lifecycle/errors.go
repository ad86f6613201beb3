package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

// ErrImageMissing is returned when the requested image is not available to
// the provisioning service. The image must be built and pushed out-of-band.
var ErrImageMissing = errors.New("image not available; build and push it before starting")

// ReadinessTimeoutError reports that the overall init timeout elapsed while
// the runtime was still not ready. Unlike FatalRuntimeError, the whole start
// sequence may be worth retrying by the operator.
type ReadinessTimeoutError struct {
	RuntimeID  string
	LastStatus runtime.PodStatus
	Waited     time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("runtime %s not ready after %s (last status: %s)",
		e.RuntimeID, e.Waited.Round(time.Second), e.LastStatus)
}

// FatalRuntimeError reports a terminal runtime failure: the pod failed,
// disappeared mid-poll, or crash-looped past the configured restart limit.
// It carries everything needed to diagnose the failure without re-querying
// the service, since the runtime may already be torn down when it is read.
type FatalRuntimeError struct {
	RuntimeID      string
	Status         runtime.PodStatus
	RestartCount   int
	RestartReasons []string
	Reason         string
}

func (e *FatalRuntimeError) Error() string {
	msg := fmt.Sprintf("runtime %s %s: %s", e.RuntimeID, e.Status, e.Reason)
	if e.RestartCount > 0 {
		msg += fmt.Sprintf(" (restarts: %d)", e.RestartCount)
	}
	if len(e.RestartReasons) > 0 {
		msg += "; restart reasons: " + strings.Join(e.RestartReasons, "; ")
	}
	return msg
}
