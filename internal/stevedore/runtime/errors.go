package runtime

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the service reports 404 for the requested
// session or runtime. Lookups map it to "absent"; stop/pause/resume callers
// fold it into success because the target is already gone.
var ErrNotFound = errors.New("not found")

// APIError is a non-success HTTP response from the provisioning service.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Op identifies the failed call, e.g. "POST /start".
	Op string
	// Message is the error body the service returned, if any.
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s → %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s → %d", e.Op, e.StatusCode)
}

// IsValidation reports whether the service rejected the request as malformed.
// Validation failures are never retried.
func (e *APIError) IsValidation() bool { return e.StatusCode == 400 }

// IsServer reports whether the failure was on the service side.
func (e *APIError) IsServer() bool { return e.StatusCode >= 500 }
