// Package runtime defines shared types for the remote runtime API.
package runtime

import "strings"

// PodStatus is the scheduling state of a remote runtime container as reported
// by the provisioning service. Raw strings from the wire are parsed into this
// closed set immediately at the transport boundary.
type PodStatus string

const (
	PodPending          PodStatus = "pending"
	PodRunning          PodStatus = "running"
	PodReady            PodStatus = "ready"
	PodFailed           PodStatus = "failed"
	PodCrashLoopBackOff PodStatus = "crashloopbackoff"
	PodNotFound         PodStatus = "not_found"
	// PodUnknown covers statuses this client does not recognise; callers keep
	// polling on it rather than failing, for forward compatibility.
	PodUnknown PodStatus = "unknown"
)

// ParsePodStatus maps a wire status string onto the closed PodStatus set.
func ParsePodStatus(s string) PodStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return PodPending
	case "running":
		return PodRunning
	case "ready":
		return PodReady
	case "failed":
		return PodFailed
	case "crashloopbackoff":
		return PodCrashLoopBackOff
	case "not_found", "notfound":
		return PodNotFound
	default:
		return PodUnknown
	}
}

// SessionState is the coarse lifecycle state of a session's runtime.
type SessionState string

const (
	SessionRunning SessionState = "running"
	SessionPaused  SessionState = "paused"
	SessionStopped SessionState = "stopped"
	SessionUnknown SessionState = "unknown"
)

// ParseSessionState maps a wire session status onto the closed SessionState
// set. "exited" is folded into stopped; anything unrecognised is unknown.
func ParseSessionState(s string) SessionState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return SessionRunning
	case "paused":
		return SessionPaused
	case "stopped", "exited":
		return SessionStopped
	default:
		return SessionUnknown
	}
}

// StartSpec describes the runtime a session wants provisioned.
type StartSpec struct {
	// SessionID is the client-chosen logical task identifier. At most one
	// live runtime exists per session ID.
	SessionID string
	// Image is the container image, optionally already registry-qualified.
	Image string
	// Command is the entrypoint argv to run inside the runtime.
	Command []string
	// WorkingDir is the working directory for Command.
	WorkingDir string
	// Environment holds extra environment variables for the runtime.
	Environment map[string]string
	// ResourceFactor scales the runtime's resource allocation. Minimum 1.
	ResourceFactor int
}

// StartResult is the provisioning service's answer to a successful start.
type StartResult struct {
	RuntimeID string `json:"runtime_id"`
	URL       string `json:"url"`
	// WorkHosts maps host labels to exposed port numbers. Non-empty whenever
	// the runtime reaches ready.
	WorkHosts map[string]int `json:"work_hosts"`
	// SessionAPIKey is the credential scoped to this runtime.
	SessionAPIKey string `json:"session_api_key"`
}

// SessionStatus is the remote view of an existing session.
type SessionStatus struct {
	RuntimeID string
	State     SessionState
	URL       string
}

// SessionInfo is one entry of the session listing.
type SessionInfo struct {
	SessionID string         `json:"session_id"`
	RuntimeID string         `json:"runtime_id"`
	URL       string         `json:"url"`
	WorkHosts map[string]int `json:"work_hosts"`
}

// RuntimeInfo is the live status of one runtime container.
// RestartCount is monotonically non-decreasing while the runtime exists;
// RestartReasons is ordered most-recent-last.
type RuntimeInfo struct {
	RuntimeID      string
	PodStatus      PodStatus
	RestartCount   int
	RestartReasons []string
}
