// Package remote provides the HTTP client for the remote runtime
// provisioning service.
//
// Every request carries the service API key in the X-API-Key header and a
// correlation ID in X-Request-ID. Responses are JSON. Transient transport
// failures are retried here for idempotent operations only; start is never
// retried at this layer because each call provisions a new runtime.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quayside/stevedore/common/reqid"
	"github.com/quayside/stevedore/common/retry"
	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

const defaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// APIKey is sent as the X-API-Key header on every request.
	APIKey string
	// Timeout bounds a single HTTP round trip. Defaults to 30s.
	Timeout time.Duration
	// EnableRetries toggles transient-failure retries for idempotent calls.
	EnableRetries bool
	// Retry is the policy used when EnableRetries is set. Zero value means
	// retry.DefaultPolicy.
	Retry retry.Policy
}

// Client is an HTTP client for a single provisioning service endpoint.
// It implements runtime.Service.
type Client struct {
	baseURL       string
	apiKey        string
	enableRetries bool
	retryPolicy   retry.Policy
	httpClient    *http.Client
}

// New creates a Client targeting the given base URL
// (e.g. "https://runtime.example.com").
func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        opts.APIKey,
		enableRetries: opts.EnableRetries,
		retryPolicy:   policy,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

var _ runtime.Service = (*Client)(nil)

// --- wire shapes ------------------------------------------------------------

type sessionResponse struct {
	RuntimeID string `json:"runtime_id"`
	Status    string `json:"status"`
	URL       string `json:"url"`
}

type sessionListResponse struct {
	Sessions map[string]runtime.SessionInfo `json:"sessions"`
}

type registryPrefixResponse struct {
	RegistryPrefix string `json:"registry_prefix"`
}

type imageExistsResponse struct {
	Exists bool `json:"exists"`
}

type startRequest struct {
	Image          string            `json:"image"`
	Command        []string          `json:"command"`
	WorkingDir     string            `json:"working_dir"`
	Environment    map[string]string `json:"environment"`
	SessionID      string            `json:"session_id"`
	ResourceFactor int               `json:"resource_factor"`
}

type runtimeRequest struct {
	RuntimeID string `json:"runtime_id"`
}

type runtimeInfoResponse struct {
	RuntimeID      string   `json:"runtime_id"`
	PodStatus      string   `json:"pod_status"`
	RestartCount   int      `json:"restart_count"`
	RestartReasons []string `json:"restart_reasons"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// --- runtime.Service --------------------------------------------------------

// GetSession calls GET /sessions/{sid}. A 404 surfaces as runtime.ErrNotFound.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*runtime.SessionStatus, error) {
	var resp sessionResponse
	if err := c.getIdempotent(ctx, "/sessions/"+url.PathEscape(sessionID), &resp); err != nil {
		return nil, err
	}
	return &runtime.SessionStatus{
		RuntimeID: resp.RuntimeID,
		State:     runtime.ParseSessionState(resp.Status),
		URL:       resp.URL,
	}, nil
}

// ListSessions calls GET /sessions.
func (c *Client) ListSessions(ctx context.Context) (map[string]runtime.SessionInfo, error) {
	var resp sessionListResponse
	if err := c.getIdempotent(ctx, "/sessions", &resp); err != nil {
		return nil, err
	}
	if resp.Sessions == nil {
		resp.Sessions = map[string]runtime.SessionInfo{}
	}
	return resp.Sessions, nil
}

// RegistryPrefix calls GET /registry_prefix.
func (c *Client) RegistryPrefix(ctx context.Context) (string, error) {
	var resp registryPrefixResponse
	if err := c.getIdempotent(ctx, "/registry_prefix", &resp); err != nil {
		return "", err
	}
	return resp.RegistryPrefix, nil
}

// ImageExists calls GET /image_exists. A false result is not an error.
func (c *Client) ImageExists(ctx context.Context, image string) (bool, error) {
	var resp imageExistsResponse
	if err := c.getIdempotent(ctx, "/image_exists?image="+url.QueryEscape(image), &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Start calls POST /start. Never retried here: the service provisions a new
// runtime per call, so the lifecycle controller re-resolves before retrying.
func (c *Client) Start(ctx context.Context, spec runtime.StartSpec) (*runtime.StartResult, error) {
	req := startRequest{
		Image:          spec.Image,
		Command:        spec.Command,
		WorkingDir:     spec.WorkingDir,
		Environment:    spec.Environment,
		SessionID:      spec.SessionID,
		ResourceFactor: spec.ResourceFactor,
	}
	if req.Command == nil {
		req.Command = []string{}
	}
	if req.Environment == nil {
		req.Environment = map[string]string{}
	}
	var resp runtime.StartResult
	if err := c.post(ctx, "/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop calls POST /stop. Safe to repeat.
func (c *Client) Stop(ctx context.Context, runtimeID string) error {
	return c.postIdempotent(ctx, "/stop", runtimeRequest{RuntimeID: runtimeID})
}

// Pause calls POST /pause. Safe to repeat.
func (c *Client) Pause(ctx context.Context, runtimeID string) error {
	return c.postIdempotent(ctx, "/pause", runtimeRequest{RuntimeID: runtimeID})
}

// Resume calls POST /resume. Safe to repeat.
func (c *Client) Resume(ctx context.Context, runtimeID string) error {
	return c.postIdempotent(ctx, "/resume", runtimeRequest{RuntimeID: runtimeID})
}

// RuntimeInfo calls GET /runtime/{runtime_id}. A 404 surfaces as
// runtime.ErrNotFound.
func (c *Client) RuntimeInfo(ctx context.Context, runtimeID string) (*runtime.RuntimeInfo, error) {
	var resp runtimeInfoResponse
	if err := c.getIdempotent(ctx, "/runtime/"+url.PathEscape(runtimeID), &resp); err != nil {
		return nil, err
	}
	return &runtime.RuntimeInfo{
		RuntimeID:      resp.RuntimeID,
		PodStatus:      runtime.ParsePodStatus(resp.PodStatus),
		RestartCount:   resp.RestartCount,
		RestartReasons: resp.RestartReasons,
	}, nil
}

// Alive calls GET /alive to verify the service is reachable.
func (c *Client) Alive(ctx context.Context) error {
	return c.getIdempotent(ctx, "/alive", nil)
}

// --- internal helpers --------------------------------------------------------

// getIdempotent issues a GET, retrying transient failures when enabled.
func (c *Client) getIdempotent(ctx context.Context, path string, out interface{}) error {
	return c.withRetry(ctx, func() error {
		return c.get(ctx, path, out)
	})
}

// postIdempotent issues a POST that is safe to repeat (stop/pause/resume),
// retrying transient failures and service-side 500s when enabled.
func (c *Client) postIdempotent(ctx context.Context, path string, body interface{}) error {
	return c.withRetry(ctx, func() error {
		return c.post(ctx, path, body, nil)
	})
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	if !c.enableRetries {
		return fn()
	}
	policy := c.retryPolicy
	policy.ShouldRetry = func(err error) bool { return retryable(ctx, err) }
	return retry.Do(ctx, policy, fn)
}

// retryable classifies errors for idempotent calls: connection-level failures,
// per-call timeouts and service-side 5xx responses are worth repeating; 404s
// and validation errors are definitive. http.Client timeouts satisfy
// errors.Is(err, context.DeadlineExceeded) even when the caller's context is
// still alive, so the caller's own ctx is what decides whether to stop.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, runtime.ErrNotFound) {
		return false
	}
	var apiErr *runtime.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsServer()
	}
	return true
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("X-Request-ID", reqid.FromContext(req.Context()))

	op := req.Method + " " + req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body %s: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, runtime.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return &runtime.APIError{
			StatusCode: resp.StatusCode,
			Op:         op,
			Message:    errorMessage(bodyBytes),
		}
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("unmarshal response %s: %w", op, err)
		}
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body. The
// service reports either {"error": ...} or {"detail": ...}.
func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Error != "" {
			return er.Error
		}
		if er.Detail != "" {
			return er.Detail
		}
	}
	return strings.TrimSpace(string(body))
}
