package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quayside/stevedore/common/retry"
	"github.com/quayside/stevedore/internal/stevedore/runtime"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, Options{APIKey: "test-key"})
}

func TestDo_SetsAuthAndCorrelationHeaders(t *testing.T) {
	var apiKey, requestID string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-API-Key")
		requestID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))

	if err := c.Alive(context.Background()); err != nil {
		t.Fatalf("Alive: %v", err)
	}
	if apiKey != "test-key" {
		t.Errorf("X-API-Key = %q; want test-key", apiKey)
	}
	if requestID == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestGetSession(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/task-42" {
			t.Errorf("path = %s; want /sessions/task-42", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"runtime_id": "rt-abc",
			"status":     "PAUSED",
			"url":        "https://rt-abc.example.com",
		})
	}))

	status, err := c.GetSession(context.Background(), "task-42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if status.RuntimeID != "rt-abc" {
		t.Errorf("runtime = %s; want rt-abc", status.RuntimeID)
	}
	if status.State != runtime.SessionPaused {
		t.Errorf("state = %s; want paused (raw status must be normalised)", status.State)
	}
	if status.URL != "https://rt-abc.example.com" {
		t.Errorf("url = %s", status.URL)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "session not found"}`, http.StatusNotFound)
	}))

	_, err := c.GetSession(context.Background(), "missing")
	if !errors.Is(err, runtime.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_SendsSpecAndParsesResult(t *testing.T) {
	var got map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s; want POST /start", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"runtime_id":      "rt-new",
			"url":             "https://rt-new.example.com",
			"work_hosts":      map[string]int{"vscode": 8080},
			"session_api_key": "sk-xyz",
		})
	}))

	res, err := c.Start(context.Background(), runtime.StartSpec{
		SessionID:      "task-42",
		Image:          "registry.example.com/sandbox:v2",
		WorkingDir:     "/workspace",
		ResourceFactor: 2,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.RuntimeID != "rt-new" || res.SessionAPIKey != "sk-xyz" {
		t.Errorf("result = %+v", res)
	}
	if res.WorkHosts["vscode"] != 8080 {
		t.Errorf("work hosts = %v", res.WorkHosts)
	}

	if got["session_id"] != "task-42" || got["image"] != "registry.example.com/sandbox:v2" {
		t.Errorf("request body = %v", got)
	}
	if got["resource_factor"] != float64(2) {
		t.Errorf("resource_factor = %v; want 2", got["resource_factor"])
	}
	// Omitted fields still serialize as empty collections, not null.
	if _, ok := got["command"].([]any); !ok {
		t.Errorf("command = %v; want empty array", got["command"])
	}
	if _, ok := got["environment"].(map[string]any); !ok {
		t.Errorf("environment = %v; want empty object", got["environment"])
	}
}

func TestStart_ValidationError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid image"}`, http.StatusBadRequest)
	}))

	_, err := c.Start(context.Background(), runtime.StartSpec{SessionID: "s1", Image: "bad"})
	var apiErr *runtime.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsValidation() || apiErr.IsServer() {
		t.Errorf("apiErr = %+v; want validation, not server", apiErr)
	}
	if apiErr.Message != "invalid image" {
		t.Errorf("message = %q; want body error field", apiErr.Message)
	}
}

func TestStart_NeverRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error": "boom"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, Options{
		EnableRetries: true,
		Retry:         retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	_, err := c.Start(context.Background(), runtime.StartSpec{SessionID: "s1", Image: "img"})
	var apiErr *runtime.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsServer() {
		t.Fatalf("expected server APIError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("start hit the server %d times; must be exactly 1", hits.Load())
	}
}

func TestStop_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, `{"error": "temporarily unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, Options{
		EnableRetries: true,
		Retry:         retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	if err := c.Stop(context.Background(), "rt-abc"); err != nil {
		t.Fatalf("Stop should succeed on the second attempt: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d; want 2", hits.Load())
	}
}

func TestStop_RetriesPerCallTimeouts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// Stall past the client's per-call timeout.
			time.Sleep(300 * time.Millisecond)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, Options{
		Timeout:       50 * time.Millisecond,
		EnableRetries: true,
		Retry:         retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	if err := c.Stop(context.Background(), "rt-abc"); err != nil {
		t.Fatalf("a per-call timeout on an idempotent call must be retried: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d; want 2", hits.Load())
	}
}

func TestStop_CallerDeadlineNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, Options{
		Timeout:       time.Second,
		EnableRetries: true,
		Retry:         retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.Stop(ctx, "rt-abc"); err == nil {
		t.Fatal("expected an error once the caller's deadline passed")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d; the caller's expired context must stop the retries", hits.Load())
	}
}

func TestStop_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"detail": "no such runtime"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, Options{
		EnableRetries: true,
		Retry:         retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	err := c.Stop(context.Background(), "rt-gone")
	if !errors.Is(err, runtime.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d; a 404 is definitive and must not be retried", hits.Load())
	}
}

func TestRuntimeInfo(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runtime/rt-abc" {
			t.Errorf("path = %s; want /runtime/rt-abc", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"runtime_id":      "rt-abc",
			"pod_status":      "CrashLoopBackOff",
			"restart_count":   2,
			"restart_reasons": []string{"OOMKilled", "Error"},
		})
	}))

	info, err := c.RuntimeInfo(context.Background(), "rt-abc")
	if err != nil {
		t.Fatalf("RuntimeInfo: %v", err)
	}
	if info.PodStatus != runtime.PodCrashLoopBackOff {
		t.Errorf("status = %s; want crashloopbackoff", info.PodStatus)
	}
	if info.RestartCount != 2 || len(info.RestartReasons) != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestImageExists(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("image"); got != "registry.example.com/sandbox:v2" {
			t.Errorf("image query = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]bool{"exists": true})
	}))

	ok, err := c.ImageExists(context.Background(), "registry.example.com/sandbox:v2")
	if err != nil {
		t.Fatalf("ImageExists: %v", err)
	}
	if !ok {
		t.Error("exists = false; want true")
	}
}

func TestListSessions(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sessions": map[string]any{
				"task-1": map[string]any{"runtime_id": "rt-1", "url": "https://rt-1"},
				"task-2": map[string]any{"runtime_id": "rt-2", "url": "https://rt-2"},
			},
		})
	}))

	sessions, err := c.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %v; want 2 entries", sessions)
	}
	if sessions["task-1"].RuntimeID != "rt-1" {
		t.Errorf("task-1 = %+v", sessions["task-1"])
	}
}

func TestRegistryPrefix(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"registry_prefix": "registry.example.com"})
	}))

	prefix, err := c.RegistryPrefix(context.Background())
	if err != nil {
		t.Fatalf("RegistryPrefix: %v", err)
	}
	if prefix != "registry.example.com" {
		t.Errorf("prefix = %q", prefix)
	}
}

func TestDo_ErrorBodyFallsBackToRawText(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text failure", http.StatusBadGateway)
	}))

	err := c.Alive(context.Background())
	var apiErr *runtime.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "plain text failure" {
		t.Errorf("message = %q; want raw body", apiErr.Message)
	}
}
