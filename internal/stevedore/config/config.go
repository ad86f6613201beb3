// Package config loads controller configuration from environment variables
// into an explicit struct, so nothing downstream reads ambient state.
package config

import (
	"fmt"
	"time"

	"github.com/quayside/stevedore/common/crypto"
	"github.com/quayside/stevedore/common/environment"
)

// Config is everything the client needs to drive the remote runtime service.
type Config struct {
	// APIURL is the base URL of the remote runtime provisioning service.
	APIURL string
	// APIKey authenticates every request (X-API-Key header).
	APIKey string
	// APITimeout bounds a single HTTP round trip.
	APITimeout time.Duration
	// InitTimeout bounds the whole readiness poll from start/resume to ready.
	InitTimeout time.Duration
	// PollInterval is the sleep between readiness polls.
	PollInterval time.Duration
	// EnableRetries toggles transient-error retries.
	EnableRetries bool
	// RetryMaxAttempts caps attempts when retries are enabled.
	RetryMaxAttempts int
	// CrashLoopRestartLimit is the restart count at which a crash-looping
	// runtime is declared dead.
	CrashLoopRestartLimit int
	// KeepRuntimeAlive and PauseClosedRuntimes select the teardown action.
	KeepRuntimeAlive    bool
	PauseClosedRuntimes bool
	// DatabasePath is where the local session ledger lives.
	DatabasePath string
	// LedgerMasterKey, when set, encrypts session API keys in the ledger.
	// Nil means they are stored in the clear.
	LedgerMasterKey []byte
	// LogLevel is debug, info, warn or error.
	LogLevel string
}

// Load reads configuration from the environment. RUNTIME_API_URL and
// RUNTIME_API_KEY are required; everything else has a default.
func Load() (*Config, error) {
	apiURL, err := environment.RequiredString("RUNTIME_API_URL")
	if err != nil {
		return nil, err
	}
	apiKey, err := environment.RequiredString("RUNTIME_API_KEY")
	if err != nil {
		return nil, err
	}

	var masterKey []byte
	if raw := environment.StringOr("LEDGER_MASTER_KEY", ""); raw != "" {
		masterKey, err = crypto.ParseMasterKey(raw)
		if err != nil {
			return nil, fmt.Errorf("LEDGER_MASTER_KEY: %w", err)
		}
	}

	return &Config{
		APIURL:                apiURL,
		APIKey:                apiKey,
		APITimeout:            environment.DurationOr("RUNTIME_API_TIMEOUT", 30*time.Second),
		InitTimeout:           environment.DurationOr("RUNTIME_INIT_TIMEOUT", 180*time.Second),
		PollInterval:          environment.DurationOr("RUNTIME_POLL_INTERVAL", 2*time.Second),
		EnableRetries:         environment.BoolOr("RUNTIME_ENABLE_RETRIES", true),
		RetryMaxAttempts:      environment.IntOr("RUNTIME_RETRY_MAX_ATTEMPTS", 3),
		CrashLoopRestartLimit: environment.IntOr("RUNTIME_CRASHLOOP_RESTART_LIMIT", 3),
		KeepRuntimeAlive:      environment.BoolOr("KEEP_RUNTIME_ALIVE", false),
		PauseClosedRuntimes:   environment.BoolOr("PAUSE_CLOSED_RUNTIMES", false),
		DatabasePath:          environment.StringOr("DATABASE_PATH", "./stevedore.db"),
		LedgerMasterKey:       masterKey,
		LogLevel:              environment.StringOr("LOG_LEVEL", "info"),
	}, nil
}
