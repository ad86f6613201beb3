package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quayside/stevedore/common/retry"
	"github.com/quayside/stevedore/common/spec/runspec"
	"github.com/quayside/stevedore/common/version"
	"github.com/quayside/stevedore/internal/stevedore/config"
	"github.com/quayside/stevedore/internal/stevedore/lifecycle"
	"github.com/quayside/stevedore/internal/stevedore/runtime"
	"github.com/quayside/stevedore/internal/stevedore/runtime/remote"
	"github.com/quayside/stevedore/internal/stevedore/store"
)

const closeTimeout = 60 * time.Second

func main() {
	fmt.Printf("Stevedore Runtime Controller\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Println()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	client := remote.New(cfg.APIURL, remote.Options{
		APIKey:        cfg.APIKey,
		Timeout:       cfg.APITimeout,
		EnableRetries: cfg.EnableRetries,
		Retry:         retry.Policy{MaxAttempts: cfg.RetryMaxAttempts},
	})

	ledger, err := store.New(cfg.DatabasePath, cfg.LedgerMasterKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open session ledger: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	switch os.Args[1] {
	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: stevedore run <runspec.yaml>")
			os.Exit(2)
		}
		err = runSession(cfg, client, ledger, os.Args[2])
	case "sessions":
		err = listSessions(client, ledger)
	case "stop":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: stevedore stop <session-id>")
			os.Exit(2)
		}
		err = stopSession(client, ledger, os.Args[2])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  stevedore run <runspec.yaml>   drive a session to a ready runtime
  stevedore sessions             list remote and locally tracked sessions
  stevedore stop <session-id>    stop the runtime of a session`)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// runSession drives the spec's session to ready, then holds it until a
// signal arrives and applies the teardown policy.
func runSession(cfg *config.Config, client *remote.Client, ledger *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read run spec: %w", err)
	}
	spec, err := runspec.Parse(data)
	if err != nil {
		return err
	}

	keepAlive := cfg.KeepRuntimeAlive
	if spec.Teardown.KeepAlive != nil {
		keepAlive = *spec.Teardown.KeepAlive
	}
	pauseOnClose := cfg.PauseClosedRuntimes
	if spec.Teardown.PauseOnClose != nil {
		pauseOnClose = *spec.Teardown.PauseOnClose
	}

	ctrl := lifecycle.New(client, ledger, lifecycle.Config{
		InitTimeout:           cfg.InitTimeout,
		PollInterval:          cfg.PollInterval,
		CrashLoopRestartLimit: cfg.CrashLoopRestartLimit,
		EnableRetries:         cfg.EnableRetries,
		StartMaxAttempts:      cfg.RetryMaxAttempts,
		KeepAlive:             keepAlive,
		PauseOnClose:          pauseOnClose,
	})

	ctx := context.Background()

	if err := client.Alive(ctx); err != nil {
		return fmt.Errorf("runtime service unreachable at %s: %w", cfg.APIURL, err)
	}

	endpoint, err := ctrl.EnsureActive(ctx, runtime.StartSpec{
		SessionID:      spec.Metadata.Name,
		Image:          spec.Image,
		Command:        spec.Command,
		WorkingDir:     spec.WorkingDir,
		Environment:    spec.Environment,
		ResourceFactor: spec.ResourceFactor,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Session %s ready\n", spec.Metadata.Name)
	fmt.Printf("  Runtime: %s\n", endpoint.RuntimeID)
	fmt.Printf("  URL:     %s\n", endpoint.URL)
	for host, port := range endpoint.WorkHosts {
		fmt.Printf("  Host:    %s → %d\n", host, port)
	}
	fmt.Println("Press Ctrl+C to close the session.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return ctrl.Close(closeCtx)
}

// listSessions prints the remote session list merged with the local ledger.
func listSessions(client *remote.Client, ledger *store.Store) error {
	ctx := context.Background()

	remoteSessions, err := client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list remote sessions: %w", err)
	}
	local, err := ledger.ListSessions(ctx)
	if err != nil {
		return err
	}
	tracked := make(map[string]*store.Session, len(local))
	for _, sess := range local {
		tracked[sess.SessionID] = sess
	}

	fmt.Printf("%-24s %-38s %-10s %s\n", "SESSION", "RUNTIME", "TRACKED", "URL")
	for sid, info := range remoteSessions {
		origin := "-"
		if _, ok := tracked[sid]; ok {
			origin = "yes"
			delete(tracked, sid)
		}
		fmt.Printf("%-24s %-38s %-10s %s\n", sid, info.RuntimeID, origin, info.URL)
	}
	// Ledger rows the service no longer knows about (stopped or expired).
	for sid, sess := range tracked {
		fmt.Printf("%-24s %-38s %-10s %s\n", sid, sess.RuntimeID, "local("+sess.Status+")", sess.URL)
	}
	return nil
}

// stopSession resolves a session and stops its runtime. A runtime that is
// already gone counts as success.
func stopSession(client *remote.Client, ledger *store.Store, sessionID string) error {
	ctx := context.Background()

	status, err := client.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			fmt.Printf("Session %s has no runtime\n", sessionID)
			return ledger.RecordStatus(ctx, sessionID, "stopped")
		}
		return err
	}

	if err := client.Stop(ctx, status.RuntimeID); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return fmt.Errorf("stop runtime %s: %w", status.RuntimeID, err)
	}
	if err := ledger.RecordStatus(ctx, sessionID, "stopped"); err != nil {
		slog.Warn("session ledger update failed", "session", sessionID, "err", err)
	}
	fmt.Printf("Session %s stopped (runtime %s)\n", sessionID, status.RuntimeID)
	return nil
}
