// Package commands implements taskgraphd's CLI command handlers.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefang-labs/taskgraph/internal/backend"
	"github.com/codefang-labs/taskgraph/internal/backingstore"
	"github.com/codefang-labs/taskgraph/internal/config"
	"github.com/codefang-labs/taskgraph/internal/telemetry"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
	"github.com/codefang-labs/taskgraph/pkg/version"
)

// defaultSnapshotInterval is used when SnapshotInterval resolves to zero
// (config.DefaultSnapshotInterval left unset and none provided), matching
// the config package's own "5s" default.
const defaultSnapshotInterval = 5 * time.Second

// NewRunCommand builds the `taskgraphd run` command: it starts the backend
// as a long-running daemon, exposing a diagnostics HTTP server and a
// periodic snapshot timer, until SIGINT/SIGTERM.
func NewRunCommand(cfgFile *string) *cobra.Command {
	var diagAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend as a long-running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), *cfgFile, diagAddr)
		},
	}

	cmd.Flags().StringVar(&diagAddr, "diag-addr", "", "override telemetry.metrics_addr for this run")

	return cmd
}

func runDaemon(ctx context.Context, cfgFile, diagAddrOverride string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	resolved, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	metricsAddr := resolved.MetricsAddr
	if diagAddrOverride != "" {
		metricsAddr = diagAddrOverride
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = version.Version
	telCfg.Mode = telemetry.ModeServe
	telCfg.OTLPEndpoint = resolved.OTLPEndpoint
	telCfg.MetricsAddr = metricsAddr

	if resolved.LogLevel != "" {
		var level slog.Level
		if parseErr := level.UnmarshalText([]byte(resolved.LogLevel)); parseErr == nil {
			telCfg.LogLevel = level
		}
	}

	providers, err := telemetry.Init(telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	metrics, err := telemetry.NewBackendMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init backend metrics: %w", err)
	}

	dbDir, fresh, err := backingstore.ResolveVersionedDir(resolved.DataDir)
	if err != nil {
		return fmt.Errorf("resolve database directory: %w", err)
	}

	providers.Logger.Info("database directory resolved", "dir", dbDir, "fresh", fresh)

	store, err := backingstore.Open(backingstore.Options{
		Dir:                dbDir,
		StartupCacheBudget: resolved.StartupCacheBudget,
		Logger:             providers.Logger,
	})
	if err != nil {
		return fmt.Errorf("open backing store: %w", err)
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			providers.Logger.Error("backing store close failed", "error", closeErr)
		}
	}()

	onSchedule := func(task taskgraph.TaskId) {
		providers.Logger.Debug("task scheduled", "task", task.String())
	}

	b := backend.New(backend.Config{
		Store:      store,
		Logger:     providers.Logger,
		OnSchedule: onSchedule,
	})

	if startupErr := b.Startup(runCtx); startupErr != nil {
		return fmt.Errorf("backend startup: %w", startupErr)
	}

	defer b.Stopping()

	var diag *telemetry.DiagnosticsServer

	if metricsAddr != "" {
		diag, err = telemetry.NewDiagnosticsServer(metricsAddr, providers)
		if err != nil {
			return fmt.Errorf("start diagnostics server: %w", err)
		}

		providers.Logger.Info("diagnostics server listening", "addr", diag.Addr())

		defer func() {
			if shutdownErr := diag.Shutdown(context.Background()); shutdownErr != nil {
				providers.Logger.Warn("diagnostics server shutdown failed", "error", shutdownErr)
			}
		}()
	}

	return runSnapshotLoop(runCtx, b, resolved.SnapshotInterval, metrics, providers)
}

// runSnapshotLoop ticks RunBackendJob(ctx, 0) — the snapshot job id the
// backend recognizes — on SnapshotInterval until ctx is cancelled.
func runSnapshotLoop(
	ctx context.Context,
	b *backend.Backend,
	interval time.Duration,
	metrics *telemetry.BackendMetrics,
	providers telemetry.Providers,
) error {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			providers.Logger.Info("shutting down, taking final snapshot")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), interval)

			start := time.Now()
			err := b.RunBackendJob(shutdownCtx, 0)

			cancel()

			if err != nil {
				providers.Logger.Error("final snapshot failed", "error", err)

				return fmt.Errorf("final snapshot: %w", err)
			}

			metrics.RecordSnapshot(context.Background(), time.Since(start), 0)

			return nil

		case <-ticker.C:
			start := time.Now()

			if err := b.RunBackendJob(ctx, 0); err != nil {
				providers.Logger.Error("periodic snapshot failed", "error", err)

				continue
			}

			metrics.RecordSnapshot(ctx, time.Since(start), 0)
		}
	}
}
