package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// metricsShutdownTimeout bounds how long the metrics listener may take to
// drain on shutdown.
const metricsShutdownTimeout = 5 * time.Second

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the lock sweeper until interrupted",
		Long: `Long-running maintenance loop: periodically expires stale lock leases and
prunes finished sync jobs. Exposes Prometheus metrics when enabled in
config. Stops cleanly on SIGINT/SIGTERM.`,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server

	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())

		metricsSrv = &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}

		go func() {
			a.logger.Info("metrics listener started", slog.String("addr", metricsSrv.Addr))

			if serveErr := metricsSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				a.logger.Error("metrics listener failed", slog.String("error", serveErr.Error()))
			}
		}()
	}

	interval := a.cfg.Lock.SweepIntervalDuration()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.registry.Sweep()
			}
		}
	}()

	statusf("Sweeper running every %s. Ctrl-C to stop.\n", interval)

	// Blocks until the context dies.
	a.locks.RunSweeper(ctx, interval)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if shutdownErr := metricsSrv.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Warn("metrics listener shutdown failed", slog.String("error", shutdownErr.Error()))
		}
	}

	statusf("Sweeper stopped.\n")

	return nil
}
