package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/httpapi"
	"github.com/ShayCichocki/baton/internal/metrics"
	"github.com/ShayCichocki/baton/internal/state"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		addr            string
		cleanupInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session query API and Prometheus metrics",
		Long: `Serve a read-mostly HTTP API over the session store:

  GET  /health
  GET  /metrics
  GET  /api/v1/sessions/active
  GET  /api/v1/sessions/resumable
  GET  /api/v1/sessions/:id
  POST /api/v1/sessions/:id/pause
  GET  /api/v1/stats

Expired sessions are removed every --cleanup-interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(e *env, store *state.Store) error {
				if addr == "" {
					addr = e.cfg.Server.Addr
				}

				reg := prometheus.NewRegistry()
				reg.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
					metrics.NewStoreCollector(store.Statistics),
				)

				srv, err := httpapi.NewServer(store, reg, e.logger.Named("http"), addr)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if cleanupInterval > 0 {
					go cleanupLoop(ctx, store, e.cfg.Store.ExpiryDays, cleanupInterval, e.logger)
				}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()
				printStatus(e.out, "✓", fmt.Sprintf("Listening on http://%s", addr), color.FgGreen)

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown http server: %w", err)
				}
				return <-errCh
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().DurationVar(&cleanupInterval, "cleanup-interval", time.Hour, "How often to remove expired sessions (0 disables)")
	return cmd
}

func cleanupLoop(ctx context.Context, store *state.Store, maxAgeDays int, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupExpired(maxAgeDays)
			if err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("removed expired sessions", zap.Int("count", n))
			}
		}
	}
}
