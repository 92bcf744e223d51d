package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/metrics"
	"github.com/roach88/ledgersync/internal/store"
)

// ExporterOptions holds flags for the exporter command.
type ExporterOptions struct {
	*RootOptions
	Addr     string
	Interval time.Duration
}

// NewExporterCommand creates the exporter command.
func NewExporterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExporterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exporter",
		Short: "Serve sync backlog metrics for Prometheus",
		Long: `Serve /metrics with the outbox and inbox backlog and the revision
cursor, refreshed on an interval, plus the storage calls made to read them.

Example:
  ledgersync exporter --db ./wallet.db --addr :9464 --interval 15s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				opts.Addr = opts.Config.Metrics.Addr
			}
			if !cmd.Flags().Changed("interval") {
				opts.Interval = opts.Config.Metrics.RefreshInterval
			}
			if opts.Interval <= 0 {
				return NewExitError(ExitCommandError, "interval must be positive")
			}
			return runExporter(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "backlog refresh interval (default from config)")

	return cmd
}

func runExporter(cmd *cobra.Command, opts *ExporterOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStorage(cmd, opts.RootOptions, func(_ context.Context, s store.Storage) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		c := metrics.New(reg)
		s = metrics.Instrument(s, c)

		refresh := func() {
			if _, err := c.RefreshBacklog(ctx, s); err != nil && ctx.Err() == nil {
				opts.Logger.Warn("backlog refresh failed", "error", err)
			}
		}
		refresh()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: opts.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		opts.Logger.Info("exporter listening", "addr", opts.Addr, "interval", opts.Interval)
		fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on %s/metrics\n", opts.Addr)

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refresh()
			case err := <-errCh:
				return WrapExitError(ExitCommandError, "metrics server failed", err)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return WrapExitError(ExitFailure, "metrics server shutdown", err)
				}
				opts.Logger.Info("exporter stopped")
				return nil
			}
		}
	})
}
