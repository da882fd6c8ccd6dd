package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/clock"
	"github.com/veritaslab/claimreg/internal/reconcile"
	"github.com/veritaslab/claimreg/internal/registry"
	"github.com/veritaslab/claimreg/internal/server"
	"github.com/veritaslab/claimreg/internal/ssot"
	"github.com/veritaslab/claimreg/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database      string
	Addr          string
	SweepInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry over HTTP",
		Long: `Run the registry HTTP API.

Exposes bundle submission, status projections, value queries, fault
listing, on-demand reconciliation, health, and Prometheus metrics.
With --sweep-interval set, a background reconciler sweeps periodically.

Shuts down gracefully on SIGINT/SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&opts.SweepInterval, "sweep-interval", 0, "background reconcile interval (0 = disabled)")

	return cmd
}

func runServe(opts *ServeOptions) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lastSeq, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read log position", err)
	}
	cl := clock.NewLogical(lastSeq)
	reg := registry.New(st, cl, registry.NewUUIDTokens(), logger)
	rec := reconcile.New(st, cl, logger)

	promReg := prometheus.NewRegistry()
	metrics := server.NewMetrics(promReg)
	srv := server.New(reg, st, ssot.New(st), rec, logger, metrics)
	httpSrv := server.NewHTTPServer(opts.Addr, srv.Router(promReg))

	if opts.SweepInterval > 0 {
		go runSweepLoop(ctx, rec, metrics, logger, opts.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.Addr, "db", opts.Database)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "http server", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitCommandError, "shutdown", err)
		}
	}
	return nil
}

// runSweepLoop reconciles on a fixed interval until ctx is cancelled.
func runSweepLoop(ctx context.Context, rec *reconcile.Reconciler, metrics *server.Metrics,
	logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := rec.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("background sweep failed", "error", err)
				}
				continue
			}
			metrics.FaultsRecorded.Add(float64(result.NewFaults))
			if result.NewFaults > 0 {
				logger.Warn(fmt.Sprintf("background sweep recorded %d new fault(s)", result.NewFaults))
			}
		}
	}
}
