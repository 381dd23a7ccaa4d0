package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fieldsync/internal/scheduler"
	"github.com/roach88/fieldsync/internal/worker"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Interval    time.Duration
	MetricsAddr string

	// Ready, when set, receives the metrics listener address once the daemon is
	// serving (for testing).
	Ready func(addr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run fieldsync as a daemon.

On every interval the daemon schedules a metadata sync of the mutation
queue and a pull of every local survey. Photo uploads follow each metadata
pass that applied a group. Prometheus metrics are served on /metrics.

Stops cleanly on SIGINT or SIGTERM.

Example:
  fieldsync run --config fieldsync.yaml
  fieldsync run --interval 30s --metrics-addr :9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sync interval (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", `metrics listen address (overrides config, "off" disables)`)

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.SetDefault(a.logger)

	interval := a.cfg.Sync.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	metricsAddr := a.cfg.Metrics.Addr
	switch opts.MetricsAddr {
	case "":
	case "off":
		metricsAddr = ""
	default:
		metricsAddr = opts.MetricsAddr
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	sched := a.newScheduler(ctx)
	defer sched.Close()
	metadata, _ := a.workers(sched)
	surveys := a.surveySync(sched)

	trigger := func() {
		sched.Enqueue(worker.MetadataWorkName, scheduler.KeepExisting, metadata.Run)
		list, err := a.store.ListSurveys(ctx)
		if err != nil {
			a.logger.Error("list surveys", "error", err)
			return
		}
		for _, s := range list {
			surveys.EnqueueSync(s.ID)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		trigger()
		for {
			select {
			case <-ticker.C:
				trigger()
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			counts, err := a.store.CountByStatus(ctx)
			if err == nil {
				a.metrics.SetStatusCounts(counts)
			} else if ctx.Err() == nil {
				a.logger.Warn("count mutations", "error", err)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
		}
	})

	var addr string
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		addr = ln.Addr().String()

		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("daemon starting", "db", a.cfg.Database, "interval", interval, "metrics", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "fieldsync running. Press Ctrl-C to stop.")
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	a.logger.Info("daemon stopped gracefully")
	return nil
}
