package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/mutation"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/remote/blobfs"
	"github.com/roach88/fieldsync/internal/remote/docstore"
	"github.com/roach88/fieldsync/internal/scheduler"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/surveysync"
	"github.com/roach88/fieldsync/internal/worker"
)

// app is the wiring shared by commands that touch the local store or the remote.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	docs    *docstore.Store
	blobs   *blobfs.Store
	repo    *mutation.Repository
	metrics *metrics.Metrics
}

// loadConfig reads the config file named by --config and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the text logger used by every command. --verbose forces
// debug level; otherwise the config's log_level applies.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openApp loads the config and opens the local store, the remote document store
// and the blob store. Callers must Close the result.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	docs, err := docstore.Open(cfg.Remote.Database)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open remote document store", err)
	}

	blobs, err := blobfs.New(cfg.Remote.BlobDir)
	if err != nil {
		docs.Close()
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open blob store", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		docs:    docs,
		blobs:   blobs,
		repo:    mutation.NewRepository(st, mutation.WithMediaDir(cfg.MediaDir), mutation.WithLogger(logger)),
		metrics: metrics.New(),
	}, nil
}

// Close closes the remote and local databases.
func (a *app) Close() {
	if err := a.docs.Close(); err != nil {
		a.logger.Error("error closing remote document store", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// newScheduler creates a scheduler configured from the app's backoff policy,
// reporting to the app's metrics.
func (a *app) newScheduler(ctx context.Context) *scheduler.Scheduler {
	return scheduler.New(ctx,
		scheduler.WithBackoff(a.cfg.Backoff()),
		scheduler.WithLogger(a.logger),
		scheduler.WithObserver(a.metrics.ObserveWork),
	)
}

// workers builds the metadata and media workers. The metadata worker schedules
// the media worker on sched after each pass that applied a group.
func (a *app) workers(sched *scheduler.Scheduler) (*worker.MetadataWorker, *worker.MediaWorker) {
	media := worker.NewMediaWorker(a.repo, a.blobs,
		worker.WithMediaMetrics(a.metrics),
		worker.WithMediaLogger(a.logger),
	)
	applier := remote.NewApplier(a.docs, remote.NewCodec(), a.store)
	metadata := worker.NewMetadataWorker(a.repo, applier,
		worker.WithMediaFollowUp(sched, media),
		worker.WithMetadataMetrics(a.metrics),
		worker.WithMetadataLogger(a.logger),
	)
	return metadata, media
}

// surveySync builds the survey pull service over the remote document store.
func (a *app) surveySync(sched *scheduler.Scheduler) *surveysync.Service {
	return surveysync.New(a.docs, a.store, sched, surveysync.WithLogger(a.logger))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, or when the
// command's own context is done.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
