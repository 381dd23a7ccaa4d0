package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/mutation"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/scheduler"
)

// Work names used with the scheduler.
const (
	MetadataWorkName = "mutation-sync"
	MediaWorkName    = "media-upload"
)

// Enqueuer schedules named work. Implemented by *scheduler.Scheduler.
type Enqueuer interface {
	Enqueue(name string, policy scheduler.Policy, job scheduler.Job) bool
}

// Applier applies one upload group to the remote store. Implemented by
// *remote.Applier.
type Applier interface {
	Apply(ctx context.Context, mutations []model.Mutation) error
}

// MetadataWorker applies upload groups to the remote document store.
type MetadataWorker struct {
	repo     *mutation.Repository
	applier  Applier
	enqueuer Enqueuer
	media    *MediaWorker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// MetadataOption configures a MetadataWorker.
type MetadataOption func(*MetadataWorker)

// WithMediaFollowUp makes the worker schedule media after a pass in which at
// least one group was applied.
func WithMediaFollowUp(e Enqueuer, media *MediaWorker) MetadataOption {
	return func(w *MetadataWorker) {
		w.enqueuer = e
		w.media = media
	}
}

// WithMetadataMetrics sets the metrics sink.
func WithMetadataMetrics(m *metrics.Metrics) MetadataOption {
	return func(w *MetadataWorker) {
		w.metrics = m
	}
}

// WithMetadataLogger sets the logger.
func WithMetadataLogger(logger *slog.Logger) MetadataOption {
	return func(w *MetadataWorker) {
		w.logger = logger
	}
}

// NewMetadataWorker creates a MetadataWorker.
func NewMetadataWorker(repo *mutation.Repository, applier Applier, opts ...MetadataOption) *MetadataWorker {
	w := &MetadataWorker{
		repo:    repo,
		applier: applier,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run makes one pass over every incomplete upload group. Groups are processed
// one at a time; a failed group does not stop the others.
//
// Run returns Success only when every group was applied. Cancellation between
// groups leaves the groups already handled in their reached states and returns
// Retry.
//
// Run panics if the apply protocol reports remote.ErrUnknownOperation: that is a
// programming error and retrying cannot fix it.
func (w *MetadataWorker) Run(ctx context.Context) scheduler.Result {
	groups, err := w.repo.GetIncompleteUploads(ctx)
	if err != nil {
		w.logger.Error("load upload groups", "error", err)
		return scheduler.Retry
	}
	if len(groups) == 0 {
		return scheduler.Success
	}

	w.logger.Info("metadata sync starting", "groups", len(groups))
	applied, failed := 0, 0
	for _, g := range groups {
		if ctx.Err() != nil {
			w.logger.Info("metadata sync cancelled", "remaining", len(groups)-applied-failed)
			failed = len(groups) - applied
			break
		}
		if err := w.syncGroup(ctx, g); err != nil {
			failed++
			w.logger.Warn("upload group failed",
				"group", g.ParentID,
				"mutations", len(g.Mutations),
				"error", err,
			)
			continue
		}
		applied++
	}

	if applied > 0 && w.enqueuer != nil && w.media != nil {
		w.enqueuer.Enqueue(MediaWorkName, scheduler.Append, w.media.Run)
	}
	w.logger.Info("metadata sync finished", "applied", applied, "failed", failed)

	if failed > 0 {
		return scheduler.Retry
	}
	return scheduler.Success
}

// syncGroup drives one group through IN_PROGRESS to its post-apply status. On a
// failed apply the whole group is marked FAILED.
func (w *MetadataWorker) syncGroup(ctx context.Context, g mutation.UploadGroup) error {
	if err := w.repo.MarkAsInProgress(ctx, g.Mutations); err != nil {
		return err
	}

	err := w.applier.Apply(ctx, g.Mutations)
	if errors.Is(err, remote.ErrUnknownOperation) {
		panic(err)
	}
	if err == nil {
		// The batch has landed remotely; record that even if ctx is done.
		err = w.repo.FinalizePendingMutationsForMediaUpload(context.WithoutCancel(ctx), g.Mutations)
	}
	w.metrics.ObserveGroup(len(g.Mutations), err)
	if err == nil {
		return nil
	}

	// Record the failure even when ctx was cancelled mid-apply.
	if markErr := w.repo.MarkAsFailed(context.WithoutCancel(ctx), g.Mutations, err); markErr != nil {
		w.logger.Error("mark upload group failed", "group", g.ParentID, "error", markErr)
	}
	return err
}
