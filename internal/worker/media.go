package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/mutation"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/scheduler"
)

// MediaWorker uploads the photos referenced by submission mutations whose
// metadata has already been applied.
type MediaWorker struct {
	repo    *mutation.Repository
	blobs   remote.BlobStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// MediaOption configures a MediaWorker.
type MediaOption func(*MediaWorker)

// WithMediaMetrics sets the metrics sink.
func WithMediaMetrics(m *metrics.Metrics) MediaOption {
	return func(w *MediaWorker) {
		w.metrics = m
	}
}

// WithMediaLogger sets the logger.
func WithMediaLogger(logger *slog.Logger) MediaOption {
	return func(w *MediaWorker) {
		w.logger = logger
	}
}

// NewMediaWorker creates a MediaWorker.
func NewMediaWorker(repo *mutation.Repository, blobs remote.BlobStore, opts ...MediaOption) *MediaWorker {
	w := &MediaWorker{
		repo:   repo,
		blobs:  blobs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run makes one pass over every mutation with unfinished media. It returns
// Success only when every mutation's photos were uploaded.
func (w *MediaWorker) Run(ctx context.Context) scheduler.Result {
	pending, err := w.repo.GetIncompleteMediaMutations(ctx)
	if err != nil {
		w.logger.Error("load media mutations", "error", err)
		return scheduler.Retry
	}
	if len(pending) == 0 {
		return scheduler.Success
	}

	w.logger.Info("media upload starting", "mutations", len(pending))
	result := scheduler.Success
	for _, m := range pending {
		if ctx.Err() != nil {
			w.logger.Info("media upload cancelled")
			return scheduler.Retry
		}
		if err := w.uploadMutation(ctx, m); err != nil {
			result = scheduler.Retry
			w.logger.Warn("media upload failed", "mutation_id", m.ID, "error", err)
		}
	}
	return result
}

// uploadMutation attempts every photo of m, then records the outcome. The first
// error is recorded, except that a missing file always wins since retrying
// cannot bring it back.
func (w *MediaWorker) uploadMutation(ctx context.Context, m model.Mutation) error {
	records := []model.Mutation{m}
	if err := w.repo.MarkAsMediaUploadInProgress(ctx, records); err != nil {
		return err
	}

	photos, err := w.repo.GetPhotoData(ctx, m)
	if err != nil {
		w.markFailed(ctx, m, err)
		return err
	}

	var firstErr error
	for _, p := range photos {
		err := w.uploadPhoto(ctx, p)
		w.metrics.ObserveMediaUpload(err)
		if err == nil {
			w.logger.Debug("photo uploaded", "mutation_id", m.ID, "remote_path", p.RemotePath)
			continue
		}
		if firstErr == nil || (errors.Is(err, mutation.ErrMediaMissing) && !errors.Is(firstErr, mutation.ErrMediaMissing)) {
			firstErr = err
		}
	}

	if firstErr != nil {
		w.markFailed(ctx, m, firstErr)
		return firstErr
	}
	return w.repo.MarkAsComplete(ctx, records)
}

func (w *MediaWorker) uploadPhoto(ctx context.Context, p mutation.PhotoRef) error {
	if _, err := os.Stat(p.LocalPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("photo %s: %w", p.Filename, mutation.ErrMediaMissing)
		}
		return fmt.Errorf("photo %s: %w", p.Filename, err)
	}
	if err := w.blobs.Upload(ctx, p.LocalPath, p.RemotePath); err != nil {
		return fmt.Errorf("photo %s: %w", p.Filename, err)
	}
	return nil
}

func (w *MediaWorker) markFailed(ctx context.Context, m model.Mutation, cause error) {
	if err := w.repo.MarkAsFailedMediaUpload(context.WithoutCancel(ctx), []model.Mutation{m}, cause); err != nil {
		w.logger.Error("mark media upload failed", "mutation_id", m.ID, "error", err)
	}
}
