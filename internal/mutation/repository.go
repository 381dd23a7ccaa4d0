package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/ids"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// ErrMediaMissing marks a media failure caused by a photo that no longer exists on
// the device. Such failures are not retried.
var ErrMediaMissing = errors.New("media file missing")

// UploadGroup is every metadata-incomplete mutation of one location of interest
// and its submissions. The group is applied remotely as one atomic batch.
//
// Mutations are ordered location of interest create and update first, then
// submissions, then the location of interest delete, each by id.
type UploadGroup struct {
	ParentID  string
	SurveyID  string
	Mutations []model.Mutation
}

// Repository is the only writer of mutation statuses.
type Repository struct {
	store    *store.Store
	clock    clock.Clock
	ids      ids.Generator
	mediaDir string
	logger   *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock sets the clock used for client timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Repository) {
		r.clock = c
	}
}

// WithIDGenerator sets the generator for new entity ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(r *Repository) {
		r.ids = g
	}
}

// WithMediaDir sets the directory photo filenames are resolved against.
func WithMediaDir(dir string) Option {
	return func(r *Repository) {
		r.mediaDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a Repository over st.
func NewRepository(st *store.Store, opts ...Option) *Repository {
	r := &Repository{
		store:  st,
		clock:  clock.System{},
		ids:    ids.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store.
func (r *Repository) Store() *store.Store {
	return r.store
}

// GetIncompleteUploads returns the upload groups that still owe a remote metadata
// write, ordered by their oldest mutation.
func (r *Repository) GetIncompleteUploads(ctx context.Context) ([]UploadGroup, error) {
	pending, err := r.store.MutationsByStatus(ctx, model.MetadataIncompleteStatuses...)
	if err != nil {
		return nil, fmt.Errorf("incomplete uploads: %w", err)
	}
	return groupByParent(pending), nil
}

// groupByParent groups mutations (ordered by id) by their location of interest.
func groupByParent(mutations []model.Mutation) []UploadGroup {
	index := make(map[string]int)
	var groups []UploadGroup
	for _, m := range mutations {
		key := m.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, UploadGroup{ParentID: key, SurveyID: m.SurveyID})
		}
		groups[i].Mutations = append(groups[i].Mutations, m)
	}
	for i := range groups {
		slices.SortStableFunc(groups[i].Mutations, func(a, b model.Mutation) int {
			ra, rb := applyRank(a), applyRank(b)
			if ra != rb {
				return ra - rb
			}
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
	}
	if groups == nil {
		groups = []UploadGroup{}
	}
	return groups
}

// applyRank orders a group for the remote batch: the location of interest is
// written before its submissions, and its delete goes last so that the cascade
// also removes submissions written in the same batch.
func applyRank(m model.Mutation) int {
	switch {
	case m.EntityKind != model.EntityKindLocationOfInterest:
		return 1
	case m.Operation == model.OperationDelete:
		return 2
	default:
		return 0
	}
}

// GetIncompleteMediaMutations returns submission mutations whose media stage has
// not finished: waiting, interrupted, or failed with a retryable error.
func (r *Repository) GetIncompleteMediaMutations(ctx context.Context) ([]model.Mutation, error) {
	candidates, err := r.store.MutationsByStatus(ctx,
		model.StatusMediaUploadPending,
		model.StatusMediaUploadInProgress,
		model.StatusFailedMediaUpload,
	)
	if err != nil {
		return nil, fmt.Errorf("incomplete media: %w", err)
	}
	out := make([]model.Mutation, 0, len(candidates))
	for _, m := range candidates {
		if m.EntityKind != model.EntityKindSubmission {
			continue
		}
		if m.SyncStatus == model.StatusFailedMediaUpload && !m.ErrorCode.Retryable() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkAsInProgress moves records to IN_PROGRESS.
func (r *Repository) MarkAsInProgress(ctx context.Context, records []model.Mutation) error {
	return r.transition(ctx, records, store.StatusUpdate{Status: model.StatusInProgress})
}

// MarkAsFailed moves records to FAILED, counting the attempt and recording cause.
func (r *Repository) MarkAsFailed(ctx context.Context, records []model.Mutation, cause error) error {
	msg := errorMessage(cause)
	code := model.ErrorCodeRemote
	return r.transition(ctx, records, store.StatusUpdate{
		Status:         model.StatusFailed,
		IncrementRetry: true,
		LastError:      &msg,
		ErrorCode:      &code,
	})
}

// MarkAsComplete moves records to COMPLETED.
func (r *Repository) MarkAsComplete(ctx context.Context, records []model.Mutation) error {
	return r.transition(ctx, records, store.StatusUpdate{Status: model.StatusCompleted})
}

// MarkAsMediaUploadInProgress moves records to MEDIA_UPLOAD_IN_PROGRESS.
func (r *Repository) MarkAsMediaUploadInProgress(ctx context.Context, records []model.Mutation) error {
	return r.transition(ctx, records, store.StatusUpdate{Status: model.StatusMediaUploadInProgress})
}

// MarkAsFailedMediaUpload moves records to FAILED_MEDIA_UPLOAD. A cause wrapping
// ErrMediaMissing is recorded as non-retryable.
func (r *Repository) MarkAsFailedMediaUpload(ctx context.Context, records []model.Mutation, cause error) error {
	msg := errorMessage(cause)
	code := model.ErrorCodeMediaUpload
	if errors.Is(cause, ErrMediaMissing) {
		code = model.ErrorCodeMediaMissing
	}
	return r.transition(ctx, records, store.StatusUpdate{
		Status:         model.StatusFailedMediaUpload,
		IncrementRetry: true,
		LastError:      &msg,
		ErrorCode:      &code,
	})
}

// FinalizePendingMutationsForMediaUpload ends the metadata stage of records after
// a successful remote apply. Submission creates and updates that reference photos
// move to MEDIA_UPLOAD_PENDING; everything else is COMPLETED.
func (r *Repository) FinalizePendingMutationsForMediaUpload(ctx context.Context, records []model.Mutation) error {
	var withMedia, done []model.Mutation
	for _, m := range records {
		needs, err := r.needsMediaUpload(ctx, m)
		if err != nil {
			return err
		}
		if needs {
			withMedia = append(withMedia, m)
		} else {
			done = append(done, m)
		}
	}

	return r.store.InTx(ctx, func(tx *store.Tx) error {
		if err := checkTransitions(ctx, tx, withMedia, model.StatusMediaUploadPending); err != nil {
			return err
		}
		if err := checkTransitions(ctx, tx, done, model.StatusCompleted); err != nil {
			return err
		}
		if len(withMedia) > 0 {
			if err := tx.UpdateStatus(ctx, model.IDs(withMedia), store.StatusUpdate{Status: model.StatusMediaUploadPending}); err != nil {
				return err
			}
		}
		if len(done) > 0 {
			if err := tx.UpdateStatus(ctx, model.IDs(done), store.StatusUpdate{Status: model.StatusCompleted}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) needsMediaUpload(ctx context.Context, m model.Mutation) (bool, error) {
	if m.EntityKind != model.EntityKindSubmission || m.Operation == model.OperationDelete {
		return false, nil
	}
	photos, err := r.GetPhotoData(ctx, m)
	if err != nil {
		return false, err
	}
	return len(photos) > 0, nil
}

// transition validates and applies one status change to every record atomically.
func (r *Repository) transition(ctx context.Context, records []model.Mutation, u store.StatusUpdate) error {
	if len(records) == 0 {
		return nil
	}
	err := r.store.InTx(ctx, func(tx *store.Tx) error {
		if err := checkTransitions(ctx, tx, records, u.Status); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, model.IDs(records), u)
	})
	if err != nil {
		return fmt.Errorf("mark %d mutations %s: %w", len(records), u.Status, err)
	}
	r.logger.Debug("mutations transitioned", "status", u.Status, "ids", model.IDs(records))
	return nil
}

// checkTransitions validates against the stored statuses, not the caller's copies.
func checkTransitions(ctx context.Context, tx *store.Tx, records []model.Mutation, to model.SyncStatus) error {
	if len(records) == 0 {
		return nil
	}
	current, err := tx.GetMutations(ctx, model.IDs(records))
	if err != nil {
		return err
	}
	if len(current) != len(records) {
		return fmt.Errorf("%d of %d mutations: %w", len(records)-len(current), len(records), store.ErrNotFound)
	}
	return validateAll(current, to)
}

// PendingCounts summarizes work still owed to the remote store.
type PendingCounts struct {
	Metadata int
	Media    int
	// Stuck counts media failures that will not be retried.
	Stuck int
}

// Pending counts the mutations the workers will pick up on their next run.
func (r *Repository) Pending(ctx context.Context) (PendingCounts, error) {
	groups, err := r.GetIncompleteUploads(ctx)
	if err != nil {
		return PendingCounts{}, err
	}
	media, err := r.GetIncompleteMediaMutations(ctx)
	if err != nil {
		return PendingCounts{}, err
	}
	failedMedia, err := r.store.MutationsByStatus(ctx, model.StatusFailedMediaUpload)
	if err != nil {
		return PendingCounts{}, err
	}

	var counts PendingCounts
	for _, g := range groups {
		counts.Metadata += len(g.Mutations)
	}
	counts.Media = len(media)
	for _, m := range failedMedia {
		if !m.ErrorCode.Retryable() {
			counts.Stuck++
		}
	}
	return counts, nil
}

// Mutations lists the mutations of a survey (all surveys when empty).
func (r *Repository) Mutations(ctx context.Context, surveyID string) ([]model.Mutation, error) {
	return r.store.MutationsBySurvey(ctx, surveyID)
}

// Watch streams the mutations of a survey after every change.
func (r *Repository) Watch(ctx context.Context, surveyID string) (<-chan []model.Mutation, error) {
	return r.store.WatchMutations(ctx, surveyID)
}

// PurgeCompleted deletes COMPLETED mutations.
func (r *Repository) PurgeCompleted(ctx context.Context) (int64, error) {
	return r.store.PurgeMutations(ctx, model.StatusCompleted)
}

// PurgeFailed deletes FAILED and FAILED_MEDIA_UPLOAD mutations. The edits they
// carried will never reach the remote store.
func (r *Repository) PurgeFailed(ctx context.Context) (int64, error) {
	return r.store.PurgeMutations(ctx, model.StatusFailed, model.StatusFailedMediaUpload)
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
