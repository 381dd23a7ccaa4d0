// Package surveysync pulls survey definitions and their locations of interest
// from the remote side into the local store.
//
// Pulling never touches mutations, and never overwrites a location of interest
// that still has local edits waiting to be synced.
package surveysync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/scheduler"
	"github.com/roach88/fieldsync/internal/store"
)

// WorkNamePrefix prefixes the unique work name of a survey's sync.
const WorkNamePrefix = "survey-sync:"

// WorkName returns the unique work name for syncing surveyID.
func WorkName(surveyID string) string {
	return WorkNamePrefix + surveyID
}

// Enqueuer schedules named work. Implemented by *scheduler.Scheduler.
type Enqueuer interface {
	Enqueue(name string, policy scheduler.Policy, job scheduler.Job) bool
}

// Summary describes the outcome of one pull.
type Summary struct {
	SurveyID string
	// Updated counts locations of interest written from the remote copy.
	Updated int
	// Kept counts locations of interest left alone because of outstanding local edits.
	Kept int
	// Removed counts local locations of interest no longer present remotely.
	Removed int
}

// Service pulls surveys.
type Service struct {
	reader   remote.SurveyReader
	store    *store.Store
	enqueuer Enqueuer
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a Service.
func New(reader remote.SurveyReader, st *store.Store, enqueuer Enqueuer, opts ...Option) *Service {
	s := &Service{
		reader:   reader,
		store:    st,
		enqueuer: enqueuer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueSync schedules a pull of surveyID. Requests for the same survey run one
// after another; requests for different surveys may run concurrently.
func (s *Service) EnqueueSync(surveyID string) bool {
	return s.enqueuer.Enqueue(WorkName(surveyID), scheduler.Append, func(ctx context.Context) scheduler.Result {
		if _, err := s.Sync(ctx, surveyID); err != nil {
			s.logger.Warn("survey sync failed", "survey_id", surveyID, "error", err)
			return scheduler.Retry
		}
		return scheduler.Success
	})
}

// Sync pulls surveyID now.
func (s *Service) Sync(ctx context.Context, surveyID string) (Summary, error) {
	summary := Summary{SurveyID: surveyID}

	survey, err := s.reader.FetchSurvey(ctx, surveyID)
	if err != nil {
		return summary, fmt.Errorf("fetch survey %s: %w", surveyID, err)
	}
	lois, err := s.reader.FetchLocationsOfInterest(ctx, surveyID)
	if err != nil {
		return summary, fmt.Errorf("fetch locations of interest of %s: %w", surveyID, err)
	}
	local, err := s.store.ListLocationsOfInterest(ctx, surveyID)
	if err != nil {
		return summary, err
	}

	remoteIDs := make(map[string]bool, len(lois))
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpsertSurvey(ctx, survey); err != nil {
			return err
		}

		for _, loi := range lois {
			remoteIDs[loi.ID] = true
			busy, err := tx.HasOutstandingMutations(ctx, loi.ID)
			if err != nil {
				return err
			}
			if busy {
				summary.Kept++
				continue
			}
			loi.SurveyID = surveyID
			loi.State = model.EntityStateDefault
			if err := tx.UpsertLocationOfInterest(ctx, loi); err != nil {
				return err
			}
			summary.Updated++
		}

		for _, loi := range local {
			if remoteIDs[loi.ID] {
				continue
			}
			busy, err := tx.HasOutstandingMutations(ctx, loi.ID)
			if err != nil {
				return err
			}
			if busy {
				summary.Kept++
				continue
			}
			if err := tx.MarkLocationOfInterestDeleted(ctx, loi.ID); err != nil {
				return err
			}
			summary.Removed++
		}
		return nil
	})
	if err != nil {
		return Summary{SurveyID: surveyID}, fmt.Errorf("store survey %s: %w", surveyID, err)
	}

	s.logger.Info("survey synced",
		"survey_id", surveyID,
		"updated", summary.Updated,
		"kept", summary.Kept,
		"removed", summary.Removed,
	)
	return summary, nil
}
