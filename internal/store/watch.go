package store

import (
	"context"
	"slices"

	"github.com/roach88/fieldsync/internal/model"
)

// watcher receives a signal after every committed write to the mutations table.
type watcher struct {
	signal chan struct{} // buffered, size 1
}

// WatchMutations streams the mutations of a survey (all surveys when surveyID is
// empty). The current list is sent first, then a fresh list after every committed
// change that alters it. Several commits in quick succession may be coalesced into
// one list.
//
// The channel is closed when ctx is done or a reload fails.
func (s *Store) WatchMutations(ctx context.Context, surveyID string) (<-chan []model.Mutation, error) {
	w := &watcher{signal: make(chan struct{}, 1)}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	// Registered before the first load: a commit in between leaves a signal and
	// is picked up by the first reload.
	current, err := s.MutationsBySurvey(ctx, surveyID)
	if err != nil {
		s.unwatch(w)
		return nil, err
	}

	out := make(chan []model.Mutation)
	go func() {
		defer close(out)
		defer s.unwatch(w)

		pending := current
		for {
			select {
			case out <- pending:
			case <-ctx.Done():
				return
			}

			for {
				select {
				case <-w.signal:
				case <-ctx.Done():
					return
				}
				next, err := s.MutationsBySurvey(ctx, surveyID)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Error("mutation watch reload failed", "survey_id", surveyID, "error", err)
					}
					return
				}
				if !slices.EqualFunc(next, pending, mutationEqual) {
					pending = next
					break
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) unwatch(w *watcher) {
	s.mu.Lock()
	delete(s.watchers, w)
	s.mu.Unlock()
}

// notifyMutations wakes every watcher. Non-blocking: pending signals coalesce.
func (s *Store) notifyMutations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

func mutationEqual(a, b model.Mutation) bool {
	if (a.DeltaPayload == nil) != (b.DeltaPayload == nil) {
		return false
	}
	if a.DeltaPayload != nil && *a.DeltaPayload != *b.DeltaPayload {
		return false
	}
	a.DeltaPayload, b.DeltaPayload = nil, nil
	return a == b
}
