package mutation

import (
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// transitions is the mutation state machine. A status maps to the statuses it may
// move to. COMPLETED has no entry: it is terminal.
//
// The IN_PROGRESS -> IN_PROGRESS and MEDIA_UPLOAD_IN_PROGRESS -> MEDIA_UPLOAD_IN_PROGRESS
// self loops let a worker pick up records left in progress by a crash.
var transitions = map[model.SyncStatus][]model.SyncStatus{
	model.StatusPending: {
		model.StatusInProgress,
	},
	model.StatusInProgress: {
		model.StatusInProgress,
		model.StatusCompleted,
		model.StatusFailed,
		model.StatusMediaUploadPending,
	},
	model.StatusFailed: {
		model.StatusInProgress,
	},
	model.StatusMediaUploadPending: {
		model.StatusMediaUploadInProgress,
	},
	model.StatusMediaUploadInProgress: {
		model.StatusMediaUploadInProgress,
		model.StatusCompleted,
		model.StatusFailedMediaUpload,
	},
	model.StatusFailedMediaUpload: {
		model.StatusMediaUploadInProgress,
	},
}

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	MutationID int64
	From       model.SyncStatus
	To         model.SyncStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: mutation %d cannot move from %s to %s", e.MutationID, e.From, e.To)
}

// IsTransitionError returns true if err is, or wraps, a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// CanTransition reports whether a mutation in status from may move to status to.
func CanTransition(from, to model.SyncStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError if m may not move to status to.
func ValidateTransition(m model.Mutation, to model.SyncStatus) error {
	if !CanTransition(m.SyncStatus, to) {
		return &TransitionError{MutationID: m.ID, From: m.SyncStatus, To: to}
	}
	return nil
}

// validateAll checks every record before any of them is changed.
func validateAll(records []model.Mutation, to model.SyncStatus) error {
	for _, m := range records {
		if err := ValidateTransition(m, to); err != nil {
			return err
		}
	}
	return nil
}
