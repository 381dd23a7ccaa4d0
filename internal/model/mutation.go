package model

import (
	"fmt"
	"time"
)

// EntityKind identifies what a mutation edits.
type EntityKind string

const (
	EntityKindLocationOfInterest EntityKind = "LOCATION_OF_INTEREST"
	EntityKindSubmission         EntityKind = "SUBMISSION"
)

// Operation is the kind of edit a mutation records. It never changes after insert.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// SyncStatus is the position of a mutation in the sync state machine.
type SyncStatus string

const (
	StatusPending               SyncStatus = "PENDING"
	StatusInProgress            SyncStatus = "IN_PROGRESS"
	StatusMediaUploadPending    SyncStatus = "MEDIA_UPLOAD_PENDING"
	StatusMediaUploadInProgress SyncStatus = "MEDIA_UPLOAD_IN_PROGRESS"
	StatusCompleted             SyncStatus = "COMPLETED"
	StatusFailed                SyncStatus = "FAILED"
	StatusFailedMediaUpload     SyncStatus = "FAILED_MEDIA_UPLOAD"
)

// AllStatuses lists every status in state machine order.
var AllStatuses = []SyncStatus{
	StatusPending,
	StatusInProgress,
	StatusMediaUploadPending,
	StatusMediaUploadInProgress,
	StatusCompleted,
	StatusFailed,
	StatusFailedMediaUpload,
}

// MetadataIncompleteStatuses are the statuses still owed a remote metadata write.
// IN_PROGRESS is included so that a pass interrupted by a crash is picked up again.
var MetadataIncompleteStatuses = []SyncStatus{
	StatusPending,
	StatusInProgress,
	StatusFailed,
}

// ParseSyncStatus converts a stored or user supplied string into a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// ErrorCode classifies the last failure recorded on a mutation.
type ErrorCode string

const (
	ErrorCodeNone ErrorCode = ""
	// ErrorCodeRemote is a failed remote metadata write (network, permission, encoding).
	ErrorCodeRemote ErrorCode = "REMOTE"
	// ErrorCodeMediaUpload is a failed blob upload; retrying may succeed.
	ErrorCodeMediaUpload ErrorCode = "MEDIA_UPLOAD"
	// ErrorCodeMediaMissing means a referenced photo no longer exists on the device.
	// Retrying cannot help.
	ErrorCodeMediaMissing ErrorCode = "MEDIA_MISSING"
)

// Retryable reports whether a failure with this code may succeed on a later attempt.
func (c ErrorCode) Retryable() bool {
	return c != ErrorCodeMediaMissing
}

// Mutation is the durable record of a single local create, update or delete.
//
// Operation and EntityID are fixed at insert. SyncStatus, RetryCount, LastError and
// ErrorCode are the only fields that change afterwards.
type Mutation struct {
	ID              int64
	EntityKind      EntityKind
	Operation       Operation
	SurveyID        string
	ParentEntityID  string // LOI id for submissions, empty for LOI mutations
	JobID           string
	EntityID        string
	CollectionID    string
	UserID          string
	ClientTimestamp time.Time

	// DeltaPayload is the encoded delta. Nil for DELETE, required otherwise.
	DeltaPayload *string

	SyncStatus SyncStatus
	RetryCount int
	LastError  string
	ErrorCode  ErrorCode
}

// GroupKey returns the id of the location of interest this mutation belongs to.
// Mutations sharing a group key are applied remotely as one batch.
func (m Mutation) GroupKey() string {
	if m.EntityKind == EntityKindSubmission {
		return m.ParentEntityID
	}
	return m.EntityID
}

// Validate checks the insert-time invariants of a mutation.
func (m Mutation) Validate() error {
	switch m.EntityKind {
	case EntityKindLocationOfInterest, EntityKindSubmission:
	default:
		return fmt.Errorf("invalid entity kind %q", m.EntityKind)
	}
	switch m.Operation {
	case OperationCreate, OperationUpdate:
		if m.DeltaPayload == nil {
			return fmt.Errorf("%s mutation of %s requires a delta payload", m.Operation, m.EntityID)
		}
	case OperationDelete:
		if m.DeltaPayload != nil {
			return fmt.Errorf("DELETE mutation of %s must not carry a delta payload", m.EntityID)
		}
	default:
		return fmt.Errorf("invalid operation %q", m.Operation)
	}
	if m.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if m.SurveyID == "" {
		return fmt.Errorf("survey id is required")
	}
	if m.EntityKind == EntityKindSubmission && m.ParentEntityID == "" {
		return fmt.Errorf("submission mutation %s requires a parent location of interest", m.EntityID)
	}
	if m.EntityKind == EntityKindLocationOfInterest && m.ParentEntityID != "" {
		return fmt.Errorf("location of interest mutation %s must not have a parent", m.EntityID)
	}
	return nil
}

// IDs returns the ids of the given mutations in order.
func IDs(mutations []Mutation) []int64 {
	ids := make([]int64, len(mutations))
	for i, m := range mutations {
		ids[i] = m.ID
	}
	return ids
}
