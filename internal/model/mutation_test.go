package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(s string) *string { return &s }

func TestMutation_Validate(t *testing.T) {
	base := Mutation{
		EntityKind:     EntityKindSubmission,
		Operation:      OperationCreate,
		SurveyID:       "s1",
		ParentEntityID: "loi-1",
		JobID:          "job-1",
		EntityID:       "sub-1",
		DeltaPayload:   payload(`{"deltas":{},"version":1}`),
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(m *Mutation)
		errMsg string
	}{
		{"create without payload", func(m *Mutation) { m.DeltaPayload = nil }, "requires a delta payload"},
		{"update without payload", func(m *Mutation) { m.Operation = OperationUpdate; m.DeltaPayload = nil }, "requires a delta payload"},
		{"delete with payload", func(m *Mutation) { m.Operation = OperationDelete }, "must not carry"},
		{"unknown operation", func(m *Mutation) { m.Operation = "UPSERT" }, "invalid operation"},
		{"unknown kind", func(m *Mutation) { m.EntityKind = "PHOTO" }, "invalid entity kind"},
		{"missing entity", func(m *Mutation) { m.EntityID = "" }, "entity id"},
		{"missing survey", func(m *Mutation) { m.SurveyID = "" }, "survey id"},
		{"orphan submission", func(m *Mutation) { m.ParentEntityID = "" }, "parent"},
		{"loi with parent", func(m *Mutation) { m.EntityKind = EntityKindLocationOfInterest }, "must not have a parent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMutation_DeleteWithoutPayloadIsValid(t *testing.T) {
	m := Mutation{
		EntityKind: EntityKindLocationOfInterest,
		Operation:  OperationDelete,
		SurveyID:   "s1",
		EntityID:   "loi-1",
	}
	assert.NoError(t, m.Validate())
}

func TestMutation_GroupKey(t *testing.T) {
	loi := Mutation{EntityKind: EntityKindLocationOfInterest, EntityID: "loi-1"}
	sub := Mutation{EntityKind: EntityKindSubmission, EntityID: "sub-1", ParentEntityID: "loi-1"}

	assert.Equal(t, "loi-1", loi.GroupKey())
	assert.Equal(t, "loi-1", sub.GroupKey())
}

func TestParseSyncStatus(t *testing.T) {
	for _, st := range AllStatuses {
		got, err := ParseSyncStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseSyncStatus("DONE")
	assert.Error(t, err)
}

func TestErrorCode_Retryable(t *testing.T) {
	assert.True(t, ErrorCodeRemote.Retryable())
	assert.True(t, ErrorCodeMediaUpload.Retryable())
	assert.False(t, ErrorCodeMediaMissing.Retryable())
}

func TestDocumentPaths(t *testing.T) {
	assert.Equal(t, "surveys/s1/lois/l1", LOIDocumentPath("s1", "l1"))
	assert.Equal(t, "surveys/s1/lois/l1/submissions/x", SubmissionDocumentPath("s1", "l1", "x"))
	assert.Equal(t, "user-media/surveys/s1/submissions/p.jpg", PhotoRemotePath("s1", "p.jpg"))
}
