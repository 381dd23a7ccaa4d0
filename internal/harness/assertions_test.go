package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddEvent(TraceEvent{Type: EventStep, Action: ActionCreateLOI, Args: map[string]interface{}{"loi": "a"}, Case: CaseOK})
	r.AddEvent(TraceEvent{Type: EventStep, Action: ActionSync, Case: "retry"})
	r.AddEvent(TraceEvent{Type: EventCommit, Action: EventCommit, Writes: []TraceWrite{{Op: "MERGE", Path: "surveys/s/lois/a"}}})
	r.AddEvent(TraceEvent{Type: EventCommit, Action: EventCommit, Writes: []TraceWrite{{Op: "MERGE", Path: "surveys/s/lois/b"}}, Error: "injected failure"})
	r.AddEvent(TraceEvent{Type: EventStep, Action: ActionUploadMedia, Case: "success"})
	r.AddEvent(TraceEvent{Type: EventUpload, Action: EventUpload, Path: "user-media/surveys/s/submissions/p.jpg"})
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: EventCommit}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: EventCommit, Path: "surveys/s/lois/b"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: EventUpload, Path: "user-media/surveys/s/submissions/p.jpg"}))

	err := assertTraceContains(trace, Assertion{Action: EventCommit, Path: "surveys/s/lois/c"})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Equal(t, "commit surveys/s/lois/c", aerr.Expected)
	assert.Equal(t, "not found in trace", aerr.Actual)
	assert.Len(t, aerr.Trace, len(trace))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name    string
		actions []string
		wantErr string
	}{
		{"in order", []string{"create_loi", "sync", "upload"}, ""},
		{"with paths", []string{"commit surveys/s/lois/a", "commit surveys/s/lois/b"}, ""},
		{"intervening events allowed", []string{"create_loi", "upload_media"}, ""},
		{"repeated action", []string{"commit", "commit"}, ""},
		{"wrong order", []string{"commit surveys/s/lois/b", "commit surveys/s/lois/a"}, `no "commit surveys/s/lois/a" after "commit surveys/s/lois/b"`},
		{"too many", []string{"sync", "sync"}, `no "sync" after "sync"`},
		{"missing", []string{"delete_loi"}, `missing "delete_loi"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(trace, Assertion{Actions: tt.actions})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: EventCommit, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: EventCommit, Path: "surveys/s/lois/a", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionDeleteLOI, Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: EventCommit, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 occurrences of commit")
	assert.Contains(t, err.Error(), "Actual: 2 occurrences")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of commit",
		Actual:   "2 occurrences",
		Trace:    sampleTrace(),
	}

	want := `Assertion failed: trace_count
  Expected: 1 occurrences of commit
  Actual: 2 occurrences

Full trace:
  [1] create_loi loi=a -> ok
  [2] sync -> retry
  [3] commit [MERGE surveys/s/lois/a]
  [4] commit [MERGE surveys/s/lois/b] error: injected failure
  [5] upload_media -> success
  [6] upload user-media/surveys/s/submissions/p.jpg
`
	assert.Equal(t, want, err.Error())
}

func TestAssertionError_NoTrace(t *testing.T) {
	err := &AssertionError{Type: AssertBlob, Expected: "x exists", Actual: "x absent"}
	assert.NotContains(t, err.Error(), "Full trace")
}

func newAssertStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(`
		INSERT INTO mutations (survey_id, type, operation, state, retry_count, error_code, client_timestamp, location_of_interest_id, deltas)
		VALUES
			('s', 'LOCATION_OF_INTEREST', 'CREATE', 'COMPLETED', 0, '', 1, 'a', '{}'),
			('s', 'LOCATION_OF_INTEREST', 'CREATE', 'FAILED', 2, 'REMOTE', 2, 'b', '{}'),
			('s', 'LOCATION_OF_INTEREST', 'UPDATE', 'PENDING', 0, '', 3, 'b', '{}')
	`)
	require.NoError(t, err)
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := newAssertStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{
			name: "row found",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "a"},
				Expect: map[string]interface{}{"state": "COMPLETED", "retry_count": 0}},
		},
		{
			name: "multiple where conditions",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "b", "operation": "CREATE"},
				Expect: map[string]interface{}{"state": "FAILED", "retry_count": 2, "error_code": "REMOTE"}},
		},
		{
			name: "row not found",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "z"},
				Expect: map[string]interface{}{"state": "COMPLETED"}},
			wantErr: "row not found",
		},
		{
			name: "ambiguous",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "b"},
				Expect: map[string]interface{}{"state": "FAILED"}},
			wantErr: "multiple rows matched",
		},
		{
			name: "value mismatch",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "a"},
				Expect: map[string]interface{}{"state": "FAILED"}},
			wantErr: `field "state" = FAILED`,
		},
		{
			name: "type mismatch",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "a"},
				Expect: map[string]interface{}{"retry_count": "0"}},
			wantErr: `field "retry_count"`,
		},
		{
			name: "missing column",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"location_of_interest_id": "a"},
				Expect: map[string]interface{}{"colour": "red"}},
			wantErr: `field "colour" to exist`,
		},
		{
			name:    "table not found",
			a:       Assertion{Table: "nope", Expect: map[string]interface{}{"x": 1}},
			wantErr: "query error",
		},
		{
			name:    "invalid table name",
			a:       Assertion{Table: "mutations; DROP TABLE mutations", Expect: map[string]interface{}{"x": 1}},
			wantErr: "invalid table name",
		},
		{
			name: "invalid column name",
			a: Assertion{Table: "mutations", Where: map[string]interface{}{"id = 1 OR 1": 1},
				Expect: map[string]interface{}{"x": 1}},
			wantErr: "invalid column name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertRemoteDocumentAndBlob(t *testing.T) {
	fake := testutil.NewFakeRemote()
	require.NoError(t, fake.Commit(context.Background(), []remote.Write{
		{Path: "surveys/s/lois/a", Op: remote.OpMerge, Data: map[string]any{"1": "a"}},
	}))
	blobs := testutil.NewFakeBlobStore()
	no := false

	assert.NoError(t, assertRemoteDocument(fake, Assertion{Path: "surveys/s/lois/a"}))
	assert.NoError(t, assertRemoteDocument(fake, Assertion{Path: "surveys/s/lois/b", Exists: &no}))
	err := assertRemoteDocument(fake, Assertion{Path: "surveys/s/lois/a", Exists: &no})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: surveys/s/lois/a absent")
	assert.Contains(t, err.Error(), "documents: [surveys/s/lois/a]")

	assert.NoError(t, assertBlob(blobs, Assertion{Path: "p.jpg", Exists: &no}))
	err = assertBlob(blobs, Assertion{Path: "p.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: p.jpg absent")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	sql, args, err = buildWhereClause(map[string]interface{}{"state": "FAILED", "id": 3, "location_of_interest_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "id = ? AND location_of_interest_id = ? AND state = ?", sql)
	assert.Equal(t, []interface{}{3, "a", "FAILED"}, args)
}

func TestToSQLValue(t *testing.T) {
	assert.Equal(t, "x", toSQLValue("x"))
	assert.Equal(t, 3, toSQLValue(3))
	assert.Equal(t, int64(2), toSQLValue(2.0))
	assert.Equal(t, 2.5, toSQLValue(2.5))
	assert.Equal(t, true, toSQLValue(true))
	assert.Equal(t, "[a]", toSQLValue([]interface{}{"a"}))
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "id=1 AND state=FAILED", formatWhereClause(map[string]interface{}{"state": "FAILED", "id": 1}))
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("a", "a"))
	assert.True(t, stateValuesEqual("a", []byte("a")))
	assert.False(t, stateValuesEqual("a", "b"))
	assert.True(t, stateValuesEqual(1, int64(1)))
	assert.True(t, stateValuesEqual(int64(1), int64(1)))
	assert.False(t, stateValuesEqual(1, "1"))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(false, int64(0)))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual(nil, "a"))
	assert.False(t, stateValuesEqual("a", nil))
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Trace: sampleTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Action: EventUpload},
		{Type: AssertTraceCount, Action: EventCommit, Count: 5},
		{Type: AssertFinalState, Table: "mutations", Expect: map[string]interface{}{"state": "x"}},
		{Type: AssertRemoteDocument, Path: "x"},
		{Type: AssertBlob, Path: "x"},
		{Type: "vibes"},
	}, nil)

	require.Len(t, errs, 5)
	assert.Contains(t, errs[0], "trace_count")
	assert.Contains(t, errs[1], "final_state requires database context")
	assert.Contains(t, errs[2], "remote_document requires a remote")
	assert.Contains(t, errs[3], "blob requires a blob store")
	assert.Contains(t, errs[4], `unknown assertion type "vibes"`)
}
