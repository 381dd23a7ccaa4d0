package surveysync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/scheduler"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

var survey = model.Survey{ID: "s1", Title: "Wells", Jobs: map[string]model.Job{
	"job-1": {ID: "job-1", Tasks: []model.Task{{ID: "pin", Type: model.TaskTypeDropPin, AddLOITask: true}}},
}}

func loi(id, tag string) model.LocationOfInterest {
	return model.LocationOfInterest{ID: id, SurveyID: "s1", JobID: "job-1", CustomTag: tag, Geometry: model.Point{Lat: 1, Lng: 1}}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func pendingMutation(loiID string) model.Mutation {
	payload := `{"deltas":{},"version":1}`
	return model.Mutation{
		EntityKind:      model.EntityKindLocationOfInterest,
		Operation:       model.OperationUpdate,
		SurveyID:        "s1",
		JobID:           "job-1",
		EntityID:        loiID,
		ClientTimestamp: time.UnixMilli(1700000000000),
		DeltaPayload:    &payload,
	}
}

func TestSync_WritesSurveyAndLocations(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fake := testutil.NewFakeRemote()
	require.NoError(t, fake.SeedSurvey(survey, loi("l1", "A"), loi("l2", "B")))

	svc := New(fake, st, nil)
	summary, err := svc.Sync(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Summary{SurveyID: "s1", Updated: 2}, summary)

	got, err := st.GetSurvey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, survey, got)

	lois, err := st.ListLocationsOfInterest(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, lois, 2)
	assert.Equal(t, "A", lois[0].CustomTag)
}

func TestSync_KeepsLocationsWithOutstandingEdits(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.UpsertSurvey(ctx, survey))
	require.NoError(t, st.UpsertLocationOfInterest(ctx, loi("l1", "local edit")))
	require.NoError(t, st.UpsertLocationOfInterest(ctx, loi("l9", "local only")))
	_, err := st.InsertMutation(ctx, pendingMutation("l1"))
	require.NoError(t, err)
	_, err = st.InsertMutation(ctx, pendingMutation("l9"))
	require.NoError(t, err)
	before, err := st.MutationsBySurvey(ctx, "s1")
	require.NoError(t, err)

	fake := testutil.NewFakeRemote()
	require.NoError(t, fake.SeedSurvey(survey, loi("l1", "remote")))

	summary, err := New(fake, st, nil).Sync(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Summary{SurveyID: "s1", Kept: 2}, summary)

	got, err := st.GetLocationOfInterest(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "local edit", got.CustomTag)

	after, err := st.MutationsBySurvey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "pulling never touches mutations")
}

func TestSync_RemovesLocationsDeletedRemotely(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.UpsertSurvey(ctx, survey))
	require.NoError(t, st.UpsertLocationOfInterest(ctx, loi("gone", "")))

	fake := testutil.NewFakeRemote()
	require.NoError(t, fake.SeedSurvey(survey, loi("l1", "")))

	summary, err := New(fake, st, nil).Sync(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Summary{SurveyID: "s1", Updated: 1, Removed: 1}, summary)

	got, err := st.GetLocationOfInterest(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, model.EntityStateDeleted, got.State)
}

func TestSync_PicksUpLocationsWrittenBySync(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fake := testutil.NewFakeRemote()
	require.NoError(t, fake.SeedSurvey(survey))

	doc, err := remote.NewCodec().Encode(loi("l5", "from another device"))
	require.NoError(t, err)
	require.NoError(t, fake.Commit(ctx, []remote.Write{
		{Path: model.LOIDocumentPath("s1", "l5"), Op: remote.OpMerge, Data: doc},
	}))

	_, err = New(fake, st, nil).Sync(ctx, "s1")
	require.NoError(t, err)
	got, err := st.GetLocationOfInterest(ctx, "l5")
	require.NoError(t, err)
	assert.Equal(t, "from another device", got.CustomTag)
}

func TestSync_UnknownSurvey(t *testing.T) {
	_, err := New(testutil.NewFakeRemote(), openStore(t), nil).Sync(context.Background(), "nope")
	assert.Error(t, err)
}

type failingReader struct{ *testutil.FakeRemote }

func (failingReader) FetchLocationsOfInterest(ctx context.Context, surveyID string) ([]model.LocationOfInterest, error) {
	return nil, errors.New("offline")
}

func TestEnqueueSync_RunsThroughScheduler(t *testing.T) {
	st := openStore(t)
	fake := testutil.NewFakeRemote()
	require.NoError(t, fake.SeedSurvey(survey, loi("l1", "")))

	var names []string
	sched := scheduler.New(context.Background(), scheduler.WithObserver(
		func(name string, _ int, r scheduler.Result, _ time.Duration) {
			names = append(names, name+"="+r.String())
		}))
	defer sched.Close()

	svc := New(fake, st, sched)
	require.True(t, svc.EnqueueSync("s1"))
	require.True(t, svc.EnqueueSync("s1"), "APPEND accepts a second request")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Wait(ctx))
	assert.Equal(t, []string{"survey-sync:s1=success", "survey-sync:s1=success"}, names)

	_, err := st.GetLocationOfInterest(context.Background(), "l1")
	assert.NoError(t, err)
}

func TestEnqueueSync_RetriesOnFailure(t *testing.T) {
	st := openStore(t)
	reader := failingReader{testutil.NewFakeRemote()}
	require.NoError(t, reader.SeedSurvey(survey))

	var results []scheduler.Result
	sched := scheduler.New(context.Background(),
		scheduler.WithBackoff(scheduler.BackoffConfig{MaxAttempts: 2}),
		scheduler.WithObserver(func(_ string, _ int, r scheduler.Result, _ time.Duration) {
			results = append(results, r)
		}))
	defer sched.Close()

	require.True(t, New(reader, st, sched).EnqueueSync("s1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Wait(ctx))
	assert.Equal(t, []scheduler.Result{scheduler.Retry, scheduler.Retry}, results)
}
