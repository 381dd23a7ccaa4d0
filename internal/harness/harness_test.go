package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseScenario(t *testing.T, flow []FlowStep, assertions ...Assertion) *Scenario {
	t.Helper()
	if len(assertions) == 0 {
		assertions = []Assertion{{Type: AssertTraceCount, Action: EventCommit, Count: 0}}
	}
	return &Scenario{
		Name:        "inline",
		Description: "inline scenario",
		Surveys:     surveysDir(t),
		Flow:        flow,
		Assertions:  assertions,
	}
}

func createLOI(id string) FlowStep {
	return FlowStep{Invoke: ActionCreateLOI, Args: map[string]interface{}{
		"survey": "wells", "job": "inspect", "loi": id, "lat": 1, "lng": 2,
	}}
}

func TestRun_TestdataScenarios(t *testing.T) {
	for _, name := range []string{"happy_path", "retry_after_failure", "missing_photo", "delete_cascade"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/retry_after_failure.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Snapshot(scenario.Name), second.Snapshot(scenario.Name))
}

func TestRun_FreshStatePerRun(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{createLOI("loi-1")})

	for i := 0; i < 2; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "run %d: %v", i, result.Errors)
		require.Len(t, result.Mutations, 1)
		assert.Equal(t, int64(1), result.Mutations[0].ID)
	}
}

func TestRun_UnexpectedEditErrorFails(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		{Invoke: ActionDeleteLOI, Args: map[string]interface{}{"survey": "wells", "job": "inspect", "loi": "nope"}},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] delete_loi: unexpected error")
	assert.Equal(t, CaseError, result.Trace[0].Case)
	assert.NotEmpty(t, result.Trace[0].Error)
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{Invoke: ActionSync, Expect: &ExpectClause{Case: "retry"}},
	}, Assertion{Type: AssertTraceCount, Action: EventCommit, Count: 1})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected case "retry", got "success"`)
}

func TestRun_ExpectErrorSubstring(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{
			Invoke: ActionCreateLOI,
			Args:   map[string]interface{}{"survey": "wells", "job": "inspect", "loi": "loi-1", "lat": 1, "lng": 2},
			Expect: &ExpectClause{Case: CaseError, Error: "already exists"},
		},
		{
			Invoke: ActionCreateLOI,
			Args:   map[string]interface{}{"survey": "wells", "job": "inspect", "loi": "loi-1", "lat": 1, "lng": 2},
			Expect: &ExpectClause{Case: CaseError, Error: "no such thing"},
		},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[2]")
	assert.Contains(t, result.Errors[0], `expected error containing "no such thing"`)
}

func TestRun_BadArgsAbort(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		{Invoke: ActionCreateLOI, Args: map[string]interface{}{"survey": "wells", "job": "inspect", "loi": "a", "lat": "north", "lng": 2}},
	})

	_, err := Run(scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBadArgs)
	assert.Contains(t, err.Error(), "flow step 0 (create_loi)")
}

func TestRun_UnknownTaskAnswerAborts(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{Invoke: ActionSubmit, Args: map[string]interface{}{
			"survey": "wells", "job": "inspect", "loi": "loi-1", "submission": "s",
			"answers": map[string]interface{}{"colour": "blue"},
		}},
	})

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `job "inspect" has no task "colour"`)
}

func TestRun_FailNextCommitIsOneShot(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{Invoke: ActionFailCommit, Args: map[string]interface{}{"error": "quota"}},
		{Invoke: ActionSync, Expect: &ExpectClause{Case: "retry"}},
		{Invoke: ActionSync, Expect: &ExpectClause{Case: "success"}},
	}, Assertion{Type: AssertTraceCount, Action: EventCommit, Count: 2})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	commits := filterEvents(result.Trace, EventCommit)
	require.Len(t, commits, 2)
	assert.Equal(t, "injected failure: quota", commits[0].Error)
	assert.Empty(t, commits[1].Error)
}

func TestRun_UploadFailureIsRetried(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{Invoke: ActionSubmit, Args: map[string]interface{}{
			"survey": "wells", "job": "inspect", "loi": "loi-1", "submission": "sub-1",
			"answers": map[string]interface{}{"front": "front.jpg"},
		}},
		{Invoke: ActionSync, Expect: &ExpectClause{Case: "success"}},
		{Invoke: ActionFailUpload, Args: map[string]interface{}{"survey": "wells", "photo": "front.jpg", "error": "timeout"}},
		{Invoke: ActionUploadMedia, Expect: &ExpectClause{Case: "retry"}},
		{Invoke: ActionClearFailures},
		{Invoke: ActionUploadMedia, Expect: &ExpectClause{Case: "success"}},
	},
		Assertion{Type: AssertTraceCount, Action: EventUpload, Count: 2},
		Assertion{Type: AssertBlob, Path: "user-media/surveys/wells/submissions/front.jpg"},
		Assertion{
			Type:   AssertFinalState,
			Table:  "mutations",
			Where:  map[string]interface{}{"submission_id": "sub-1"},
			Expect: map[string]interface{}{"state": "COMPLETED", "retry_count": 1, "error_code": "MEDIA_UPLOAD"},
		},
	)
	scenario.Media = []string{"front.jpg"}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	uploads := filterEvents(result.Trace, EventUpload)
	require.Len(t, uploads, 2)
	assert.Equal(t, "not stored", uploads[0].Error)
	assert.Empty(t, uploads[1].Error)
}

func TestRun_PullSurveyKeepsPendingEdits(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{Invoke: ActionPullSurvey, Args: map[string]interface{}{"survey": "wells"}},
		{Invoke: ActionPullSurvey, Args: map[string]interface{}{"survey": "ponds"}, Expect: &ExpectClause{Case: CaseError}},
	}, Assertion{
		Type:   AssertFinalState,
		Table:  "lois",
		Where:  map[string]interface{}{"id": "loi-1"},
		Expect: map[string]interface{}{"state": "DEFAULT"},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AnswerShapes(t *testing.T) {
	scenario := baseScenario(t, []FlowStep{
		createLOI("loi-1"),
		{Invoke: ActionSubmit, Args: map[string]interface{}{
			"survey": "wells", "job": "inspect", "loi": "loi-1", "submission": "sub-1",
			"answers": map[string]interface{}{
				"condition": map[string]interface{}{"selected": []interface{}{"poor"}, "other": "cracked lid"},
				"notes":     "silty",
			},
		}},
		{Invoke: ActionUpdateSubmission, Args: map[string]interface{}{
			"survey": "wells", "job": "inspect", "loi": "loi-1", "submission": "sub-1",
			"answers": map[string]interface{}{"notes": nil},
		}},
		{Invoke: ActionSync, Expect: &ExpectClause{Case: "success"}},
	}, Assertion{Type: AssertTraceCount, Action: EventCommit, Count: 1})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Mutations, 3)
	for _, m := range result.Mutations {
		assert.Equal(t, "COMPLETED", m.Status, "mutation %d", m.ID)
	}
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_AddEventNumbersSequentially(t *testing.T) {
	r := NewResult()
	r.AddEvent(TraceEvent{Type: EventStep, Action: ActionSync, Seq: 99})
	r.AddEvent(TraceEvent{Type: EventCommit, Action: EventCommit})
	assert.Equal(t, 1, r.Trace[0].Seq)
	assert.Equal(t, 2, r.Trace[1].Seq)
}

func TestRunDir(t *testing.T) {
	suite, err := RunDir("testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, 4, suite.Total)
	assert.Equal(t, 4, suite.Passed, "failures: %+v", suite.Failures)
	assert.Zero(t, suite.Failed)
}

func TestRunDir_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_bad.yaml", "name: [\n")
	writeFile(t, dir, "b_fails.yaml", `
name: b_fails
description: "expects a commit that never happens"
surveys: `+surveysDir(t)+`
flow:
  - invoke: sync
assertions:
  - type: trace_count
    action: commit
    count: 1
`)

	suite, err := RunDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, suite.Total)
	assert.Equal(t, 2, suite.Failed)
	require.Len(t, suite.Failures, 2)
	assert.Equal(t, "a_bad.yaml", suite.Failures[0].Scenario)
	assert.Contains(t, suite.Failures[0].Errors[0], "failed to parse YAML")
	assert.Equal(t, "b_fails", suite.Failures[1].Scenario)
	assert.Contains(t, suite.Failures[1].Errors[0], "trace_count")
}

func TestRunDir_Empty(t *testing.T) {
	_, err := RunDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}

func TestRunDir_Filter(t *testing.T) {
	suite, err := RunDir("testdata/scenarios", WithFilter("*_photo"))
	require.NoError(t, err)
	assert.Equal(t, 1, suite.Total)
	require.Len(t, suite.Scenarios, 1)
	assert.Equal(t, "missing_photo", suite.Scenarios[0].Scenario)
	assert.True(t, suite.Scenarios[0].Pass)
}

func TestRunDir_FilterMatchesNothing(t *testing.T) {
	_, err := RunDir("testdata/scenarios", WithFilter("nothing-*"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}

func TestRunDir_InvalidFilter(t *testing.T) {
	_, err := RunDir("testdata/scenarios", WithFilter("["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestRunDir_GoldenFiles(t *testing.T) {
	suite, err := RunDir("testdata/scenarios", WithGoldenDir("testdata/golden", false))
	require.NoError(t, err)
	assert.Equal(t, 4, suite.Passed, "failures: %+v", suite.Failures)
}

func TestRunDir_GoldenUpdateThenCompare(t *testing.T) {
	goldenDir := filepath.Join(t.TempDir(), "golden")

	suite, err := RunDir("testdata/scenarios", WithFilter("happy_path"), WithGoldenDir(goldenDir, true))
	require.NoError(t, err)
	require.Len(t, suite.Scenarios, 1)
	assert.True(t, suite.Scenarios[0].GoldenUpdated)

	written, err := os.ReadFile(filepath.Join(goldenDir, "happy_path.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("testdata/golden/happy_path.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	writeFile(t, goldenDir, "happy_path.golden", "scenario: happy_path\n")
	suite, err = RunDir("testdata/scenarios", WithFilter("happy_path"), WithGoldenDir(goldenDir, false))
	require.NoError(t, err)
	assert.Equal(t, 1, suite.Failed)
	require.Len(t, suite.Failures, 1)
	assert.Contains(t, suite.Failures[0].Errors[0], "does not match")
}

func TestRunDir_MissingGoldenUsesAssertionsOnly(t *testing.T) {
	suite, err := RunDir("testdata/scenarios", WithGoldenDir(t.TempDir(), false))
	require.NoError(t, err)
	assert.Equal(t, 4, suite.Passed)
}

func filterEvents(trace []TraceEvent, action string) []TraceEvent {
	var out []TraceEvent
	for _, e := range trace {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
