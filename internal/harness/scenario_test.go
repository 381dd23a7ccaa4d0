package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content to dir/test.yaml next to a copy of the test
// surveys directory reference.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func surveysDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs("testdata/surveys")
	require.NoError(t, err)
	return dir
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
surveys: `+surveysDir(t)+`
media: [front.jpg]
flow:
  - invoke: create_loi
    args: { survey: wells, job: inspect, loi: loi-1, lat: 1, lng: 2 }
  - invoke: sync
    expect: { case: success }
assertions:
  - type: trace_contains
    action: commit
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, []string{"front.jpg"}, scenario.Media)
	require.Len(t, scenario.Flow, 2)
	assert.Equal(t, ActionCreateLOI, scenario.Flow[0].Invoke)
	assert.Equal(t, "loi-1", scenario.Flow[0].Args["loi"])
	assert.Equal(t, 1, scenario.Flow[0].Args["lat"])
	assert.Equal(t, "success", scenario.Flow[1].Expect.Case)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_ResolvesSurveysRelativeToFile(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/happy_path.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "surveys"), scenario.Surveys)
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	path := writeScenario(t, `
name: based
description: "Surveys resolved against an explicit base"
surveys: testdata/surveys
flow:
  - invoke: sync
assertions:
  - type: trace_count
    action: commit
    count: 0
`)
	wd, err := os.Getwd()
	require.NoError(t, err)

	scenario, err := LoadScenarioWithBasePath(path, wd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "testdata/surveys"), scenario.Surveys)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Typo in a key"
surveys: `+surveysDir(t)+`
flow:
  - invoke: sync
assertion:
  - type: trace_count
    action: commit
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "field assertion not found")
}

func TestLoadScenario_Invalid(t *testing.T) {
	header := "name: bad\ndescription: \"d\"\nsurveys: " + surveysDir(t) + "\n"
	assertions := "assertions:\n  - type: trace_count\n    action: commit\n"

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nsurveys: " + surveysDir(t) + "\nflow:\n  - invoke: sync\n" + assertions,
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsurveys: " + surveysDir(t) + "\nflow:\n  - invoke: sync\n" + assertions,
			wantErr: "description is required",
		},
		{
			name:    "missing surveys",
			content: "name: n\ndescription: d\nflow:\n  - invoke: sync\n" + assertions,
			wantErr: "surveys directory is required",
		},
		{
			name:    "surveys not found",
			content: "name: n\ndescription: d\nsurveys: /nonexistent\nflow:\n  - invoke: sync\n" + assertions,
			wantErr: "surveys directory not found",
		},
		{
			name:    "empty flow",
			content: header + "flow: []\n" + assertions,
			wantErr: "flow list is required",
		},
		{
			name:    "no assertions",
			content: header + "flow:\n  - invoke: sync\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown action",
			content: header + "flow:\n  - invoke: teleport\n" + assertions,
			wantErr: `unknown action "teleport"`,
		},
		{
			name:    "missing arg",
			content: header + "flow:\n  - invoke: create_loi\n    args: { survey: wells, job: inspect, loi: a, lat: 1 }\n" + assertions,
			wantErr: `create_loi requires arg "lng"`,
		},
		{
			name:    "bad worker case",
			content: header + "flow:\n  - invoke: sync\n    expect: { case: ok }\n" + assertions,
			wantErr: "case must be one of",
		},
		{
			name:    "bad edit case",
			content: header + "flow:\n  - invoke: remove_media\n    args: { file: a.jpg }\n    expect: { case: success }\n" + assertions,
			wantErr: `case must be "ok" or "error"`,
		},
		{
			name:    "media path",
			content: header + "media: [../a.jpg]\nflow:\n  - invoke: sync\n" + assertions,
			wantErr: "must be a plain file name",
		},
		{
			name:    "unknown assertion",
			content: header + "flow:\n  - invoke: sync\nassertions:\n  - type: vibes\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "final_state without expect",
			content: header + "flow:\n  - invoke: sync\nassertions:\n  - type: final_state\n    table: mutations\n",
			wantErr: "expect is required for final_state",
		},
		{
			name:    "blob without path",
			content: header + "flow:\n  - invoke: sync\nassertions:\n  - type: blob\n",
			wantErr: "path is required for blob",
		},
		{
			name:    "negative count",
			content: header + "flow:\n  - invoke: sync\nassertions:\n  - type: trace_count\n    action: commit\n    count: -1\n",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
