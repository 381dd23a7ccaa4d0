package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sync scenario.
// Scenarios drive local edits and worker passes against fake remotes with
// injected failures, then assert on the trace and the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Surveys is a directory of CUE survey definitions.
	// Relative paths are resolved against the scenario file location.
	Surveys string `yaml:"surveys"`

	// UserID is recorded on every edit. Defaults to "test-user".
	UserID string `yaml:"user_id,omitempty"`

	// Media lists photo files created in the media directory before the flow.
	Media []string `yaml:"media,omitempty"`

	// Flow contains the steps, run in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state,
	// remote_document, blob
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one step of a scenario.
type FlowStep struct {
	// Invoke is the step action (e.g., "create_loi", "sync").
	Invoke string `yaml:"invoke"`

	// Args contains the action arguments. Required keys depend on the action.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, edits must succeed and worker passes may return anything.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or "error" for edits and failure injection, and the
	// scheduler result ("success", "retry") for sync and upload_media.
	Case string `yaml:"case"`

	// Error is a substring of the expected error message (edits only).
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an event appears in the trace
	// - "trace_order": Check events appear in order
	// - "trace_count": Check an event appears exactly N times
	// - "final_state": Query a local table and verify expected values
	// - "remote_document": Check a remote document exists (or not)
	// - "blob": Check an uploaded object exists (or not)
	Type string `yaml:"type"`

	// Action is the trace event action (used by trace_contains, trace_count).
	// Steps use their invoke name; remote calls use "commit" and "upload".
	Action string `yaml:"action,omitempty"`

	// Path narrows trace assertions to events touching this remote path, and
	// names the document or object for remote_document and blob.
	Path string `yaml:"path,omitempty"`

	// Table is the local table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected event order (used by trace_order).
	// Entries are "action" or "action path".
	Actions []string `yaml:"actions,omitempty"`

	// Exists is the expected presence (used by remote_document and blob).
	// Defaults to true.
	Exists *bool `yaml:"exists,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertFinalState     = "final_state"
	AssertRemoteDocument = "remote_document"
	AssertBlob           = "blob"
)

// Step actions.
const (
	ActionCreateLOI        = "create_loi"
	ActionUpdateLOI        = "update_loi"
	ActionDeleteLOI        = "delete_loi"
	ActionSubmit           = "submit"
	ActionUpdateSubmission = "update_submission"
	ActionDeleteSubmission = "delete_submission"
	ActionSync             = "sync"
	ActionUploadMedia      = "upload_media"
	ActionPullSurvey       = "pull_survey"
	ActionFailCommit       = "fail_commit"
	ActionFailUpload       = "fail_upload"
	ActionClearFailures    = "clear_failures"
	ActionRemoveMedia      = "remove_media"
)

// Expect cases for edits and failure injection.
const (
	CaseOK    = "ok"
	CaseError = "error"
)

// requiredArgs lists the argument keys each action needs.
var requiredArgs = map[string][]string{
	ActionCreateLOI:        {"survey", "job", "loi", "lat", "lng"},
	ActionUpdateLOI:        {"survey", "job", "loi"},
	ActionDeleteLOI:        {"survey", "job", "loi"},
	ActionSubmit:           {"survey", "job", "loi", "submission"},
	ActionUpdateSubmission: {"survey", "job", "loi", "submission"},
	ActionDeleteSubmission: {"survey", "job", "loi", "submission"},
	ActionSync:             {},
	ActionUploadMedia:      {},
	ActionPullSurvey:       {"survey"},
	ActionFailCommit:       {"error"},
	ActionFailUpload:       {"survey", "photo", "error"},
	ActionClearFailures:    {},
	ActionRemoveMedia:      {"file"},
}

var workerCases = []string{"success", "retry", "failure"}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// The surveys path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the surveys path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Surveys != "" && !filepath.IsAbs(scenario.Surveys) && basePath != "" {
		scenario.Surveys = filepath.Join(basePath, scenario.Surveys)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Surveys == "" {
		return fmt.Errorf("surveys directory is required")
	}
	if info, err := os.Stat(s.Surveys); err != nil || !info.IsDir() {
		return fmt.Errorf("surveys directory not found: %s", s.Surveys)
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, name := range s.Media {
		if name == "" || filepath.Base(name) != name {
			return fmt.Errorf("media[%d]: %q must be a plain file name", i, name)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *FlowStep) error {
	if step.Invoke == "" {
		return fmt.Errorf("flow[%d]: invoke is required", index)
	}
	required, ok := requiredArgs[step.Invoke]
	if !ok {
		return fmt.Errorf("flow[%d]: unknown action %q", index, step.Invoke)
	}
	for _, key := range required {
		if _, ok := step.Args[key]; !ok {
			return fmt.Errorf("flow[%d]: %s requires arg %q", index, step.Invoke, key)
		}
	}

	if step.Expect == nil {
		return nil
	}
	if step.Expect.Case == "" {
		return fmt.Errorf("flow[%d].expect: case is required", index)
	}
	if isWorkerAction(step.Invoke) {
		if !slices.Contains(workerCases, step.Expect.Case) {
			return fmt.Errorf("flow[%d].expect: case must be one of %v for %s", index, workerCases, step.Invoke)
		}
		if step.Expect.Error != "" {
			return fmt.Errorf("flow[%d].expect: error is not supported for %s", index, step.Invoke)
		}
		return nil
	}
	if step.Expect.Case != CaseOK && step.Expect.Case != CaseError {
		return fmt.Errorf("flow[%d].expect: case must be %q or %q", index, CaseOK, CaseError)
	}
	return nil
}

func isWorkerAction(action string) bool {
	return action == ActionSync || action == ActionUploadMedia
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRemoteDocument, AssertBlob:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
