package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the trace and the final mutation queue as stable text for
// golden comparison. Timestamps and temporary paths never appear in it.
func (r *Result) Snapshot(scenarioName string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", scenarioName)

	buf.WriteString("\ntrace:\n")
	for _, event := range r.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describeEvent(event))
	}

	buf.WriteString("\nmutations:\n")
	for _, m := range r.Mutations {
		fmt.Fprintf(&buf, "  %d %s %s %s %s retries=%d", m.ID, m.Type, m.Operation, m.EntityID, m.Status, m.RetryCount)
		if m.ErrorCode != "" {
			fmt.Fprintf(&buf, " error=%s", m.ErrorCode)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its snapshot against a golden
// file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect it further. Test failure (via
// goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's snapshot against a golden file,
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, result.Snapshot(scenarioName))
}
