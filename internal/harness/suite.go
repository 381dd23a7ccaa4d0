package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes running every scenario of a directory.
type SuiteResult struct {
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Failures  []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Pass     bool   `json:"pass"`
	// GoldenUpdated is set when the golden file was rewritten.
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// ScenarioFailure is a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// SuiteOption configures RunDir.
type SuiteOption func(*suiteConfig)

type suiteConfig struct {
	filter    string
	goldenDir string
	update    bool
}

// WithFilter runs only scenarios whose file name, without extension, matches
// the glob pattern.
func WithFilter(pattern string) SuiteOption {
	return func(c *suiteConfig) {
		c.filter = pattern
	}
}

// WithGoldenDir compares each scenario's Snapshot with dir/<name>.golden.
// Scenarios without a golden file are judged by their assertions only. With
// update set, golden files are rewritten instead of compared.
func WithGoldenDir(dir string, update bool) SuiteOption {
	return func(c *suiteConfig) {
		c.goldenDir = dir
		c.update = update
	}
}

// RunDir loads and runs every *.yaml scenario in dir, in file name order.
// A scenario that cannot be loaded counts as failed; the rest still run.
func RunDir(dir string, opts ...SuiteOption) (*SuiteResult, error) {
	var cfg suiteConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	paths, err := scenarioFiles(dir, cfg.filter)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.add(runFile(path, cfg))
	}
	return suite, nil
}

func scenarioFiles(dir, filter string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan scenarios: not a directory: %s", dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(paths)
	if filter == "" {
		return paths, nil
	}

	var matched []string
	for _, path := range paths {
		ok, err := filepath.Match(filter, strings.TrimSuffix(filepath.Base(path), ".yaml"))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if ok {
			matched = append(matched, path)
		}
	}
	return matched, nil
}

func runFile(path string, cfg suiteConfig) ScenarioOutcome {
	out := ScenarioOutcome{Scenario: filepath.Base(path), Path: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		out.Errors = []string{err.Error()}
		return out
	}
	out.Scenario = scenario.Name

	result, err := Run(scenario)
	if err != nil {
		out.Errors = []string{err.Error()}
		return out
	}
	out.Errors = result.Errors

	if cfg.goldenDir != "" {
		updated, err := checkGolden(cfg, scenario.Name, result)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
			return out
		}
		out.GoldenUpdated = updated
	}

	out.Pass = len(out.Errors) == 0
	return out
}

// checkGolden compares or rewrites the golden file of one scenario.
func checkGolden(cfg suiteConfig, name string, result *Result) (bool, error) {
	goldenPath := filepath.Join(cfg.goldenDir, name+".golden")
	snapshot := result.Snapshot(name)

	if cfg.update {
		if err := os.MkdirAll(cfg.goldenDir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
			return false, fmt.Errorf("failed to write golden file: %w", err)
		}
		return true, nil
	}

	want, err := os.ReadFile(goldenPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, snapshot) {
		return false, fmt.Errorf("snapshot does not match %s (run with --update to regenerate)", goldenPath)
	}
	return false, nil
}

func (s *SuiteResult) add(out ScenarioOutcome) {
	s.Total++
	s.Scenarios = append(s.Scenarios, out)
	if out.Pass {
		s.Passed++
		return
	}
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{Scenario: out.Scenario, Path: out.Path, Errors: out.Errors})
}
