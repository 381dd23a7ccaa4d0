package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/surveydef"
)

// DefinitionError is one problem found in a survey definition.
type DefinitionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Surveys []string          `json:"surveys,omitempty"`
	Errors  []DefinitionError `json:"errors,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("✓ %d survey(s) valid: %s", len(r.Surveys), strings.Join(r.Surveys, ", "))
	}
	var b strings.Builder
	b.WriteString("✗ Validation failed\n")
	for _, e := range r.Errors {
		b.WriteString("\n")
		if e.Line > 0 {
			fmt.Fprintf(&b, "%s:%d\n", e.File, e.Line)
		}
		fmt.Fprintf(&b, "  %s: %s\n", e.Code, e.Message)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <surveys-dir>",
		Short: "Validate survey definitions",
		Long: `Validate the CUE survey definitions in a directory without publishing them.

Checks every survey, job and task and reports all problems found, with
their file positions when known.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, surveysDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Log:     cmd.ErrOrStderr(),
		Verbose: opts.Verbose,
	}

	surveys, err := loadSurveys(formatter, surveysDir)
	if err != nil {
		return err
	}

	return formatter.Success(ValidationResult{Valid: true, Surveys: surveyIDs(surveys)})
}

// loadSurveys loads the survey definitions of dir, reporting definition errors
// through formatter.
func loadSurveys(formatter *OutputFormatter, dir string) ([]model.Survey, error) {
	result, loadErrors := surveydef.LoadDir(dir)

	// Directory not found, no files, etc.
	if result == nil && len(loadErrors) > 0 {
		var loadErr *surveydef.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return nil, outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return nil, outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.Logf("Found %d CUE file(s) in %s", result.FileCount, dir)

	if len(loadErrors) > 0 {
		return nil, outputValidationErrors(formatter, definitionErrors(loadErrors))
	}
	if len(result.Surveys) == 0 {
		return nil, outputValidateError(formatter, ErrCodeGeneric, fmt.Sprintf("no surveys found in %s", dir))
	}
	for _, s := range result.Surveys {
		formatter.Logf("Loaded survey %s (%d job(s))", s.ID, len(s.Jobs))
	}
	return result.Surveys, nil
}

func definitionErrors(errs []error) []DefinitionError {
	out := make([]DefinitionError, 0, len(errs))
	for _, err := range errs {
		var loadErr *surveydef.LoadError
		if !errors.As(err, &loadErr) {
			out = append(out, DefinitionError{Code: ErrCodeGeneric, Message: err.Error()})
			continue
		}
		d := DefinitionError{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			d.File = loadErr.Pos.Filename()
			d.Line = loadErr.Pos.Line()
		}
		out = append(out, d)
	}
	return out
}

func surveyIDs(surveys []model.Survey) []string {
	ids := make([]string, len(surveys))
	for i, s := range surveys {
		ids[i] = s.ID
	}
	return ids
}

// outputValidateError reports a survey directory that yields no surveys.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors reports every definition problem found.
func outputValidationErrors(formatter *OutputFormatter, errs []DefinitionError) error {
	result := ValidationResult{Valid: false, Errors: errs}
	if err := formatter.Incomplete(errs[0].Code, errs[0].Message, result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
