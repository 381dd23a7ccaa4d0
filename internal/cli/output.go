package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Work left undone (scenarios failed, mutations still queued, invalid surveys)
	ExitCommandError = 2 // Command error (bad config, database not found, rejected edit, etc.)
)

// Error codes reported in CLIError.Code. Survey definition errors carry the
// surveydef codes instead.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeConfig     = "E010" // Config file missing or invalid
	ErrCodeEdit       = "E301" // Local edit rejected
	ErrCodeSync       = "E302" // Mutations left unsynced
	ErrCodeTestFailed = "E_TEST_FAILED"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON form of every command result. A command that ran to
// the end but left work behind (queued mutations, failed scenarios, invalid
// surveys) reports status "error" with both its result and an error code.
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutputFormatter writes command results to Writer as text or JSON. Progress
// lines go to Log, and only under --verbose.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Log     io.Writer
	Verbose bool
}

// Success writes a completed result. Result types implement fmt.Stringer for
// their text form.
func (f *OutputFormatter) Success(result interface{}) error {
	if f.Format != "json" {
		_, err := fmt.Fprintln(f.Writer, result)
		return err
	}
	return f.encode(CLIResponse{Status: "ok", Data: result})
}

// Incomplete writes a result that leaves work undone. The text form is the
// result alone; JSON adds the error code and message.
func (f *OutputFormatter) Incomplete(code, message string, result interface{}) error {
	if f.Format != "json" {
		_, err := fmt.Fprintln(f.Writer, result)
		return err
	}
	return f.encode(CLIResponse{
		Status: "error",
		Data:   result,
		Error:  &CLIError{Code: code, Message: message},
	})
}

// Error writes a failure that produced no result.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format != "json" {
		_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
		return err
	}
	return f.encode(CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: message}})
}

// Logf writes a progress line to Log when verbose.
func (f *OutputFormatter) Logf(format string, args ...interface{}) {
	if !f.Verbose || f.Log == nil {
		return
	}
	fmt.Fprintf(f.Log, format+"\n", args...)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}
