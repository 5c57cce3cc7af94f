package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/notegraph/internal/engine"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the graph operation failed
	ExitCommandError = 2 // bad flags or config, or the database could not be opened
)

// codeCLI is reported for failures that carry no engine error code.
const codeCLI = "CLI_ERROR"

// ExitError attaches a process exit code to a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
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

// errorCode returns the engine code reported for err, or CLI_ERROR when the
// failure never reached the graph.
func errorCode(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return codeCLI
}

// exitCodeFor maps a graph operation error to an exit code. A database that
// cannot be opened is a command error; everything else is a failure.
func exitCodeFor(err error) int {
	if engine.IsCode(err, engine.ErrCodeInitFailed) {
		return ExitCommandError
	}
	return ExitFailure
}

// OutputFormatter writes command results as JSON envelopes or plain text.
//
// In JSON mode everything a script parses goes to Writer. Diagnostics always
// go to ErrWriter (or Writer when unset) so they never corrupt the envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of CLIResponse. Code is an engine error code
// such as NOT_FOUND or TX_MISUSE, or CLI_ERROR.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) jsonMode() bool { return f.Format == "json" }

// Result reports data. JSON mode encodes data; text mode writes text as-is,
// or data with %v when text is empty.
func (f *OutputFormatter) Result(data any, text string) error {
	if f.jsonMode() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == "" {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Error reports a failure. Details are only printed in text mode when
// verbose output is on.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.jsonMode() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

// Report writes err through Error using its engine code.
func (f *OutputFormatter) Report(err error) error {
	return f.Error(errorCode(err), err.Error(), nil)
}

// Verbosef writes a diagnostic line when verbose output is on.
func (f *OutputFormatter) Verbosef(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.diagnostics(), format+"\n", args...)
	}
}

func (f *OutputFormatter) diagnostics() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
