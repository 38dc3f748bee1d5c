package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/cadlog/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Edit refused or failed, scenario failed
	ExitCommandError = 2 // Command error (bad flags, store unreachable, etc.)
	ExitConflict     = 3 // Publish refused: the job moved on; refresh and retry
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the error was already written to the command's
	// output, so Execute does not print it again.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps an editing error to a process exit code.
func exitCodeFor(err error) int {
	switch ir.CodeOf(err) {
	case ir.ErrCodePublishConflict:
		return ExitConflict
	case ir.ErrCodeStoreUnavailable:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload, or what was committed despite an error
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // ir.ErrorCode, or "COMMAND_ERROR"
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.Failure(nil, code, message, details)
}

// Failure outputs an error together with data that was produced anyway,
// such as a recall committed with a recompute failure.
func (f *OutputFormatter) Failure(data any, code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Data:   data,
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	if data != nil {
		fmt.Fprintln(f.Writer, data)
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Report writes err and returns the ExitError the command should return.
// data, when non-nil, is what the command committed before failing.
func (f *OutputFormatter) Report(data any, err error) error {
	code, message, details := "COMMAND_ERROR", err.Error(), any(nil)
	exit := ExitCommandError
	if ee, ok := ir.AsEditError(err); ok {
		code, message = string(ee.Code), ee.Message
		exit = exitCodeFor(err)
		if d := editErrorDetails(ee); d != nil {
			details = d
		}
	}
	if werr := f.Failure(data, code, message, details); werr != nil {
		return werr
	}
	return &ExitError{Code: exit, Message: message, Err: err, Reported: true}
}

func editErrorDetails(ee *ir.EditError) map[string]string {
	out := make(map[string]string, len(ee.Details)+3)
	for k, v := range ee.Details {
		out[k] = v
	}
	if ee.Op != "" {
		out["op"] = string(ee.Op)
	}
	if ee.Feature != "" {
		out["feature"] = string(ee.Feature)
	}
	if ee.Err != nil {
		out["cause"] = ee.Err.Error()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
