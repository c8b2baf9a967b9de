package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/boardsync/internal/config"
	"github.com/roach88/boardsync/internal/reconcile"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Reconciliation failed, or scenarios failed
	ExitCommandError = 2 // Command error (bad config, unreadable event, journal not found, etc.)
)

// Error codes reported in JSON output.
const (
	ErrCodeConfig    = "E_CONFIG"
	ErrCodeEvent     = "E_EVENT"
	ErrCodeLock      = "E_LOCK"
	ErrCodeJournal   = "E_JOURNAL"
	ErrCodeNotFound  = "E_NOT_FOUND"
	ErrCodeReconcile = "E_RECONCILE"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// OutputFormatter writes command results. JSON mode emits one CLIResponse
// envelope on Writer; text mode leaves layout to each command. Diagnostics
// always go to ErrWriter so stdout stays machine-readable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command emits.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
	RunID  string    `json:"run_id,omitempty"` // journal run id, when recorded
}

// CLIError is the error part of a response. Code is either a CLI code
// (E_CONFIG, E_EVENT, ...) or a reconcile.ErrorCode.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON reports whether the formatter emits envelopes.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Response writes resp. In text mode it does nothing.
func (f *OutputFormatter) Response(resp CLIResponse) error {
	if !f.JSON() {
		return nil
	}
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// Error writes a failure envelope. Text-mode failures are printed once by
// main from the returned error, so nothing is written here.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.Response(CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: code, Message: message, Details: details},
	})
}

// VerboseLog writes a diagnostic line under --verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = io.Discard
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// reportCommandError prints err through the formatter and returns it as an
// exit error. Errors that are not already exit errors become command errors.
func reportCommandError(f *OutputFormatter, code string, err error) error {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = WrapExitError(ExitCommandError, "command failed", err)
	}
	var details any
	var invalid *config.ValidationError
	if errors.As(err, &invalid) {
		details = invalid.Problems
	}
	_ = f.Error(code, exitErr.Error(), details)
	return exitErr
}

// failureCode is the JSON error code for a failed reconciliation.
func failureCode(err error) string {
	if code := reconcile.CodeOf(err); code != "" {
		return string(code)
	}
	return ErrCodeReconcile
}
