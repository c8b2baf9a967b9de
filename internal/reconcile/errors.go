package reconcile

import (
	"errors"
	"fmt"

	"github.com/roach88/boardsync/internal/locator"
	"github.com/roach88/boardsync/internal/remote"
)

// ErrorCode categorizes invocation failures.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a bad project or organization.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeTransport indicates a failed remote call.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeConflict indicates more than one record matched an issue.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeCrossReference indicates the work item was created but the
	// back-reference could not be written to the issue.
	ErrCodeCrossReference ErrorCode = "CROSS_REFERENCE"
)

// Error is a fatal invocation failure with enough context to diagnose or
// replay it.
type Error struct {
	Code ErrorCode

	// Op is the step that failed: "status", "locate", "ledger", "create",
	// "update", "link".
	Op string

	// RecordID is the target work item, when known.
	RecordID int

	// Patch is the document that was about to be sent, if any.
	Patch remote.Document

	Err error
}

func (e *Error) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("%s: %s work item %d: %v", e.Code, e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the ErrorCode of err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// classify wraps a locator failure with the matching code.
func classify(op string, err error) *Error {
	var conflict *locator.ConflictError
	switch {
	case errors.As(err, &conflict):
		return &Error{Code: ErrCodeConflict, Op: op, Err: err}
	case locator.IsConfigurationError(err):
		return &Error{Code: ErrCodeConfiguration, Op: op, Err: err}
	default:
		return &Error{Code: ErrCodeTransport, Op: op, Err: err}
	}
}
