package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes editing errors.
type ErrorCode string

const (
	// ErrCodeValidation: revised parameters are structurally invalid, or the
	// kind rejected them. No log mutation.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeDependencyCycle: linking an operation would create a cycle.
	// Fatal invariant violation; never expected in normal operation.
	ErrCodeDependencyCycle ErrorCode = "DEPENDENCY_CYCLE"

	// ErrCodeRecomputeFailure: a downstream operation could not be re-derived.
	ErrCodeRecomputeFailure ErrorCode = "RECOMPUTE_FAILURE"

	// ErrCodePublishConflict: the shared store's revision advanced since the
	// local snapshot. Refresh and retry.
	ErrCodePublishConflict ErrorCode = "PUBLISH_CONFLICT"

	// ErrCodeStoreUnavailable: the shared store could not be reached or written.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeSequenceConflict: the caller's view of the log tail is stale.
	ErrCodeSequenceConflict ErrorCode = "SEQUENCE_CONFLICT"

	// ErrCodeArityChange: revised parameters change the number of outputs and
	// no explicit resolution was supplied.
	ErrCodeArityChange ErrorCode = "ARITY_CHANGE"

	// ErrCodeNotFound: an operation or feature id is unknown.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidState: the request is not allowed in the current state.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
)

// EditError is the structured error returned by every core component.
type EditError struct {
	Code    ErrorCode
	Message string

	// Op identifies the operation involved (the first failing one for
	// recompute failures).
	Op OpID

	// Feature identifies the feature involved, when there is one.
	Feature FeatureID

	// Details carries additional context for diagnostics.
	Details map[string]string

	Err error
}

// Error implements the error interface.
func (e *EditError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg += fmt.Sprintf(" (op=%s)", e.Op)
	}
	if e.Feature != "" {
		msg += fmt.Sprintf(" (feature=%s)", e.Feature)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EditError) Unwrap() error {
	return e.Err
}

// NewError creates an EditError with the given code and message.
func NewError(code ErrorCode, format string, args ...any) *EditError {
	return &EditError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause with a code.
func WrapError(code ErrorCode, cause error, format string, args ...any) *EditError {
	return &EditError{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf extracts the error code, or "" if err is not an EditError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var ee *EditError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// AsEditError returns the first EditError in err's chain.
func AsEditError(err error) (*EditError, bool) {
	var ee *EditError
	ok := errors.As(err, &ee)
	return ee, ok
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsCycle reports whether err is a DependencyCycle.
func IsCycle(err error) bool { return CodeOf(err) == ErrCodeDependencyCycle }

// IsRecomputeFailure reports whether err is a RecomputeFailure.
func IsRecomputeFailure(err error) bool { return CodeOf(err) == ErrCodeRecomputeFailure }

// IsPublishConflict reports whether err is a PublishConflict.
func IsPublishConflict(err error) bool { return CodeOf(err) == ErrCodePublishConflict }

// IsStoreUnavailable reports whether err is a StoreUnavailable error.
func IsStoreUnavailable(err error) bool { return CodeOf(err) == ErrCodeStoreUnavailable }

// IsSequenceConflict reports whether err is a SequenceConflict.
func IsSequenceConflict(err error) bool { return CodeOf(err) == ErrCodeSequenceConflict }

// IsArityChange reports whether err is an ArityChange.
func IsArityChange(err error) bool { return CodeOf(err) == ErrCodeArityChange }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }
