package apperr

import (
	"errors"
	"fmt"
)

// Code is a typed error code enum for consistent error identification.
type Code string

const (
	// ─── Attempt shape ─────────────────────────────────────────────────
	CodeValidation Code = "VALIDATION_ERROR"

	// ─── Store ─────────────────────────────────────────────────────────
	CodeNotFound  Code = "NOT_FOUND"
	CodeConflict  Code = "CONFLICT"
	CodeTransient Code = "TRANSIENT_STORE_ERROR"

	// ─── Policy ────────────────────────────────────────────────────────
	CodePolicyViolation Code = "POLICY_VIOLATION"

	// ─── Session ───────────────────────────────────────────────────────
	CodeSessionClosed    Code = "SESSION_CLOSED"
	CodeAlreadySubmitted Code = "ALREADY_SUBMITTED"

	// ─── Server ────────────────────────────────────────────────────────
	CodeInternal Code = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code Code) string {
	switch code {
	case CodeValidation:
		return "The answers are malformed and cannot be submitted."
	case CodeNotFound:
		return "The assessment could not be found."
	case CodeConflict:
		return "This attempt has already been recorded."
	case CodeTransient:
		return "Your answers were saved locally but submission failed, please retry."
	case CodePolicyViolation:
		return "You are not allowed to start this assessment."
	case CodeSessionClosed:
		return "This session no longer accepts answers."
	case CodeAlreadySubmitted:
		return "This session has already been submitted."
	case CodeInternal:
		return "An internal error occurred."
	default:
		return "An unexpected error occurred."
	}
}

// Retryable reports whether the caller may retry the same operation.
func (c Code) Retryable() bool {
	return c == CodeTransient
}

// Error is the engine's structured error.
type Error struct {
	Code   Code
	Op     string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	msg := GetMessage(e.Code)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinels below work
// with errors.Is regardless of Op or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation       = &Error{Code: CodeValidation}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrConflict         = &Error{Code: CodeConflict}
	ErrTransient        = &Error{Code: CodeTransient}
	ErrPolicyViolation  = &Error{Code: CodePolicyViolation}
	ErrSessionClosed    = &Error{Code: CodeSessionClosed}
	ErrAlreadySubmitted = &Error{Code: CodeAlreadySubmitted}
)

// New builds an *Error for op wrapping err.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Validation builds a validation error carrying field-level messages.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Op: op, Fields: fields}
}

// Policy builds a policy violation with a reason.
func Policy(op, reason string) *Error {
	return &Error{Code: CodePolicyViolation, Op: op, Err: errors.New(reason)}
}

// CodeOf extracts the code from err, or CodeInternal when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
