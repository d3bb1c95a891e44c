// api/schemas/errors.go
package schemas

import "errors"

// This file defines the typed error surface shared by the capture, upload and
// submit layers. Using typed errors allows consumers (the report session, the
// CLI, lifecycle hooks) to reliably classify failures with errors.As instead
// of brittle string matching.

// ErrorCode classifies a reporter failure.
type ErrorCode string

const (
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeCapture          ErrorCode = "CAPTURE_ERROR"
	CodeRecording        ErrorCode = "RECORDING_ERROR"
	CodeUpload           ErrorCode = "UPLOAD_ERROR"
	CodeSubmit           ErrorCode = "SUBMIT_ERROR"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeAborted          ErrorCode = "ABORTED"
)

// Error is a classified reporter error. Message is always safe to surface to
// the end user; the underlying cause is retained only for diagnostics.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // Underlying transport, protocol or encoding error.
}

// Error implements the error interface. It deliberately returns only the
// user-safe message, never the wrapped cause.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed error without an underlying cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a typed error retaining the underlying cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// EnsureError returns err unchanged when it is already a typed *Error, and
// otherwise wraps it with the given code and user-safe message. Boundary
// layers use this so a typed error raised deeper in the pipeline keeps its
// original classification.
func EnsureError(err error, code ErrorCode, message string) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return WrapError(code, message, err)
}

// CodeOf extracts the ErrorCode from err, or "" when err carries no typed
// reporter error.
func CodeOf(err error) ErrorCode {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return ""
}

// IsAborted reports whether err represents a deliberate cancellation (user
// escape, hook veto) rather than a true failure.
func IsAborted(err error) bool {
	return CodeOf(err) == CodeAborted
}
