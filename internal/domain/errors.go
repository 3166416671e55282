package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a pipeline failure class. Codes are stable strings
// surfaced verbatim through the task status endpoint.
type ErrorCode string

const (
	CodeEmptyInput             ErrorCode = "EmptyInput"
	CodeNoStructureFound       ErrorCode = "NoStructureFound"
	CodeStructureCountMismatch ErrorCode = "StructureCountMismatch"
	CodeImageUnavailable       ErrorCode = "ImageUnavailable"
	CodeExternalTimeout        ErrorCode = "ExternalServiceTimeout"
	CodeExternalError          ErrorCode = "ExternalServiceError"
	CodeCancelled              ErrorCode = "Cancelled"
	CodeUnsupportedFormat      ErrorCode = "UnsupportedFormat"
)

// Error is the pipeline error type. It pairs a stable code with a
// human-readable message and an optional underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// EmptyInputError reports blank or missing input text.
func EmptyInputError(message string) *Error {
	return NewError(CodeEmptyInput, message, nil)
}

// NoStructureError reports input without any numbered markers.
func NoStructureError(message string) *Error {
	return NewError(CodeNoStructureFound, message, nil)
}

// CountMismatchError reports a structuring response whose record count does
// not match the extracted point count after all correction attempts.
func CountMismatchError(message string) *Error {
	return NewError(CodeStructureCountMismatch, message, nil)
}

// ImageUnavailableError reports an exhausted image fallback chain.
func ImageUnavailableError(message string, cause error) *Error {
	return NewError(CodeImageUnavailable, message, cause)
}

// TimeoutError reports an external service call that exceeded its deadline.
func TimeoutError(message string, cause error) *Error {
	return NewError(CodeExternalTimeout, message, cause)
}

// ExternalError reports an external service failure other than a timeout.
func ExternalError(message string, cause error) *Error {
	return NewError(CodeExternalError, message, cause)
}

// CancelledError reports cooperative cancellation observed at a checkpoint.
func CancelledError(message string) *Error {
	return NewError(CodeCancelled, message, nil)
}

// UnsupportedFormatError reports an unreadable or unknown document format.
func UnsupportedFormatError(message string, cause error) *Error {
	return NewError(CodeUnsupportedFormat, message, cause)
}

// CodeOf extracts the error code from err, or CodeExternalError if err is not
// a pipeline Error.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeExternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
