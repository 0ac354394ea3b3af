// Package errors provides structured error types for chronicle.
// All errors include a category, code and message for consistent
// handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the phase that raised them.
type ErrorCategory string

const (
	ErrCategoryConfiguration ErrorCategory = "CONFIGURATION"
	ErrCategoryResolution    ErrorCategory = "RESOLUTION"
	ErrCategoryStorage       ErrorCategory = "STORAGE"
	ErrCategoryArchive       ErrorCategory = "ARCHIVE"
	ErrCategoryInternal      ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Configuration codes
	CodeMultipleRegistrations = "MULTIPLE_REGISTRATIONS"
	CodeInvalidRelation       = "INVALID_RELATION"
	CodeInvalidModel          = "INVALID_MODEL"
	CodeNotRegistered         = "NOT_REGISTERED"
	CodeRegistryFrozen        = "REGISTRY_FROZEN"

	// Resolution codes
	CodeActorUnavailable = "ACTOR_UNAVAILABLE"

	// Storage codes
	CodeQueryFailed = "QUERY_FAILED"
	CodeWriteFailed = "WRITE_FAILED"
	CodeNotFound    = "NOT_FOUND"

	// Archive codes
	CodeUploadFailed     = "UPLOAD_FAILED"
	CodeEncodeFailed     = "ENCODE_FAILED"
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeConflict         = "CONFLICT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal reports whether an error aborts startup. Configuration errors are
// raised while models are registered and cannot be recovered from.
func IsFatal(err error) bool {
	return GetCategory(err) == ErrCategoryConfiguration
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewConfigurationError(code, message string) *Error {
	return New(ErrCategoryConfiguration, code, message)
}

// NewMultipleRegistrationsError reports a second registration of the same model.
func NewMultipleRegistrationsError(label string) *Error {
	return New(ErrCategoryConfiguration, CodeMultipleRegistrations,
		fmt.Sprintf("%s registered multiple times for history tracking", label)).
		WithDetails(map[string]interface{}{"model": label})
}

func NewNotRegisteredError(model string) *Error {
	return New(ErrCategoryConfiguration, CodeNotRegistered,
		fmt.Sprintf("%s is not registered for history tracking", model))
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
