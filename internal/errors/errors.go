package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// WebdbError is the structured error type for webdb.
// It provides rich context for error handling, logging, and signal routing.
type WebdbError struct {
	// Code is the unique error code (e.g., "ERR_301_ARCHIVE_UNREACHABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Archive, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *WebdbError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *WebdbError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with WebdbError.
func (e *WebdbError) Is(target error) bool {
	if t, ok := target.(*WebdbError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *WebdbError) WithDetail(key, value string) *WebdbError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new WebdbError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *WebdbError {
	return &WebdbError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a WebdbError from an existing error.
// The error's message becomes the WebdbError message.
func Wrap(code string, err error) *WebdbError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Unreachable creates an archive-unreachable error. These route into the
// resilience loop rather than terminating management of the archive.
func Unreachable(message string, cause error) *WebdbError {
	return New(ErrCodeArchiveUnreachable, message, cause)
}

// Timeout creates an archive-timeout error. Treated like Unreachable.
func Timeout(message string, cause error) *WebdbError {
	return New(ErrCodeArchiveTimeout, message, cause)
}

// Malformed creates a record parse error, isolated per file.
func Malformed(message string, cause error) *WebdbError {
	return New(ErrCodeRecordMalformed, message, cause)
}

// StoreError creates a store-corruption error.
func StoreError(message string, cause error) *WebdbError {
	return New(ErrCodeStoreCorrupt, message, cause)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *WebdbError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ArchiveError creates an archive-internal error. Not retryable; surfaced
// once as a source-error signal.
func ArchiveError(message string, cause error) *WebdbError {
	return New(ErrCodeArchiveInternal, message, cause)
}

// IsUnreachable reports whether err indicates the archive is temporarily
// unavailable. Recognizes webdb archive-category codes, net.Error
// timeouts, context deadline expiry, and os-level timeouts.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var we *WebdbError
	if errors.As(err, &we) && we.Category == CategoryArchive {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return os.IsTimeout(err)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a WebdbError with Retryable flag set.
func IsRetryable(err error) bool {
	var we *WebdbError
	if errors.As(err, &we) {
		return we.Retryable
	}
	return false
}

// GetCode extracts the error code from a WebdbError.
// Returns empty string if not a WebdbError.
func GetCode(err error) string {
	var we *WebdbError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// GetCategory extracts the category from a WebdbError.
// Returns empty string if not a WebdbError.
func GetCategory(err error) Category {
	var we *WebdbError
	if errors.As(err, &we) {
		return we.Category
	}
	return ""
}
