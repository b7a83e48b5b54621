package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the class of failure a scrape step can produce
type ErrorType string

const (
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypePrivate       ErrorType = "private"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeNoPosts       ErrorType = "no_posts"
	ErrorTypeUnknownStatus ErrorType = "unknown_status"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeExtraction    ErrorType = "extraction"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// Error is a classified error. Code carries an HTTP status where one applies.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// TypeOf returns the type of the first classified error in the chain.
// Context deadline and cancellation errors map to ErrorTypeTimeout.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Type
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type
func Is(err error, errorType ErrorType) bool {
	return err != nil && TypeOf(err) == errorType
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsAccessibility reports whether the type describes the target profile
// rather than a failure of the scraper itself.
func IsAccessibility(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypePrivate, ErrorTypeNotFound, ErrorTypeNoPosts, ErrorTypeUnknownStatus:
		return true
	}
	return false
}
