package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents an API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// LoginRequired is set when the remote side reports an expired or missing session,
	// as opposed to rejected credentials.
	LoginRequired bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates a typed error
func New(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Code: code, Message: fmt.Sprintf(format, args...)}
}

// LoginRequired creates an auth error flagged as a session expiry
func LoginRequired(code int, message string) *Error {
	return &Error{Type: ErrorTypeAuth, Code: code, Message: message, LoginRequired: true}
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// IsAuth reports whether err carries an authentication error
func IsAuth(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeAuth
}

// IsLoginRequired reports whether err signals an expired session
func IsLoginRequired(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.LoginRequired
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// FromStatus maps an HTTP status code to a typed error. It returns nil for 2xx codes.
func FromStatus(code int, message string) *Error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return &Error{Type: ErrorTypeAuth, Code: code, Message: message}
	case code == 404:
		return &Error{Type: ErrorTypeNotFound, Code: code, Message: message}
	case code == 429:
		return &Error{Type: ErrorTypeRateLimit, Code: code, Message: message}
	case code >= 500:
		return &Error{Type: ErrorTypeServerError, Code: code, Message: message}
	default:
		return &Error{Type: ErrorTypeUnknown, Code: code, Message: message}
	}
}
