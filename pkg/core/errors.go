package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error carried across package boundaries.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
	Underlying any       `json:"underlying,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrTransport covers connect failures and abnormal closes of the live
	// channel. Recovered automatically up to the reconnect budget.
	ErrTransport ErrorType = "transport_error"
	// ErrProtocol covers malformed or unrecognized inbound messages.
	// Always logged and dropped, never fatal to the session.
	ErrProtocol ErrorType = "protocol_error"
	// ErrPermission covers microphone/screen-capture denial. Surfaced
	// immediately, never retried.
	ErrPermission ErrorType = "permission_error"
	// ErrRateLimit covers resource exhaustion from a collaborator service.
	ErrRateLimit ErrorType = "rate_limit_error"
	// ErrResumption covers a resume attempted without a handle or stored
	// connect parameters. Callers degrade to a fresh connection.
	ErrResumption ErrorType = "resumption_error"
	// ErrInvalidRequest covers caller-side validation failures.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrAuthentication covers credential rejection by the remote service.
	ErrAuthentication ErrorType = "authentication_error"
	// ErrAPI covers remote service errors that fit no narrower class.
	ErrAPI ErrorType = "api_error"
)

// NewTransportError creates a transport error wrapping the underlying cause.
func NewTransportError(message string, underlying error) *Error {
	e := &Error{
		Type:    ErrTransport,
		Message: message,
	}
	if underlying != nil {
		e.Underlying = underlying
	}
	return e
}

// NewProtocolError creates a protocol error.
func NewProtocolError(message string) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
	}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error with a caller-computed wait.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewResumptionError creates a resumption error.
func NewResumptionError(message string) *Error {
	return &Error{
		Type:    ErrResumption,
		Message: message,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable reports whether the error may be recovered by retrying.
// Permission and validation errors require user action and never are.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransport, ErrAPI:
		return true
	default:
		return false
	}
}

// As reports whether err is or wraps an *Error, assigning it to target.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.Underlying.(error); ok {
		return ue
	}
	return nil
}
