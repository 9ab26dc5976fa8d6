package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error value surfaced by the call gateway.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"

	// Call domain.
	ErrConfig           ErrorType = "config_error"
	ErrGeneration       ErrorType = "generation_error"
	ErrSynthesis        ErrorType = "synthesis_error"
	ErrPersonaNotFound  ErrorType = "persona_not_found"
	ErrPersonaMalformed ErrorType = "persona_malformed"
	ErrPersonaExists    ErrorType = "persona_exists"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewConfigError reports a scene or process configuration that cannot start a call.
// Config errors are fatal for the session being created.
func NewConfigError(message, param string) *Error {
	return &Error{
		Type:    ErrConfig,
		Message: message,
		Param:   param,
	}
}

// NewGenerationError wraps a text generation backend failure.
func NewGenerationError(backend string, underlying error) *Error {
	return &Error{
		Type:    ErrGeneration,
		Message: fmt.Sprintf("%s: %v", backend, underlying),
		cause:   underlying,
	}
}

// NewSynthesisError wraps a speech synthesis backend failure.
func NewSynthesisError(backend string, underlying error) *Error {
	return &Error{
		Type:    ErrSynthesis,
		Message: fmt.Sprintf("%s: %v", backend, underlying),
		cause:   underlying,
	}
}

// NewPersonaNotFoundError reports a persona id with no stored record.
func NewPersonaNotFoundError(id string) *Error {
	return &Error{
		Type:    ErrPersonaNotFound,
		Message: fmt.Sprintf("persona %q not found", id),
		Param:   id,
	}
}

// NewPersonaMalformedError reports a stored or generated persona that failed to decode.
func NewPersonaMalformedError(id string, underlying error) *Error {
	return &Error{
		Type:    ErrPersonaMalformed,
		Message: fmt.Sprintf("persona %q is malformed: %v", id, underlying),
		Param:   id,
		cause:   underlying,
	}
}

// NewPersonaExistsError reports a save that would overwrite an existing persona.
func NewPersonaExistsError(id string) *Error {
	return &Error{
		Type:    ErrPersonaExists,
		Message: fmt.Sprintf("persona %q already exists", id),
		Param:   id,
	}
}

// IsType reports whether err (or anything it wraps) is a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var coreErr *Error
	if !errors.As(err, &coreErr) || coreErr == nil {
		return false
	}
	return coreErr.Type == t
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrGeneration, ErrSynthesis:
		return true
	default:
		return false
	}
}
