package modelmux

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Recv after the stream has been closed.
var ErrClosed = errors.New("modelmux: stream closed")

// StatusCoder is implemented by errors that carry an HTTP status code.
// The default classifier consults it before falling back to message
// inspection.
type StatusCoder interface {
	StatusCode() int
}

// BackendError is the base error type for failures reported by a backend.
type BackendError struct {
	Message string
	Backend string
	Status  int    // HTTP status, 0 if unknown
	Code    string // provider-specific error code, if any
	Cause   error
}

func (e *BackendError) Error() string {
	switch {
	case e.Backend != "" && e.Status != 0:
		return fmt.Sprintf("[%s] %s (status=%d)", e.Backend, e.Message, e.Status)
	case e.Backend != "":
		return fmt.Sprintf("[%s] %s", e.Backend, e.Message)
	default:
		return e.Message
	}
}

func (e *BackendError) Unwrap() error { return e.Cause }

// StatusCode returns the HTTP status carried by the error.
func (e *BackendError) StatusCode() int { return e.Status }

// Concrete backend error types.

// AuthError is returned on authentication failures (401).
type AuthError struct{ BackendError }

// AccessDeniedError is returned on authorization failures (403).
type AccessDeniedError struct{ BackendError }

// NotFoundError is returned when the model or endpoint does not exist (404).
type NotFoundError struct{ BackendError }

// InvalidRequestError is returned on malformed requests (400, 422).
type InvalidRequestError struct{ BackendError }

// RateLimitError is returned when the backend rate-limits the request (429).
type RateLimitError struct {
	BackendError
	RetryAfter time.Duration // 0 if the backend gave no hint
}

// ServerError is returned on 5xx responses.
type ServerError struct{ BackendError }

// TimeoutError is returned when a request times out (408).
type TimeoutError struct{ BackendError }

// ContextLengthError is returned when the request exceeds the model's
// context window (413).
type ContextLengthError struct{ BackendError }

// ContentFilterError is returned when the backend's safety filter blocks
// the request.
type ContentFilterError struct{ BackendError }

// ConfigError reports invalid multiplexer or backend configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// StatusError maps an HTTP status code to the matching error type.
func StatusError(status int, message, backend string) error {
	be := BackendError{Message: message, Backend: backend, Status: status}
	switch status {
	case 400, 422:
		return &InvalidRequestError{BackendError: be}
	case 401:
		return &AuthError{BackendError: be}
	case 403:
		return &AccessDeniedError{BackendError: be}
	case 404:
		return &NotFoundError{BackendError: be}
	case 408:
		return &TimeoutError{BackendError: be}
	case 413:
		return &ContextLengthError{BackendError: be}
	case 429:
		return &RateLimitError{BackendError: be}
	default:
		if status >= 500 {
			return &ServerError{BackendError: be}
		}
		return &be
	}
}
