package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed exchange: either a network failure or a non-200 status
// the caller could not recover from.
type Error struct {
	// StatusCode is zero for network failures.
	StatusCode int
	// Status is the server's status text, e.g. "Forbidden".
	Status string

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("haystack request failed: %d %s", e.StatusCode, e.Status)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Transient reports whether repeating the exchange may succeed.
func (e *Error) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return isTransientStatus(e.StatusCode)
}

// NewStatusError reports a non-200 response.
func NewStatusError(code int, status string) error {
	if status == "" {
		status = http.StatusText(code)
	}
	return &Error{StatusCode: code, Status: status}
}

// NewNetworkError wraps a failure to complete the exchange.
func NewNetworkError(err error) error {
	return &Error{err: fmt.Errorf("haystack request failed: %w", err)}
}

// IsError reports whether err is a transport error.
func IsError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// IsTransient reports whether err is a transport error worth retrying.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient()
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
