package auth

import (
	"errors"
	"fmt"
)

// AuthError reports a failed handshake step or a missing token.
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return e.err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// NewAuthError builds an AuthError.
func NewAuthError(format string, args ...any) error {
	return &AuthError{err: fmt.Errorf(format, args...)}
}

// IsAuthError reports whether err is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ProtocolError reports an auth method or hash function this client does
// not support.
type ProtocolError struct {
	err error
}

func (e *ProtocolError) Error() string {
	return e.err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.err
}

// NewProtocolError builds a ProtocolError.
func NewProtocolError(format string, args ...any) error {
	return &ProtocolError{err: fmt.Errorf(format, args...)}
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
