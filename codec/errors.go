package codec

import (
	"errors"
	"fmt"
)

// ErrGrid marks malformed wire text.
var ErrGrid = errors.New("invalid grid format")

// GridError reports wire text that could not be decoded.
type GridError struct {
	err error
}

func (e *GridError) Error() string {
	return e.err.Error()
}

func (e *GridError) Unwrap() error {
	return e.err
}

// NewGridError wraps a decode failure. The result matches ErrGrid.
func NewGridError(format string, args ...any) error {
	return &GridError{err: fmt.Errorf("%w: "+format, append([]any{ErrGrid}, args...)...)}
}

// IsGridError reports whether err is a decode failure.
func IsGridError(err error) bool {
	var ge *GridError
	return errors.As(err, &ge)
}

// ProtocolError reports a content type or wire feature this client does
// not speak.
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
