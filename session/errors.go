package session

import (
	"errors"
	"fmt"

	"github.com/c360studio/haystack/auth"
	"github.com/c360studio/haystack/codec"
	"github.com/c360studio/haystack/transport"
)

// ErrNoop is returned by a watch request that hit an expired token. The
// session has re-authenticated and resubscribed; the next scheduled poll
// picks up where this one left off.
var ErrNoop = errors.New("watch request superseded by re-authentication")

// ConfigError reports an invalid setting such as a malformed duration.
type ConfigError struct {
	err error
}

func (e *ConfigError) Error() string {
	return e.err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// NewConfigError builds a ConfigError.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{err: fmt.Errorf(format, args...)}
}

// SessionError reports an operation the session state does not allow.
type SessionError struct {
	err error
}

func (e *SessionError) Error() string {
	return e.err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.err
}

// NewSessionError builds a SessionError.
func NewSessionError(format string, args ...any) error {
	return &SessionError{err: fmt.Errorf(format, args...)}
}

// IsSessionError reports whether err is a SessionError.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ErrorKind names the class of err for display: "protocol", "auth",
// "transport", "grid", "config", "session" or "error".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case codec.IsProtocolError(err), auth.IsProtocolError(err):
		return "protocol"
	case auth.IsAuthError(err):
		return "auth"
	case transport.IsError(err):
		return "transport"
	case codec.IsGridError(err):
		return "grid"
	case IsConfigError(err):
		return "config"
	case IsSessionError(err):
		return "session"
	}
	return "error"
}
