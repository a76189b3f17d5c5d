// Package errs defines the error kinds surfaced to tool callers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// RefreshAuthHint is appended to user-visible auth-expiry failures.
const RefreshAuthHint = `Please use the "refresh-auth" tool to re-authenticate.`

// ValidationError reports missing or malformed parameters and configuration.
type ValidationError struct {
	Path    string
	Reason  string
	Missing []string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "Missing required parameters: " + strings.Join(e.Missing, ", ")
	}
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" {
		return e.Path + ": " + msg
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError for path.
func Invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// BackendError wraps a failed backend call.
type BackendError struct {
	Operation string // "Select", "Insert", "RPC", "Edge function", ...
	Target    string // table or function name
	Message   string
	Code      string
	Err       error
}

func (e *BackendError) Error() string {
	return e.Operation + " failed: " + e.Message
}

func (e *BackendError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials or a failed session recovery.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil && e.Message == "" {
		return "authentication failed: " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrRefreshFailed is the terminal error after an expired token could not
// be renewed.
func ErrRefreshFailed(cause error) *AuthError {
	return &AuthError{
		Message: "JWT expired and automatic refresh failed. " + RefreshAuthHint,
		Err:     cause,
	}
}

// ConfigSourceError is a startup failure while choosing or reading the
// tool configuration.
type ConfigSourceError struct {
	Source string
	Err    error
}

func (e *ConfigSourceError) Error() string {
	if e.Source == "" {
		return e.Err.Error()
	}
	return e.Source + ": " + e.Err.Error()
}

func (e *ConfigSourceError) Unwrap() error { return e.Err }

var expiryMessages = []string{
	"JWT expired",
	"jwt expired",
	"Invalid JWT",
	"token expired",
}

var expiryCodes = map[string]struct{}{
	"PGRST301":    {},
	"invalid_jwt": {},
}

// Coded is implemented by errors that carry a backend error code.
type Coded interface {
	ErrorCode() string
}

// IsAuthExpired reports whether err carries the access-token expiry
// signature, either by message or by backend code.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		if _, ok := expiryCodes[be.Code]; ok {
			return true
		}
		if containsExpiry(be.Message) {
			return true
		}
	}
	var coded Coded
	if errors.As(err, &coded) {
		if _, ok := expiryCodes[coded.ErrorCode()]; ok {
			return true
		}
	}
	return containsExpiry(err.Error())
}

func containsExpiry(msg string) bool {
	for _, s := range expiryMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
