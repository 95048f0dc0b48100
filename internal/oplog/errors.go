package oplog

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth means the API key or session token was rejected. Terminal for the session.
	ErrAuth = errors.New("authentication failed")
	// ErrSessionExpired means the session is past its expiry time.
	ErrSessionExpired = errors.New("session has expired")
	// ErrSessionCompleted means the session was already committed.
	ErrSessionCompleted = errors.New("session has already been completed")
)

// ValidationError is returned before any network call when a file is rejected locally
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NetworkError is a transient failure; the call may be retried
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is a non-retryable error response from the server
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// authError keeps the server detail while matching ErrAuth
type authError struct {
	op     string
	status int
	detail string
}

func (e *authError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.op, e.status, e.detail)
}

func (e *authError) Unwrap() error {
	return ErrAuth
}

// IsRetryable reports whether err is worth retrying
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsTerminal reports whether err ends the session for this client
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionCompleted)
}

func statusError(op string, status int, detail string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &authError{op: op, status: status, detail: detail}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &NetworkError{Op: op, StatusCode: status, Err: errors.New(detail)}
	default:
		return &APIError{Op: op, StatusCode: status, Detail: detail}
	}
}
