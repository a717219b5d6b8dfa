package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken means the session holds no refresh cookie to trade in.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrInvalidResponse wraps payloads that fail to decode or validate.
	ErrInvalidResponse = errors.New("invalid backend response")
)

// RequestError is a non-2xx backend response. Message is the backend's own
// message and may be empty; callers pick a fallback for display.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// UserMessage returns the backend message or fallback when there is none.
func (e *RequestError) UserMessage(fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// AuthExpiredError is a 401 that the single refresh attempt could not resolve.
// The session has already been logged out when this error is returned.
type AuthExpiredError struct {
	Err        error // the original 401
	RefreshErr error // why the refresh failed, nil when the retry itself was rejected
}

func (e *AuthExpiredError) Error() string {
	if e.RefreshErr != nil {
		return fmt.Sprintf("session expired: %v (refresh: %v)", e.Err, e.RefreshErr)
	}
	return fmt.Sprintf("session expired: %v", e.Err)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err (or anything it wraps) is an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// StatusCode returns the HTTP status of a wrapped RequestError, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
