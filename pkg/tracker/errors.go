package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServiceUnreachable is returned when the tracking service cannot be contacted.
	ErrServiceUnreachable = errors.New("tracking service unreachable")

	// ErrRunCreateFailed is returned when the service refuses to create a run.
	ErrRunCreateFailed = errors.New("test run creation failed")

	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller does not own the run.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when the run or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoData is returned when statistics are requested for a run with
	// no recorded usage.
	ErrNoData = errors.New("no usage data recorded")
)

// StatusError is a non-success HTTP response from the tracking service.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}

	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, msg)
}

// Unwrap exposes the error kind so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	return e.kind
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// newStatusError classifies a response status. fallback is used for codes
// that have no dedicated kind.
func newStatusError(op string, status int, message string, fallback error) *StatusError {
	kind := fallback

	switch status {
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusForbidden:
		kind = ErrForbidden
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusUnprocessableEntity:
		kind = ErrNoData
	}

	return &StatusError{
		Op:         op,
		StatusCode: status,
		Message:    message,
		kind:       kind,
	}
}
