package aviationstack

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchExhausted means every attempt for a page hit a transient failure.
	// It is distinct from an empty result, which is not an error.
	ErrFetchExhausted = errors.New("aviationstack: retries exhausted")

	// ErrTransport is a non-retryable failure below HTTP, such as a refused connection.
	ErrTransport = errors.New("aviationstack: transport failure")

	// ErrMalformedResponse is returned for bodies that are not a flights page.
	ErrMalformedResponse = errors.New("aviationstack: malformed response")
)

// ExhaustedError carries the last failure seen before giving up on a page.
type ExhaustedError struct {
	Attempts   int
	StatusCode int // last HTTP status, 0 when the last attempt timed out
	Err        error
}

func (e *ExhaustedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("aviationstack: giving up after %d attempt(s), last status %d", e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("aviationstack: giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchExhausted}
	}
	return []error{ErrFetchExhausted, e.Err}
}

// StatusError is a permanent, non-retried HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("aviationstack: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("aviationstack: unexpected status %d: %s", e.StatusCode, e.Body)
}

// APIError is the error object the provider embeds in a response body,
// e.g. {"error": {"code": "invalid_access_key", "message": "..."}}.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aviationstack: api error %s: %s", e.Code, e.Message)
}
