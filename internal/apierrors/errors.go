// Package apierrors defines the error taxonomy used across the client:
// transport failures, structured backend errors, and the sentinel values
// callers match with errors.Is.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for matching with errors.Is.
var (
	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired indicates the session could not be refreshed and
	// all local tokens have been cleared. The caller must re-authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrRateLimited indicates the backend returned 429 and no cached
	// fallback was available.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoSession indicates a refresh was requested with no stored
	// refresh token.
	ErrNoSession = errors.New("no stored session")
)

// APIError is a structured error from the backend: a non-2xx status, or a
// 2xx response whose envelope reported success=false.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Is maps well-known statuses onto the package sentinels so callers can use
// errors.Is without inspecting status codes.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401:
		return target == ErrUnauthorized
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// TransportError wraps a failure where no HTTP response was received:
// DNS resolution, connection refused, timeout.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport wraps err as a TransportError.
func Transport(err error) error {
	return &TransportError{Err: err}
}

// IsRetryable reports whether err is transient under the default policy:
// transport failures and 5xx server errors. Client errors (4xx) are
// terminal; 401 and 429 are handled by dedicated paths, not by retry.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	if status, ok := StatusOf(err); ok {
		return status >= 500 && status <= 599
	}
	return false
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	s, ok := StatusOf(err)
	return ok && s == status
}

// StatusOf extracts the HTTP status from an APIError in err's chain.
func StatusOf(err error) (int, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	return 0, false
}
