package finly

import (
	"github.com/finly-app/client-go/internal/apierrors"
)

// Sentinel errors for matching with errors.Is.
var (
	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = apierrors.ErrUnauthorized

	// ErrSessionExpired indicates the session could not be refreshed and
	// all local tokens were cleared; the user must re-authenticate.
	ErrSessionExpired = apierrors.ErrSessionExpired

	// ErrRateLimited indicates a 429 with no cached fallback available.
	ErrRateLimited = apierrors.ErrRateLimited

	// ErrNoSession indicates an operation requiring a session ran without
	// stored tokens.
	ErrNoSession = apierrors.ErrNoSession
)

// APIError is a structured backend error: status code, backend error code,
// message and optional details.
type APIError = apierrors.APIError

// TransportError wraps a failure where no response was received.
type TransportError = apierrors.TransportError

// StatusOf extracts the HTTP status code from an APIError in err's chain.
func StatusOf(err error) (int, bool) {
	return apierrors.StatusOf(err)
}
