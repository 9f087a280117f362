package apierrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// envelope is the standard response wrapper used by every backend endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details"`
}

// DecodeEnvelope interprets a backend response body. A 2xx status with
// success=true yields the data payload; anything else yields an APIError
// carrying whatever structured detail the backend provided. An envelope
// reporting success=false is treated identically to a non-2xx status.
func DecodeEnvelope(status int, body []byte) (json.RawMessage, error) {
	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if status >= 200 && status <= 299 {
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding response envelope: %w", decodeErr)
		}
		if env.Success {
			return env.Data, nil
		}
		return nil, envelopeAPIError(status, &env)
	}

	// Non-2xx: the body may or may not be a well-formed envelope.
	if decodeErr != nil {
		return nil, &APIError{
			StatusCode: status,
			Message:    http.StatusText(status),
		}
	}
	return nil, envelopeAPIError(status, &env)
}

func envelopeAPIError(status int, env *envelope) *APIError {
	ae := &APIError{StatusCode: status, Message: env.Message}
	if env.Error != nil {
		ae.Code = env.Error.Code
		ae.Details = env.Error.Details
		if env.Error.Message != "" {
			ae.Message = env.Error.Message
		}
		// The transport status is authoritative, but a success=false
		// envelope on a 2xx response may carry its own status.
		if env.Error.StatusCode != 0 && (status >= 200 && status <= 299) {
			ae.StatusCode = env.Error.StatusCode
		}
	}
	if ae.Message == "" {
		ae.Message = http.StatusText(ae.StatusCode)
	}
	return ae
}
