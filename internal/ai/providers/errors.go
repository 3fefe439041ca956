package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingAPIKey indicates that a provider was configured without credentials.
var ErrMissingAPIKey = errors.New("provider api key is required")

// ErrUnknownProvider is returned when a request names a provider that is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// APIError is a non-2xx answer from a completion endpoint.
type APIError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error (%d %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// ModelUnavailable reports whether the endpoint rejected the model itself
// (not-found or bad-request class), as opposed to an outage or auth failure.
func (e *APIError) ModelUnavailable() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusBadRequest
}

// Retryable reports whether repeating the same request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
