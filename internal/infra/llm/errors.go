package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is the generic provider failure. Transport errors and 5xx
// responses map here; both are considered retryable. The specific taxonomy
// types embed it, so all four share one message format.
type APIError struct {
	Provider   ProviderName
	StatusCode int // 0 for transport-level failures
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// RateLimitError signals HTTP 429. RetryAfter carries the server hint when
// one was provided (zero otherwise).
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

// AuthenticationError signals HTTP 401/403. Never retried.
type AuthenticationError struct {
	APIError
}

// InvalidRequestError signals HTTP 400/404/422. Never retried.
type InvalidRequestError struct {
	APIError
}

// classifyStatus maps an HTTP status from a provider into the error taxonomy.
func classifyStatus(provider ProviderName, status int, message string, retryAfter time.Duration) error {
	base := APIError{Provider: provider, StatusCode: status, Message: message}
	switch status {
	case http.StatusTooManyRequests:
		return &RateLimitError{APIError: base, RetryAfter: retryAfter}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{APIError: base}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return &InvalidRequestError{APIError: base}
	default:
		return &base
	}
}

// transportError wraps a network-level failure (no HTTP response).
func transportError(provider ProviderName, err error) error {
	return &APIError{Provider: provider, Message: err.Error()}
}

// IsRetryable reports whether a failed call may be attempted again.
// Authentication and invalid-request errors are terminal; everything else
// (rate limits, server errors, transport failures) may recover.
func IsRetryable(err error) bool {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return false
	}
	var invalidErr *InvalidRequestError
	return !errors.As(err, &invalidErr)
}

// parseRetryAfter reads a Retry-After header value expressed in seconds.
// Returns 0 when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
