// ABOUTME: Error taxonomy for provider failures
// ABOUTME: Separates rate limiting from other API errors so callers can add backoff later

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAPI            Kind = "api"
	KindRateLimited    Kind = "rate_limited"
	KindInvalidRequest Kind = "invalid_request"
)

// Error is returned by adapters for every upstream failure.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int    // set for KindAPI and KindRateLimited
	Body       string // raw response body for KindAPI
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("%s: network error: %v", e.Provider, e.Err)
	case KindRateLimited:
		return fmt.Sprintf("%s: rate limited (status %d)", e.Provider, e.StatusCode)
	case KindAPI:
		return fmt.Sprintf("%s: api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: invalid response: %v", e.Provider, e.Err)
		}
		return fmt.Sprintf("%s: invalid response", e.Provider)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkError wraps a transport failure.
func NetworkError(provider string, err error) *Error {
	return &Error{Kind: KindNetwork, Provider: provider, Err: err}
}

// StatusError classifies a non-success HTTP status. 429 becomes
// KindRateLimited; everything else is KindAPI.
func StatusError(provider string, status int, body string) *Error {
	if status == http.StatusTooManyRequests {
		return &Error{Kind: KindRateLimited, Provider: provider, StatusCode: status, Body: body}
	}
	return &Error{Kind: KindAPI, Provider: provider, StatusCode: status, Body: body}
}

// InvalidResponse reports a response whose shape could not be understood.
func InvalidResponse(provider string, err error) *Error {
	return &Error{Kind: KindInvalidRequest, Provider: provider, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRateLimited reports whether err is a rate limit rejection.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}
