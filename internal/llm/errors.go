package llm

import (
	"fmt"
	"time"
)

// ErrRateLimit indicates the provider returned a rate limit error (429).
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrEmptyResponse indicates the provider answered without any text, for
// example when every candidate was dropped.
type ErrEmptyResponse struct {
	Model string
}

func (e *ErrEmptyResponse) Error() string {
	return fmt.Sprintf("%s returned no text", e.Model)
}

// ErrBlocked indicates the prompt or the reply was refused by the
// provider's safety filter. Resending the same prompt does not help.
type ErrBlocked struct {
	Reason string
}

func (e *ErrBlocked) Error() string {
	if e.Reason == "" {
		return "response blocked by provider"
	}
	return fmt.Sprintf("response blocked by provider: %s", e.Reason)
}

// ErrProviderUnavailable indicates the provider is down or unreachable.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM provider unavailable: %v", e.Err)
	}
	return "LLM provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrAuth indicates the API key was rejected.
type ErrAuth struct {
	Err error
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("LLM credentials rejected: %v", e.Err)
}

func (e *ErrAuth) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status code from any SDK onto the typed
// errors above.
func classifyStatus(code int, err error) error {
	switch {
	case code == 429:
		return &ErrRateLimit{Err: err}
	case code == 401 || code == 403:
		return &ErrAuth{Err: err}
	default:
		return &ErrProviderUnavailable{Err: err}
	}
}
