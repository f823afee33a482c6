package googleai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIError is a non-2xx response from the Generative Language API.
type APIError struct {
	StatusCode int
	Status     string // API status string, e.g. RESOURCE_EXHAUSTED
	Message    string
	RetryAfter time.Duration // wait hint on 429, zero when the API gave none
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("googleai: %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("googleai: %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same call may succeed on retry.
// Rate limiting is deliberately not temporary; it carries its own hint.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

// RateLimited reports quota exhaustion.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: 5xx and timeout
// responses, or transport-level failures. Context cancellation and rate
// limiting are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Temporary()
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// IsRateLimited reports whether err is a quota-exhausted response.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.RateLimited()
}

// RetryAfterOf extracts the wait hint from a rate-limited error, falling
// back to def when the API supplied none.
func RetryAfterOf(err error, def time.Duration) time.Duration {
	var ae *APIError
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		return ae.RetryAfter
	}
	return def
}
