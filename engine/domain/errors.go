package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for validation failures.
var (
	ErrQueryTooShort  = errors.New("query too short")
	ErrQueryTooLong   = errors.New("query too long")
	ErrQueryInjection = errors.New("query contains suspicious content")
	ErrBadLanguage    = errors.New("unsupported language")
	ErrBadLimit       = errors.New("result limit out of range")
	ErrBadLevel       = errors.New("unknown experience level")
	ErrMissingParam   = errors.New("required parameter missing")
	ErrBadParam       = errors.New("parameter out of range")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UpstreamError marks a model-provider failure that survived the retry
// policy, or one that retrying cannot fix. Callers treat it as temporary
// and answer degraded instead of failing the request outright.
type UpstreamError struct {
	Service string // "embedding" or "generation"
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimitError reports an exhausted quota, local or provider-side.
// RetryAfter is always positive. Never retried internally; the hint is
// surfaced to the caller instead.
type RateLimitError struct {
	Scope      string // "query", "search", "embedding", "generation"
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit: %s: retry after %s", e.Scope, e.RetryAfter)
}

// ConfigError reports an invalid runtime configuration, such as a vector
// collection whose dimensions do not match the embedding model. Fatal at
// startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// AsRateLimit extracts a RateLimitError from err's chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsUpstream reports whether err's chain carries an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsValidation reports whether err's chain carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
