// Package gateway fronts the model provider with bounded retries, circuit
// breaking, and mapping onto the domain error taxonomy. Transient upstream
// failures retry with exponential backoff; quota exhaustion is never
// retried and surfaces carrying its wait hint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/pkg/fn"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
	"github.com/StudyHallAI/studyhall-engine/pkg/resilience"
)

// Mode selects the embedding space end. Indexed content uses ModeDocument,
// retrieval queries ModeQuery; mixing them degrades similarity.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeQuery    Mode = "query"
)

// DefaultRetryAfter is the hint used when the provider refuses without one.
const DefaultRetryAfter = 30 * time.Second

// Opts configures a gateway.
type Opts struct {
	Retry fn.RetryOpts
	// Breaker sheds load when the provider flaps. Nil disables it.
	Breaker *resilience.Breaker
	// Limit caps calls process-wide, ahead of the provider's own quota.
	// A refusal surfaces as a rate-limit error with the bucket's wait
	// hint. Nil disables it.
	Limit  *resilience.Limiter
	Logger *slog.Logger
}

func taskOf(m Mode) (googleai.EmbedTask, error) {
	switch m {
	case ModeDocument:
		return googleai.TaskDocument, nil
	case ModeQuery:
		return googleai.TaskQuery, nil
	default:
		return "", fmt.Errorf("gateway: unknown embed mode %q", m)
	}
}

func withRetryDefaults(r fn.RetryOpts) fn.RetryOpts {
	if r.MaxAttempts == 0 {
		r = fn.DefaultRetry
	}
	if r.ShouldRetry == nil {
		r.ShouldRetry = googleai.IsTransient
	}
	return r
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// mapErr folds provider errors into the domain taxonomy. Context errors
// pass through untouched.
func mapErr(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if googleai.IsRateLimited(err) {
		return &domain.RateLimitError{
			Scope:      service,
			RetryAfter: googleai.RetryAfterOf(err, DefaultRetryAfter),
		}
	}
	return &domain.UpstreamError{Service: service, Err: err}
}
