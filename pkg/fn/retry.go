package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool

	// ShouldRetry, when set, gates each retry: returning false stops the
	// loop and surfaces the error as-is. Quota exhaustion must never be
	// retried, it only burns the remaining budget.
	ShouldRetry func(error) bool
}

// DefaultRetry suits calls against the model provider.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Retry runs f until it succeeds, the attempts run out, ShouldRetry says
// stop, or the context ends. Waits double per attempt up to MaxWait.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait

	for attempt := 1; ; attempt++ {
		result = f(ctx)
		if result.IsOk() || attempt >= opts.MaxAttempts {
			return result
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(result.Err()) {
			return result
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(jittered(wait, opts)):
		}

		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
}

// jittered spreads a wait over [0.5w, 1.5w) so synchronized clients do not
// hammer a recovering upstream in lockstep.
func jittered(wait time.Duration, opts RetryOpts) time.Duration {
	d := wait
	if opts.Jitter {
		d = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	if d > opts.MaxWait {
		d = opts.MaxWait
	}
	return d
}
