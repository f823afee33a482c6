package gateway

import (
	"context"
	"log/slog"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/pkg/fn"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
	"github.com/StudyHallAI/studyhall-engine/pkg/resilience"
)

type generateClient interface {
	Generate(ctx context.Context, req googleai.GenerateRequest) (*googleai.GenerateResult, error)
}

// GenerationGateway produces answer text. Generation calls run through the
// breaker so a flapping provider sheds load instead of queueing timeouts,
// and through an optional local cap so one busy hour cannot burn the whole
// provider quota.
type GenerationGateway struct {
	client  generateClient
	breaker *resilience.Breaker
	limit   *resilience.Limiter
	retry   fn.RetryOpts
	logger  *slog.Logger
}

// NewGeneration wraps a generation client with the gateway policy.
func NewGeneration(client generateClient, opts Opts) *GenerationGateway {
	return &GenerationGateway{
		client:  client,
		breaker: opts.Breaker,
		limit:   opts.Limit,
		retry:   withRetryDefaults(opts.Retry),
		logger:  loggerOr(opts.Logger),
	}
}

// Generate runs one generation call under retry and breaker policy.
// An open circuit aborts the retry loop immediately.
func (g *GenerationGateway) Generate(ctx context.Context, req googleai.GenerateRequest) (*googleai.GenerateResult, error) {
	if g.limit != nil {
		if ok, retryAfter := g.limit.Admit(); !ok {
			return nil, &domain.RateLimitError{Scope: "generation", RetryAfter: retryAfter}
		}
	}

	call := func(ctx context.Context) fn.Result[*googleai.GenerateResult] {
		return fn.FromPair(g.client.Generate(ctx, req))
	}
	res := fn.Retry(ctx, g.retry, func(ctx context.Context) fn.Result[*googleai.GenerateResult] {
		if g.breaker != nil {
			return resilience.CallResult(g.breaker, ctx, call)
		}
		return call(ctx)
	})
	out, err := res.Unwrap()
	if err != nil {
		g.logger.Warn("generation failed", "error", err)
		return nil, mapErr("generation", err)
	}
	return out, nil
}
