package gateway

import (
	"context"
	"log/slog"

	"github.com/StudyHallAI/studyhall-engine/pkg/fn"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
)

type embedClient interface {
	Embed(ctx context.Context, text string, task googleai.EmbedTask) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, task googleai.EmbedTask) ([][]float32, error)
}

// EmbeddingGateway produces vectors for indexing and retrieval.
type EmbeddingGateway struct {
	client embedClient
	retry  fn.RetryOpts
	logger *slog.Logger
}

// NewEmbedding wraps an embedding client with the gateway policy.
func NewEmbedding(client embedClient, opts Opts) *EmbeddingGateway {
	return &EmbeddingGateway{
		client: client,
		retry:  withRetryDefaults(opts.Retry),
		logger: loggerOr(opts.Logger),
	}
}

// Embed returns the vector for one text in the given mode.
func (g *EmbeddingGateway) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	task, err := taskOf(mode)
	if err != nil {
		return nil, err
	}
	res := fn.Retry(ctx, g.retry, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(g.client.Embed(ctx, text, task))
	})
	vec, err := res.Unwrap()
	if err != nil {
		g.logger.Warn("embedding failed", "mode", mode, "error", err)
		return nil, mapErr("embedding", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts preserving order. The batch shares one retry budget,
// so a flaky call replays the whole batch rather than leaving holes.
func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	task, err := taskOf(mode)
	if err != nil {
		return nil, err
	}
	res := fn.Retry(ctx, g.retry, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(g.client.EmbedBatch(ctx, texts, task))
	})
	vecs, err := res.Unwrap()
	if err != nil {
		g.logger.Warn("batch embedding failed", "mode", mode, "count", len(texts), "error", err)
		return nil, mapErr("embedding", err)
	}
	return vecs, nil
}
