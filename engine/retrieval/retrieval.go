// Package retrieval turns a question into an ordered set of grounding chunks.
// It embeds the query, runs filtered similarity search, and applies the
// relevance cutoff so downstream synthesis only ever sees usable context.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/gateway"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
)

// Embedder produces a query-space vector.
type Embedder interface {
	Embed(ctx context.Context, text string, mode gateway.Mode) ([]float32, error)
}

// Searcher abstracts vector search.
type Searcher interface {
	Search(ctx context.Context, vector []float32, opts semantic.SearchOpts) ([]semantic.Hit, error)
}

// Options tunes retrieval behaviour.
type Options struct {
	// K is the result count when the query does not ask for one.
	K int
	// MinScore drops hits below this similarity. Zero disables the cutoff.
	MinScore float32
	// SearchTimeout bounds the vector search leg.
	SearchTimeout time.Duration
}

// DefaultOptions returns the serving defaults.
func DefaultOptions() Options {
	return Options{
		K:             domain.DefaultK,
		MinScore:      0.35,
		SearchTimeout: 5 * time.Second,
	}
}

// Query is one retrieval request. Zero-valued fields fall back to defaults;
// DocID and Language narrow the search when set.
type Query struct {
	Text     string
	Language domain.Language
	DocID    string
	K        int
}

// Retriever embeds a query and returns the best-matching chunks in a
// deterministic order.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	opts     Options
	logger   *slog.Logger
}

// New creates a Retriever. Zero-valued options take defaults.
func New(embedder Embedder, searcher Searcher, opts Options, logger *slog.Logger) *Retriever {
	def := DefaultOptions()
	if opts.K <= 0 {
		opts.K = def.K
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, searcher: searcher, opts: opts, logger: logger}
}

// Retrieve runs embed and search for one query. Zero hits is a valid
// outcome, not an error: it means the corpus holds nothing relevant.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]semantic.Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, domain.NewValidationError("query", q.Text, domain.ErrQueryTooShort)
	}
	k := q.K
	if k == 0 {
		k = r.opts.K
	}
	if err := domain.ValidateK(k); err != nil {
		return nil, err
	}

	vector, err := r.embedder.Embed(ctx, q.Text, gateway.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()

	hits, err := r.searcher.Search(searchCtx, vector, semantic.SearchOpts{
		K:        k,
		DocID:    q.DocID,
		Language: q.Language,
		MinScore: r.opts.MinScore,
	})
	if err != nil {
		return nil, &domain.UpstreamError{Service: "search", Err: err}
	}

	Order(hits)
	r.logger.Info("retrieval done", "hits", len(hits), "k", k, "language", q.Language)
	return hits, nil
}

// Order sorts hits by score descending, breaking ties by chunk sequence and
// then document ID so equal-score results are stable across runs.
func Order(hits []semantic.Hit) {
	slices.SortFunc(hits, func(a, b semantic.Hit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if a.Chunk.Seq != b.Chunk.Seq {
			return a.Chunk.Seq - b.Chunk.Seq
		}
		return strings.Compare(a.Chunk.DocID, b.Chunk.DocID)
	})
}
