// Package rag synthesizes grounded answers: it turns a question plus its
// retrieved context into model output, reconciles the citations the model
// claims against the passages it was actually shown, and absorbs provider
// outages into degraded answers instead of errors.
package rag

import (
	"context"
	"errors"
	"log/slog"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
	"github.com/StudyHallAI/studyhall-engine/pkg/metrics"
)

// Generator produces model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req googleai.GenerateRequest) (*googleai.GenerateResult, error)
}

// Suggester lists corpus topics for the decline message.
type Suggester interface {
	TopicTitles(ctx context.Context, language domain.Language, limit int) ([]string, error)
}

// Options configures synthesis.
type Options struct {
	Temperature float32
	MaxTokens   int
	Window      WindowOpts
}

// DefaultOptions returns the serving defaults.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.3,
		MaxTokens:   1024,
		Window:      DefaultWindowOpts,
	}
}

// Request is one synthesis job. Hits must be the retrieval results the
// caller wants the answer grounded in, already ordered.
type Request struct {
	Question  string
	Language  domain.Language
	Overlay   string // optional skill-specific instruction fragment
	Selection string // optional passage the learner highlighted
	History   []domain.Turn
	Hits      []semantic.Hit
}

// Answer is the synthesized response.
type Answer struct {
	Text       string            `json:"text"`
	Citations  []domain.Citation `json:"citations"`
	Declined   bool              `json:"declined,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
	TokensUsed int               `json:"tokens_used"`
	Model      string            `json:"model"`
}

// Synthesizer runs grounded generation.
type Synthesizer struct {
	gen        Generator
	topics     Suggester
	counter    TokenCounter
	opts       Options
	logger     *slog.Logger
	mismatches *metrics.Counter
}

// Deps wires the synthesizer's collaborators. Topics, Counter, Mismatches,
// and Logger are optional.
type Deps struct {
	Generator Generator
	Topics    Suggester
	Counter   TokenCounter
	// Mismatches counts citation markers that pointed outside the
	// retrieval set.
	Mismatches *metrics.Counter
	Logger     *slog.Logger
}

// New creates a Synthesizer. Zero-valued options take defaults.
func New(deps Deps, opts Options) *Synthesizer {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = def.Temperature
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		gen:        deps.Generator,
		topics:     deps.Topics,
		counter:    deps.Counter,
		opts:       opts,
		logger:     logger,
		mismatches: deps.Mismatches,
	}
}

// maxDeclineTopics bounds the topic list in a decline message.
const maxDeclineTopics = 5

// Synthesize produces a grounded answer for one request.
//
// Three outcomes are answers, not errors: a decline when there is nothing
// to ground on, a degraded notice when the provider is down, and a normal
// cited answer. Rate limiting and context cancellation surface as errors
// so callers can translate them.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Answer, error) {
	if len(req.Hits) == 0 {
		s.logger.Info("no grounding context, declining", "language", req.Language)
		return &Answer{
			Text:     declineText(req.Language, s.declineTopics(ctx, req.Language)),
			Declined: true,
		}, nil
	}

	window := FromHistory(req.History, s.opts.Window, s.counter)
	system := groundingInstruction
	if req.Overlay != "" {
		system += "\n\n" + req.Overlay
	}

	out, err := s.gen.Generate(ctx, googleai.GenerateRequest{
		System:      system,
		Prompt:      buildPrompt(req, window.Render()),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		if _, ok := domain.AsRateLimit(err); ok {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Error("generation failed, serving degraded answer", "error", err)
		return &Answer{Text: unavailableText(req.Language), Degraded: true}, nil
	}

	citations, mismatched := reconcileCitations(out.Text, req.Hits)
	if mismatched > 0 {
		s.logger.Warn("citation markers outside retrieval set", "count", mismatched)
		if s.mismatches != nil {
			s.mismatches.Add(int64(mismatched))
		}
	}

	return &Answer{
		Text:       out.Text,
		Citations:  citations,
		TokensUsed: out.TokensUsed,
		Model:      out.Model,
	}, nil
}

func (s *Synthesizer) declineTopics(ctx context.Context, lang domain.Language) []string {
	if s.topics != nil {
		titles, err := s.topics.TopicTitles(ctx, lang, maxDeclineTopics)
		if err != nil {
			s.logger.Warn("topic suggestions unavailable", "error", err)
		} else if len(titles) > 0 {
			return titles
		}
	}
	return defaultTopics[domain.NormalizeLanguage(string(lang))]
}
