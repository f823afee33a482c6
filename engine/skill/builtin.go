package skill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/rag"
	"github.com/StudyHallAI/studyhall-engine/engine/retrieval"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
)

// Retriever finds context passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]semantic.Hit, error)
}

// Synthesizer turns retrieved passages into a grounded answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req rag.Request) (*rag.Answer, error)
}

// Related suggests follow-up sections near a cited one. Optional; a nil
// provider just disables suggestions.
type Related interface {
	RelatedSections(ctx context.Context, docID, sectionID string, limit int) ([]string, error)
}

// maxSuggestions bounds the follow-up list attached to an answer.
const maxSuggestions = 3

// Builtins constructs the stock skills over the shared
// retrieve-then-synthesize pipeline. Each skill differs only in the
// instruction overlay it hands the synthesizer and, for translate, the
// answer language.
type Builtins struct {
	retriever Retriever
	synth     Synthesizer
	related   Related
	logger    *slog.Logger
}

func NewBuiltins(retriever Retriever, synth Synthesizer, related Related, logger *slog.Logger) *Builtins {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builtins{retriever: retriever, synth: synth, related: related, logger: logger}
}

// RegisterAll registers the stock skills. Answer is registered first so
// it wins classification ties.
func (b *Builtins) RegisterAll(reg *Registry) error {
	for _, s := range []Skill{
		b.answerSkill(),
		b.translateSkill(),
		b.personalizeSkill(),
		b.quizSkill(),
		b.summarizeSkill(),
	} {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// ground runs the shared pipeline: retrieve with the question's language
// filter, synthesize in answerLang with the overlay, then attach
// follow-up suggestions from the top citation.
func (b *Builtins) ground(ctx context.Context, req Request, answerLang domain.Language, overlay string) (*Response, error) {
	hits, err := b.retriever.Retrieve(ctx, retrieval.Query{
		Text:     req.Question,
		Language: req.Language,
		DocID:    req.DocID,
		K:        req.K,
	})
	if err != nil {
		return nil, err
	}

	ans, err := b.synth.Synthesize(ctx, rag.Request{
		Question:  req.Question,
		Language:  answerLang,
		Overlay:   overlay,
		Selection: req.Selection,
		History:   req.History,
		Hits:      hits,
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Answer:     ans.Text,
		Citations:  ans.Citations,
		Declined:   ans.Declined,
		Degraded:   ans.Degraded,
		TokensUsed: ans.TokensUsed,
		Model:      ans.Model,
	}
	resp.Suggestions = b.suggestions(ctx, ans)
	return resp, nil
}

// suggestions asks the content graph for sections near the top citation.
// Graph trouble is logged and swallowed; an answer without suggestions is
// still an answer.
func (b *Builtins) suggestions(ctx context.Context, ans *rag.Answer) []string {
	if b.related == nil || ans.Declined || ans.Degraded || len(ans.Citations) == 0 {
		return nil
	}
	top := ans.Citations[0]
	out, err := b.related.RelatedSections(ctx, top.DocID, top.SectionID, maxSuggestions)
	if err != nil {
		b.logger.Warn("related sections unavailable", "doc", top.DocID, "section", top.SectionID, "error", err)
		return nil
	}
	return out
}

func (b *Builtins) answerSkill() Skill {
	return Skill{
		Name:        Answer,
		Description: "Answer a question from the textbook with cited passages.",
		Run: func(ctx context.Context, req Request) (*Response, error) {
			return b.ground(ctx, req, req.Language, levelOverlay(req.Profile.Level))
		},
	}
}

func (b *Builtins) translateSkill() Skill {
	return Skill{
		Name:        Translate,
		Description: "Answer in Urdu, translating textbook content on the fly.",
		Params: []ParamSpec{{
			Name:    "style",
			Type:    "string",
			Enum:    []string{"educational", "formal", "conversational"},
			Default: "educational",
		}},
		Triggers: []string{"translate", "translation", "urdu", "اردو", "ترجمہ"},
		Run: func(ctx context.Context, req Request) (*Response, error) {
			style := stringParam(req.Params, "style", "educational")
			return b.ground(ctx, req, domain.LangUrdu, translateOverlay(style))
		},
	}
}

func (b *Builtins) personalizeSkill() Skill {
	return Skill{
		Name:        Personalize,
		Description: "Explain at the learner's experience level.",
		Params: []ParamSpec{{
			Name: "level",
			Type: "string",
			Enum: []string{"beginner", "intermediate", "advanced"},
		}},
		Triggers: []string{"personalize", "my level", "for me", "simpler", "explain like"},
		Run: func(ctx context.Context, req Request) (*Response, error) {
			level := domain.ExperienceLevel(stringParam(req.Params, "level", string(req.Profile.Level)))
			if !domain.ValidLevels[level] {
				level = domain.LevelIntermediate
			}
			return b.ground(ctx, req, req.Language, personalizeOverlay(level))
		},
	}
}

func (b *Builtins) quizSkill() Skill {
	return Skill{
		Name:        Quiz,
		Description: "Generate practice questions from the textbook.",
		Params: []ParamSpec{
			{Name: "count", Type: "int", Default: defaultQuizCount, Min: 1, Max: 10},
			{Name: "difficulty", Type: "string", Enum: []string{"beginner", "intermediate", "advanced"}},
		},
		Triggers: []string{"quiz", "test me", "practice question", "mcq"},
		Run: func(ctx context.Context, req Request) (*Response, error) {
			count := intParam(req.Params, "count", defaultQuizCount)
			difficulty := domain.ExperienceLevel(stringParam(req.Params, "difficulty", string(req.Profile.Level)))
			if !domain.ValidLevels[difficulty] {
				difficulty = domain.LevelIntermediate
			}
			return b.ground(ctx, req, req.Language, quizOverlay(count, difficulty))
		},
	}
}

func (b *Builtins) summarizeSkill() Skill {
	return Skill{
		Name:        Summarize,
		Description: "Summarize the matching textbook passages.",
		Triggers:    []string{"summarize", "summary", "tl;dr", "key points", "خلاصہ"},
		Run: func(ctx context.Context, req Request) (*Response, error) {
			return b.ground(ctx, req, req.Language, summarizeOverlay)
		},
	}
}

const defaultQuizCount = 5

// --- overlays ---

// levelOverlay adapts register to the learner's experience. Empty when no
// level is known: the base grounding instruction stands alone.
func levelOverlay(level domain.ExperienceLevel) string {
	switch level {
	case domain.LevelBeginner:
		return "The learner is a beginner. Define every technical term in plain words and lean on everyday analogies."
	case domain.LevelIntermediate:
		return "The learner knows the basics. Explain mechanisms and trade-offs directly."
	case domain.LevelAdvanced:
		return "The learner is advanced. Be precise and technical and skip introductory framing."
	}
	return ""
}

func personalizeOverlay(level domain.ExperienceLevel) string {
	if o := levelOverlay(level); o != "" {
		return o
	}
	return levelOverlay(domain.LevelIntermediate)
}

func translateOverlay(style string) string {
	const base = "Answer in Urdu regardless of the question's language. Keep technical terms in English where no settled Urdu term exists, and keep every [S#] marker."
	switch style {
	case "formal":
		return base + " Use formal, standard Urdu."
	case "conversational":
		return base + " Use simple, conversational Urdu."
	default:
		return base + " Use clear educational Urdu suited to textbook study."
	}
}

func quizOverlay(count int, level domain.ExperienceLevel) string {
	return fmt.Sprintf("Write %d multiple-choice questions drawn only from the context passages. "+
		"For each: the question, options A-D, the correct option, and a one-line explanation carrying the [S#] marker of its source passage. %s",
		count, difficultyLine(level))
}

func difficultyLine(level domain.ExperienceLevel) string {
	switch level {
	case domain.LevelBeginner:
		return "Keep questions foundational: definitions and basic concepts."
	case domain.LevelAdvanced:
		return "Make questions demanding, requiring analysis across passages."
	default:
		return "Target understanding and application, not recall alone."
	}
}

const summarizeOverlay = "Summarize the context passages as a short list of key points, each point carrying the [S#] marker of its source passage. Add nothing beyond the passages."

// --- param helpers ---

func stringParam(params map[string]any, name, fallback string) string {
	if v, ok := params[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(params map[string]any, name string, fallback int) int {
	if v, ok := params[name].(int); ok {
		return v
	}
	return fallback
}
