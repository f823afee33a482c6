package skill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// confidenceDivisor converts distinct trigger hits into a confidence:
// one hit is a hint, three or more is certainty.
const confidenceDivisor = 3

// fallbackConfidence is reported when no skill's vocabulary matched and
// the question falls through to the default skill.
const fallbackConfidence = 0.5

// Router picks a skill for each request, validates it, and runs it.
// Explicit skill names bypass classification entirely.
type Router struct {
	registry *Registry
	fallback Name
	logger   *slog.Logger
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, fallback: Answer, logger: logger}
}

// Classify scores the question against every registered skill's trigger
// vocabulary and returns the best name with a 0..1 confidence. Score is
// the count of distinct triggers present; ties break toward the fallback
// skill, then registration order. No hits at all routes to the fallback
// at a flat mid confidence.
func (r *Router) Classify(question string) (Name, float64) {
	q := strings.ToLower(question)

	// Strictly-greater replacement: on equal scores the earlier
	// registration wins, and the fallback wins when nothing scores.
	best := r.fallback
	bestHits := 0
	for _, s := range r.registry.inOrder() {
		hits := 0
		for _, trigger := range s.Triggers {
			if strings.Contains(q, trigger) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = s.Name, hits
		}
	}
	if bestHits == 0 {
		return r.fallback, fallbackConfidence
	}
	confidence := float64(bestHits) / confidenceDivisor
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence
}

// Route validates the request and dispatches it. A non-empty explicit
// name skips classification; an unknown explicit name is a coded failure,
// not an error.
func (r *Router) Route(ctx context.Context, explicit Name, req Request) *Response {
	if err := validate(req); err != nil {
		name := explicit
		if name == "" {
			name = r.fallback
		}
		return failure(name, err)
	}

	if explicit != "" {
		s, ok := r.registry.Get(explicit)
		if !ok {
			return &Response{
				Skill: explicit,
				Err:   &RespError{Code: CodeUnknownSkill, Message: fmt.Sprintf("unknown skill %q", explicit)},
			}
		}
		return r.run(ctx, s, req)
	}

	name, confidence := r.Classify(req.Question)
	r.logger.Info("routed question", "skill", name, "confidence", confidence)
	s, ok := r.registry.Get(name)
	if !ok {
		return &Response{
			Skill: name,
			Err:   &RespError{Code: CodeInternal, Message: "fallback skill not registered"},
		}
	}
	return r.run(ctx, s, req)
}

func (r *Router) run(ctx context.Context, s Skill, req Request) *Response {
	params, err := resolveParams(s.Params, req.Params)
	if err != nil {
		return failure(s.Name, err)
	}
	req.Params = params

	resp, err := s.Run(ctx, req)
	if err != nil {
		r.logger.Error("skill failed", "skill", s.Name, "error", err)
		return failure(s.Name, err)
	}
	resp.Skill = s.Name
	resp.Success = resp.Err == nil
	return resp
}

// validate is the single gate every request passes before a skill runs.
func validate(req Request) error {
	if err := domain.ValidateQuestion(req.Question); err != nil {
		return err
	}
	if err := domain.ValidateSelection(req.Selection); err != nil {
		return err
	}
	if err := domain.ValidateLanguage(req.Language); err != nil {
		return err
	}
	if err := domain.ValidateLevel(req.Profile.Level); err != nil {
		return err
	}
	if req.K != 0 {
		if err := domain.ValidateK(req.K); err != nil {
			return err
		}
	}
	return nil
}

// resolveParams checks supplied params against the skill's specs and
// fills defaults. Unknown keys are dropped. JSON numbers arrive as
// float64 and are coerced to int for int-typed specs.
func resolveParams(specs []ParamSpec, supplied map[string]any) (map[string]any, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		raw, present := supplied[spec.Name]
		if !present {
			if spec.Required {
				return nil, domain.NewValidationError(spec.Name, "", domain.ErrMissingParam)
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}
		val, err := coerce(spec, raw)
		if err != nil {
			return nil, err
		}
		out[spec.Name] = val
	}
	return out, nil
}

func coerce(spec ParamSpec, raw any) (any, error) {
	switch spec.Type {
	case "int":
		n, ok := asInt(raw)
		if !ok {
			return nil, domain.NewValidationError(spec.Name, fmt.Sprint(raw), domain.ErrBadParam)
		}
		if spec.Min != 0 || spec.Max != 0 {
			if n < spec.Min || n > spec.Max {
				return nil, domain.NewValidationError(spec.Name, fmt.Sprint(n), domain.ErrBadParam)
			}
		}
		return n, nil
	case "string":
		s, ok := raw.(string)
		if !ok {
			return nil, domain.NewValidationError(spec.Name, fmt.Sprint(raw), domain.ErrBadParam)
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			return nil, domain.NewValidationError(spec.Name, s, domain.ErrBadParam)
		}
		return s, nil
	default:
		return raw, nil
	}
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func contains(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}
