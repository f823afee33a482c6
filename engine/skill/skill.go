// Package skill exposes the engine's capabilities as named, typed skills
// and routes free-form questions to the right one. Skill execution never
// returns a raw error to callers: failures become coded responses the API
// layer can translate without inspecting error chains.
package skill

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// Name identifies a skill.
type Name string

// Built-in skill names.
const (
	Answer      Name = "answer"
	Translate   Name = "translate"
	Personalize Name = "personalize"
	Quiz        Name = "quiz"
	Summarize   Name = "summarize"
)

// ParamSpec declares one typed skill parameter.
type ParamSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "string" or "int"
	Required bool     `json:"required,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Default  any      `json:"default,omitempty"`
	Min      int      `json:"min,omitempty"`
	Max      int      `json:"max,omitempty"`
}

// Skill is one named capability. Triggers is the lowercase vocabulary the
// router scores free-form questions against.
type Skill struct {
	Name        Name
	Description string
	Params      []ParamSpec
	Triggers    []string
	Run         func(ctx context.Context, req Request) (*Response, error)
}

// Request carries one skill invocation. Params hold the typed extras
// declared by the skill's ParamSpecs.
type Request struct {
	Question  string
	Language  domain.Language
	Profile   domain.Profile
	History   []domain.Turn
	DocID     string
	Selection string
	K         int
	Params    map[string]any
}

// Error codes carried in failed responses.
const (
	CodeValidation   = "validation_error"
	CodeRateLimited  = "rate_limited"
	CodeUpstream     = "upstream_unavailable"
	CodeUnknownSkill = "unknown_skill"
	CodeInternal     = "internal"
)

// RespError is the coded failure shape.
type RespError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// Response is the uniform skill result.
type Response struct {
	Skill       Name              `json:"skill"`
	Success     bool              `json:"success"`
	Answer      string            `json:"answer,omitempty"`
	Citations   []domain.Citation `json:"citations,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Declined    bool              `json:"declined,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
	TokensUsed  int               `json:"tokens_used,omitempty"`
	Model       string            `json:"model,omitempty"`
	Err         *RespError        `json:"error,omitempty"`
}

// failure folds an error into a coded response. Raw error text only
// crosses the boundary for validation failures, where it names the field.
func failure(name Name, err error) *Response {
	resp := &Response{Skill: name}
	switch {
	case domain.IsValidation(err):
		resp.Err = &RespError{Code: CodeValidation, Message: err.Error()}
	case isRateLimit(err, resp):
		// handled in isRateLimit
	case domain.IsUpstream(err):
		resp.Err = &RespError{Code: CodeUpstream, Message: "a dependency is temporarily unavailable"}
	default:
		resp.Err = &RespError{Code: CodeInternal, Message: "internal error"}
	}
	return resp
}

func isRateLimit(err error, resp *Response) bool {
	rl, ok := domain.AsRateLimit(err)
	if !ok {
		return false
	}
	resp.Err = &RespError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limited on %s", rl.Scope),
		RetryAfter: retryAfterSeconds(rl.RetryAfter),
	}
	return true
}

// retryAfterSeconds rounds a wait up to whole seconds, never below 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
