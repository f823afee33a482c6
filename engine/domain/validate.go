package domain

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SQL and template fragments that should never appear in a learner
// question.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

// Request bounds.
const (
	MaxQuestionLength = 2000
	MinSearchLength   = 2
	MaxSearchLength   = 500
	MaxSelectionLen   = 1000

	MinK     = 1
	MaxK     = 20
	DefaultK = 5
)

// ValidateQuestion validates a learner question before routing.
func ValidateQuestion(text string) error {
	t := strings.TrimSpace(text)
	if t == "" {
		return NewValidationError("question", text, ErrQueryTooShort)
	}
	if utf8.RuneCountInString(t) > MaxQuestionLength {
		return NewValidationError("question", clip(t), ErrQueryTooLong)
	}
	return checkInjection("question", t)
}

// ValidateSearchQuery validates a raw search query.
func ValidateSearchQuery(text string) error {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < MinSearchLength {
		return NewValidationError("q", t, ErrQueryTooShort)
	}
	if utf8.RuneCountInString(t) > MaxSearchLength {
		return NewValidationError("q", clip(t), ErrQueryTooLong)
	}
	return checkInjection("q", t)
}

// ValidateSelection bounds the optional highlighted-passage context.
func ValidateSelection(text string) error {
	if utf8.RuneCountInString(text) > MaxSelectionLen {
		return NewValidationError("selection", clip(text), ErrQueryTooLong)
	}
	return nil
}

// ValidateK rejects a result count outside the 1..20 window. Callers
// resolve an absent count to DefaultK before validating.
func ValidateK(k int) error {
	if k < MinK || k > MaxK {
		return NewValidationError("k", strconv.Itoa(k), ErrBadLimit)
	}
	return nil
}

// ValidateLanguage rejects language codes outside the corpus. Empty means
// no filter and passes.
func ValidateLanguage(lang Language) error {
	if lang == "" {
		return nil
	}
	if !ValidLanguages[Language(strings.ToLower(string(lang)))] {
		return NewValidationError("language", string(lang), ErrBadLanguage)
	}
	return nil
}

// ValidateLevel rejects unknown experience levels. Empty passes.
func ValidateLevel(level ExperienceLevel) error {
	if level == "" {
		return nil
	}
	if !ValidLevels[ExperienceLevel(strings.ToLower(string(level)))] {
		return NewValidationError("level", string(level), ErrBadLevel)
	}
	return nil
}

func checkInjection(field, text string) error {
	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError(field, clip(text), ErrQueryInjection)
		}
	}
	return nil
}

// clip bounds values embedded in error messages.
func clip(s string) string {
	const max = 64
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
