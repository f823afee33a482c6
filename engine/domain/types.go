// Package domain defines core domain types, constants, and validation for the
// StudyHall engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

import (
	"fmt"
	"strings"
)

// Language is a corpus language code.
type Language string

const (
	LangEnglish Language = "en"
	LangUrdu    Language = "ur"
)

// ValidLanguages is the set of languages the corpus is published in.
var ValidLanguages = map[Language]bool{
	LangEnglish: true,
	LangUrdu:    true,
}

// NormalizeLanguage lowercases a language code and falls back to English
// for anything outside the corpus.
func NormalizeLanguage(lang string) Language {
	l := Language(strings.ToLower(strings.TrimSpace(lang)))
	if ValidLanguages[l] {
		return l
	}
	return LangEnglish
}

// ContentChunk is one retrievable unit of the textbook: a slice of a
// section sized for embedding. Seq is the chunk's 0-based position within
// its document; Locator is the stable site anchor for the source section.
type ContentChunk struct {
	ID           string   `json:"id"`
	DocID        string   `json:"doc_id"`
	DocTitle     string   `json:"doc_title"`
	SectionID    string   `json:"section_id"`
	SectionTitle string   `json:"section_title"`
	Locator      string   `json:"locator"`
	Seq          int      `json:"seq"`
	Language     Language `json:"language"`
	Text         string   `json:"text"`
	TokenCount   int      `json:"token_count"`
}

// Citation points a reader back to the section an answer drew from.
// Snippet is a bounded excerpt of the cited chunk, never the whole text.
type Citation struct {
	DocID        string  `json:"doc_id"`
	DocTitle     string  `json:"doc_title"`
	SectionID    string  `json:"section_id"`
	SectionTitle string  `json:"section_title"`
	Locator      string  `json:"locator"`
	Snippet      string  `json:"snippet,omitempty"`
	Score        float32 `json:"score"`
}

// Label renders the citation form shown inside answer text.
func (c Citation) Label() string {
	return fmt.Sprintf("[%s: %s]", c.DocTitle, c.SectionTitle)
}

// Snippet returns the leading runes of text, cut at a rune boundary so
// Urdu content never splits mid-character.
func Snippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one half of a conversation exchange.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ExperienceLevel tunes the register answers are written in.
type ExperienceLevel string

const (
	LevelBeginner     ExperienceLevel = "beginner"
	LevelIntermediate ExperienceLevel = "intermediate"
	LevelAdvanced     ExperienceLevel = "advanced"
)

// ValidLevels is the set of recognised experience levels.
var ValidLevels = map[ExperienceLevel]bool{
	LevelBeginner: true, LevelIntermediate: true, LevelAdvanced: true,
}

// Profile carries per-learner adaptation hints. Clients send it with each
// request; the server stores nothing between requests.
type Profile struct {
	Level    ExperienceLevel `json:"level,omitempty"`
	Language Language        `json:"language,omitempty"`
}
