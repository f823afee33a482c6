package domain

import (
	"fmt"
	"strings"
)

// Document is one corpus file: a chapter or page of the textbook.
// Content is raw markdown with any front matter already stripped.
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Language Language `json:"language"`
	Path     string   `json:"path"` // corpus-relative source path
	Content  string   `json:"content"`
	Hash     string   `json:"hash,omitempty"` // sha256 of Content, for change detection
}

// ValidateDocument checks a Document before chunking.
func ValidateDocument(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("validate: doc id is empty")
	}
	if doc.Title == "" {
		return fmt.Errorf("validate: %s: title is empty", doc.ID)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("validate: %s: content is empty", doc.ID)
	}
	if !ValidLanguages[doc.Language] {
		return fmt.Errorf("validate: %s: unknown language %q", doc.ID, doc.Language)
	}
	return nil
}
