// Package graph mirrors the indexed corpus into Neo4j: documents, their
// sections, and the cross-references between them. The graph is
// supplemental: it powers follow-up suggestions and the decline
// message's topic list, and when it is down answers still flow.
package graph

import "github.com/StudyHallAI/studyhall-engine/engine/domain"

// Document is one corpus document node.
type Document struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Language domain.Language `json:"language"`
	Chunks   int             `json:"chunks"`
}

// Section is one heading-delimited part of a document. ID is the section
// slug, unique within its document only; the node key is doc_id#id.
type Section struct {
	ID      string `json:"id"`
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Locator string `json:"locator"`
}

// Ref is a markdown cross-link from one document to another. Anchor
// optionally names the target section slug.
type Ref struct {
	FromDoc string `json:"from_doc"`
	ToDoc   string `json:"to_doc"`
	Anchor  string `json:"anchor,omitempty"`
}

// sectionKey builds the globally unique Section node key.
func sectionKey(docID, sectionID string) string {
	return docID + "#" + sectionID
}
