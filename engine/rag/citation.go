package rag

import (
	"regexp"
	"strconv"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/pkg/fn"
)

var citationRe = regexp.MustCompile(`\[S(\d+)\]`)

// fallbackCitationScore selects citations when the model emitted no markers:
// every hit at or above it is credible enough to show the reader.
const fallbackCitationScore = 0.5

// citationSnippetRunes bounds the excerpt each citation carries.
const citationSnippetRunes = 240

// reconcileCitations resolves [S#] markers in model output against the
// retrieval set the prompt was built from. Markers that point outside the
// set are counted as mismatches and dropped; the answer text is left alone.
// When the model cited nothing, high-scoring hits stand in so the reader
// still sees where the answer came from.
func reconcileCitations(text string, hits []semantic.Hit) ([]domain.Citation, int) {
	matches := citationRe.FindAllStringSubmatch(text, -1)

	var (
		citations  []domain.Citation
		mismatches int
		seen       = map[string]bool{}
	)
	add := func(h semantic.Hit) {
		key := h.Chunk.DocID + "\x00" + h.Chunk.SectionID
		if seen[key] {
			return
		}
		seen[key] = true
		citations = append(citations, domain.Citation{
			DocID:        h.Chunk.DocID,
			DocTitle:     h.Chunk.DocTitle,
			SectionID:    h.Chunk.SectionID,
			SectionTitle: h.Chunk.SectionTitle,
			Locator:      h.Chunk.Locator,
			Snippet:      domain.Snippet(h.Chunk.Text, citationSnippetRunes),
			Score:        h.Score,
		})
	}

	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(hits) {
			mismatches++
			continue
		}
		add(hits[n-1])
	}

	if len(matches) == 0 {
		credible := fn.Filter(hits, func(h semantic.Hit) bool { return h.Score >= fallbackCitationScore })
		for _, h := range credible {
			add(h)
		}
	}
	return citations, mismatches
}
