// Package chunker splits markdown documents into retrieval-sized chunks.
//
// Splitting is hierarchical: ATX headers first, then blank-line paragraphs
// inside oversized sections, then sentences inside oversized paragraphs.
// Fenced code blocks are never split. Each chunk keeps its document and
// section identity plus a document-wide sequence index.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// Options sets the token bounds for produced chunks.
type Options struct {
	// MinTokens is the target floor; terminal remainders and short
	// sections may come in under it.
	MinTokens int
	// MaxTokens is the ceiling a chunk is packed up to. Only an unsplittable
	// fenced block can exceed it.
	MaxTokens int
	// Overlap is the token budget for trailing paragraphs carried into the
	// next chunk of the same section. Zero disables overlap.
	Overlap int
}

// DefaultOptions targets the 512..1000 token window with ~10% overlap.
var DefaultOptions = Options{MinTokens: 512, MaxTokens: 1000, Overlap: 50}

var headerRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Chunker is safe for concurrent use.
type Chunker struct {
	opts    Options
	counter TokenCounter
}

// New builds a Chunker. A nil counter falls back to the heuristic.
func New(opts Options, counter TokenCounter) *Chunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions.MaxTokens
	}
	if opts.MinTokens <= 0 || opts.MinTokens > opts.MaxTokens {
		opts.MinTokens = DefaultOptions.MinTokens
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &Chunker{opts: opts, counter: counter}
}

// Chunk splits a document into chunks. An empty document yields no chunks.
// Seq is assigned in document order and is stable across runs for
// unchanged content.
func (c *Chunker) Chunk(doc domain.Document) []domain.ContentChunk {
	var out []domain.ContentChunk
	for _, sec := range splitSections(doc.Content) {
		for _, text := range c.packSection(sec.content) {
			out = append(out, domain.ContentChunk{
				DocID:        doc.ID,
				DocTitle:     doc.Title,
				SectionID:    sec.id,
				SectionTitle: sec.title,
				Locator:      "/" + doc.ID + "#" + sec.id,
				Seq:          len(out),
				Language:     doc.Language,
				Text:         text,
				TokenCount:   c.counter.Count(text),
			})
		}
	}
	return out
}

type section struct {
	id      string
	title   string
	level   int
	content string
}

// splitSections walks lines and opens a new section at every ATX header
// outside a code fence. Content before the first header becomes the
// implicit introduction. The header line stays part of its section text.
func splitSections(md string) []section {
	var sections []section
	seen := map[string]int{}

	cur := section{id: "intro", title: "Introduction"}
	var lines []string
	inFence := false

	flush := func() {
		content := strings.TrimSpace(strings.Join(lines, "\n"))
		if content == "" {
			return
		}
		cur.content = content
		sections = append(sections, cur)
	}

	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			lines = append(lines, line)
			continue
		}
		if !inFence {
			if m := headerRe.FindStringSubmatch(line); m != nil {
				flush()
				title := strings.TrimSpace(m[2])
				cur = section{id: uniqueSlug(title, seen), title: title, level: len(m[1])}
				lines = []string{line}
				continue
			}
		}
		lines = append(lines, line)
	}
	flush()
	return sections
}

// packSection turns one section's text into chunk bodies.
func (c *Chunker) packSection(content string) []string {
	if c.counter.Count(content) <= c.opts.MaxTokens {
		return []string{content}
	}
	return c.packParagraphs(splitParagraphs(content))
}

// packParagraphs accumulates paragraphs up to MaxTokens. On flush, trailing
// paragraphs within the Overlap budget carry into the next chunk. Oversized
// plain paragraphs fall through to sentence packing; oversized fenced
// blocks are emitted whole.
func (c *Chunker) packParagraphs(paras []string) []string {
	var chunks []string
	var cur []string
	curTokens := 0

	emit := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(cur, "\n\n"))
	}

	for _, para := range paras {
		pt := c.counter.Count(para)

		if pt > c.opts.MaxTokens {
			emit()
			cur, curTokens = nil, 0
			if strings.HasPrefix(para, "```") {
				chunks = append(chunks, para)
			} else {
				chunks = append(chunks, c.packSentences(para)...)
			}
			continue
		}

		if curTokens+pt > c.opts.MaxTokens && len(cur) > 0 {
			emit()
			// Walk trailing paragraphs back into the next chunk while they
			// fit the overlap budget.
			var tail []string
			tailTokens := 0
			for i := len(cur) - 1; i >= 0 && c.opts.Overlap > 0; i-- {
				t := c.counter.Count(cur[i])
				if tailTokens+t > c.opts.Overlap {
					break
				}
				tail = append([]string{cur[i]}, tail...)
				tailTokens += t
			}
			cur, curTokens = tail, tailTokens
		}

		cur = append(cur, para)
		curTokens += pt
	}
	emit()
	return chunks
}

// packSentences is the last resort for a paragraph that alone exceeds
// MaxTokens. Sentences join with single spaces; no overlap is carried.
func (c *Chunker) packSentences(para string) []string {
	var chunks []string
	var cur []string
	curTokens := 0

	for _, sent := range splitSentences(para) {
		st := c.counter.Count(sent)
		if curTokens+st > c.opts.MaxTokens && len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
			cur, curTokens = nil, 0
		}
		cur = append(cur, sent)
		curTokens += st
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}
	return chunks
}

// splitParagraphs splits on blank lines, keeping fenced code blocks whole.
func splitParagraphs(content string) []string {
	var paras []string
	var cur []string
	inFence := false

	flush := func() {
		p := strings.TrimSpace(strings.Join(cur, "\n"))
		if p != "" {
			paras = append(paras, p)
		}
		cur = nil
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			cur = append(cur, line)
			continue
		}
		if !inFence && strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return paras
}

// splitSentences splits on terminal punctuation followed by whitespace.
// Works for English and passes Urdu text through on its own punctuation
// plus newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '۔' || r == '\n' {
			if r == '\n' || i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

var slugStrip = regexp.MustCompile(`[^\p{L}\p{N}\s_-]`)
var slugSpace = regexp.MustCompile(`[\s_]+`)

// Slugify converts a section title to a URL-friendly anchor.
func Slugify(text string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(text), "")
	slug = slugSpace.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "untitled"
	}
	return slug
}

// uniqueSlug suffixes repeated slugs so section anchors stay addressable.
func uniqueSlug(title string, seen map[string]int) string {
	slug := Slugify(title)
	seen[slug]++
	if n := seen[slug]; n > 1 {
		return fmt.Sprintf("%s-%d", slug, n)
	}
	return slug
}
