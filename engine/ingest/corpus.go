package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/StudyHallAI/studyhall-engine/engine/chunker"
	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// LoadCorpus walks root and loads every markdown file into a Document.
// Entries whose name starts with an underscore or a dot are skipped;
// Docusaurus keeps partials and build leftovers there.
func LoadCorpus(root string) ([]domain.Document, error) {
	var docs []domain.Document
	err := walkCorpus(root, func(rel string) error {
		doc, err := LoadDocument(root, rel)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ListCorpus walks root and returns the corpus-relative paths LoadCorpus
// would load, without reading any file.
func ListCorpus(root string) ([]string, error) {
	var rels []string
	err := walkCorpus(root, func(rel string) error {
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rels, nil
}

func walkCorpus(root string, visit func(rel string) error) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			return nil
		}
		ext := filepath.Ext(name)
		if ext != ".md" && ext != ".mdx" {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return visit(filepath.ToSlash(rel))
	})
	if err != nil {
		return fmt.Errorf("ingest: walk %s: %w", root, err)
	}
	return nil
}

// LoadDocument reads one corpus file. rel is the path relative to root,
// which also determines the document ID and language when front matter
// does not override them.
func LoadDocument(root, rel string) (domain.Document, error) {
	raw, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: read %s: %w", rel, err)
	}

	fm, body := parseFrontMatter(string(raw))
	rel = filepath.ToSlash(rel)

	return domain.Document{
		ID:       docIDFor(rel, fm.ID),
		Title:    titleFor(body, fm.Title, rel),
		Language: languageFor(rel, fm.Language),
		Path:     rel,
		Content:  body,
		Hash:     hashOf(body),
	}, nil
}

// frontMatter is the slice of Docusaurus front matter the indexer reads.
type frontMatter struct {
	ID       string
	Title    string
	Language string
}

// parseFrontMatter strips a leading YAML front matter block and returns the
// fields it understands plus the remaining body. Content without a block
// passes through untouched. Only flat `key: value` lines are read; lists
// and nested maps belong to the site renderer, not the indexer.
func parseFrontMatter(content string) (frontMatter, string) {
	var fm frontMatter
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return fm, content
	}
	block, body, ok := strings.Cut(rest, "\n---")
	if !ok {
		return fm, content
	}
	body = strings.TrimPrefix(body, "\n")

	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "id":
			fm.ID = value
		case "title":
			fm.Title = value
		case "language", "lang":
			fm.Language = value
		}
	}
	return fm, body
}

// docIDFor derives the document ID from the corpus-relative path, slugified
// per segment so IDs are stable URL material. A front matter id replaces
// the final segment the way Docusaurus treats it.
func docIDFor(rel, fmID string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	segs := strings.Split(rel, "/")
	if fmID != "" {
		segs[len(segs)-1] = fmID
	}
	for i, s := range segs {
		segs[i] = chunker.Slugify(s)
	}
	return strings.Join(segs, "/")
}

// languageFor picks the corpus language: front matter wins, then the /ur/
// path convention of the translated tree, then English.
func languageFor(rel, fmLang string) domain.Language {
	if fmLang != "" {
		return domain.NormalizeLanguage(fmLang)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "ur" {
			return domain.LangUrdu
		}
	}
	return domain.LangEnglish
}

var h1Re = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// titleFor picks the document title: front matter, else the first H1 in the
// body, else the bare filename.
func titleFor(body, fmTitle, rel string) string {
	if fmTitle != "" {
		return fmTitle
	}
	if m := h1Re.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// resolveRef turns a markdown link target into the document ID it points at.
// Dotted paths resolve against the linking document's directory; everything
// else is corpus-root relative. Returns "" for links that leave the corpus.
func resolveRef(fromPath string, ref chunker.Ref) string {
	target := ref.Path
	if strings.HasPrefix(target, ".") {
		target = path.Join(path.Dir(fromPath), target)
	}
	target = path.Clean(target)
	if target == "." || strings.HasPrefix(target, "..") {
		return ""
	}
	return docIDFor(target, "")
}
