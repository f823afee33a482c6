package chunker

import (
	"regexp"
	"strings"
)

// Ref is an internal markdown link: a path to another document plus an
// optional section anchor.
type Ref struct {
	Path   string
	Anchor string
}

var linkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

// Refs returns internal link targets found in the markdown. Links with a
// scheme, mail links, bare anchors, and images resolve to nothing here
// and are skipped. Extensions are stripped so targets match document IDs.
func Refs(md string) []Ref {
	var out []Ref
	for _, m := range linkRe.FindAllStringSubmatch(md, -1) {
		target := m[1]
		if strings.Contains(target, "://") ||
			strings.HasPrefix(target, "mailto:") ||
			strings.HasPrefix(target, "#") {
			continue
		}
		path, anchor, _ := strings.Cut(target, "#")
		path = strings.TrimSuffix(path, ".mdx")
		path = strings.TrimSuffix(path, ".md")
		path = strings.Trim(path, "/")
		if path == "" {
			continue
		}
		out = append(out, Ref{Path: path, Anchor: anchor})
	}
	return out
}
