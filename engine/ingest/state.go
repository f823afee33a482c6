package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// State remembers the content hash of every indexed document so unchanged
// files can be skipped on the next run. It is a plain JSON file; losing it
// costs a full re-embed, nothing more.
type State struct {
	mu     sync.Mutex
	path   string
	hashes map[string]string
}

// LoadState reads the state file at path. A missing file yields an empty
// state, not an error.
func LoadState(path string) (*State, error) {
	s := &State{path: path, hashes: map[string]string{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read state %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.hashes); err != nil {
		return nil, fmt.Errorf("ingest: parse state %s: %w", path, err)
	}
	return s, nil
}

// Unchanged reports whether the document was last indexed with this hash.
func (s *State) Unchanged(docID, hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hash != "" && s.hashes[docID] == hash
}

// Put records a freshly indexed document.
func (s *State) Put(docID, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[docID] = hash
}

// Forget drops a document, typically after removing it from the index.
func (s *State) Forget(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, docID)
}

// MarkStale blanks every stored hash while keeping the document list, so
// the next pass re-embeds everything but removals are still detected. Used
// after an embedding model change, when old vectors are silently wrong.
func (s *State) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.hashes {
		s.hashes[id] = ""
	}
}

// Docs returns the IDs of every remembered document, sorted.
func (s *State) Docs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.hashes))
	for id := range s.hashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save writes the state file atomically via a temp file and rename.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(s.hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("ingest: encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ingest: state dir: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("ingest: write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("ingest: replace state: %w", err)
	}
	return nil
}
