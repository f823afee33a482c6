package ingest

import (
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// ReindexEvent announces that one corpus file changed and its index entry
// must be rebuilt, or that the file is gone and the entry must be removed.
type ReindexEvent struct {
	DocID   string `json:"doc_id"`
	Path    string `json:"path,omitempty"` // corpus-relative, empty for deletes
	Deleted bool   `json:"deleted,omitempty"`
}

// DocFailure records why one document could not be indexed.
type DocFailure struct {
	DocID  string `json:"doc_id"`
	Reason string `json:"reason"`
}

// Report summarizes one indexing run.
type Report struct {
	Total         int           `json:"total"`
	Indexed       int           `json:"indexed"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	ChunksWritten int           `json:"chunks_written"`
	Failures      []DocFailure  `json:"failures,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
}

// ChunkedDoc is a document split into chunks, partway through the pipeline.
type ChunkedDoc struct {
	Doc    domain.Document
	Chunks []domain.ContentChunk
}

// EmbeddedDoc pairs chunks with their vectors.
type EmbeddedDoc struct {
	ChunkedDoc
	Vectors [][]float32
}

// Stored is the pipeline's terminal value: what landed where.
type Stored struct {
	DocID  string
	Chunks int
}
