// Package ingest populates the vector index from the markdown corpus. Each
// document runs through validation, chunking, embedding, and an atomic
// per-document replace in the vector store, with an optional mirror into the
// content graph. Batch runs and the NATS watch consumer share the same
// pipeline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/chunker"
	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/gateway"
	"github.com/StudyHallAI/studyhall-engine/engine/graph"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/pkg/fn"
)

const (
	// ReindexSubject carries per-document reindex events.
	ReindexSubject = "studyhall.reindex.doc"
	// DLQSubject receives events that kept failing.
	DLQSubject = "studyhall.reindex.dlq"
	// MaxRetries before an event lands on the DLQ.
	MaxRetries = 3
	// EmbedBatchSize is the max chunks per embedding request.
	EmbedBatchSize = 100
)

// Embedder produces vectors for chunk batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, mode gateway.Mode) ([][]float32, error)
}

// Store owns the vector index writes.
type Store interface {
	ReplaceDocument(ctx context.Context, docID string, records []semantic.Record) error
	DeleteByDocID(ctx context.Context, docID string) error
}

// Graph mirrors documents into the content graph. Nil disables the mirror.
type Graph interface {
	SyncDocument(ctx context.Context, doc graph.Document, sections []graph.Section, refs []graph.Ref) error
	DeleteDocument(ctx context.Context, docID string) error
}

// Deps holds the external dependencies of the indexing pipeline.
type Deps struct {
	Chunker  *chunker.Chunker
	Embedder Embedder
	Store    Store
	Graph    Graph  // optional
	State    *State // optional, enables unchanged-skip
	Logger   *slog.Logger
}

// --- pipeline stages ---

// Validate rejects documents that would corrupt the index.
var Validate fn.Stage[domain.Document, domain.Document] = func(_ context.Context, doc domain.Document) fn.Result[domain.Document] {
	if err := domain.ValidateDocument(doc); err != nil {
		return fn.Err[domain.Document](err)
	}
	return fn.Ok(doc)
}

// NewChunk creates the stage that splits a document into chunks.
func NewChunk(c *chunker.Chunker) fn.Stage[domain.Document, ChunkedDoc] {
	return func(_ context.Context, doc domain.Document) fn.Result[ChunkedDoc] {
		chunks := c.Chunk(doc)
		if len(chunks) == 0 {
			return fn.Errf[ChunkedDoc]("chunk %s: nothing to index", doc.ID)
		}
		return fn.Ok(ChunkedDoc{Doc: doc, Chunks: chunks})
	}
}

// NewEmbed creates the stage that embeds chunks in document mode, batched.
func NewEmbed(e Embedder) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		vectors := make([][]float32, 0, len(doc.Chunks))

		for start := 0; start < len(doc.Chunks); start += EmbedBatchSize {
			end := start + EmbedBatchSize
			if end > len(doc.Chunks) {
				end = len(doc.Chunks)
			}

			texts := fn.Map(doc.Chunks[start:end], func(c domain.ContentChunk) string { return c.Text })

			batch, err := e.EmbedBatch(ctx, texts, gateway.ModeDocument)
			if err != nil {
				return fn.Err[EmbeddedDoc](fmt.Errorf("embed %s: %w", doc.Doc.ID, err))
			}
			if len(batch) != len(texts) {
				return fn.Errf[EmbeddedDoc]("embed %s: %d vectors for %d chunks", doc.Doc.ID, len(batch), len(texts))
			}
			vectors = append(vectors, batch...)
		}

		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Vectors: vectors})
	}
}

// NewStore creates the stage that atomically replaces the document's chunks
// in the vector store and mirrors it into the content graph. The graph is
// supplemental: a sync failure costs follow-up suggestions, not answers.
func NewStore(store Store, gs Graph, log *slog.Logger) fn.Stage[EmbeddedDoc, Stored] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[Stored] {
		records := make([]semantic.Record, len(doc.Chunks))
		for i, c := range doc.Chunks {
			records[i] = semantic.NewRecord(c, doc.Vectors[i])
		}
		if err := store.ReplaceDocument(ctx, doc.Doc.ID, records); err != nil {
			return fn.Err[Stored](fmt.Errorf("store %s: %w", doc.Doc.ID, err))
		}

		if gs != nil {
			gdoc := graph.Document{
				ID:       doc.Doc.ID,
				Title:    doc.Doc.Title,
				Language: doc.Doc.Language,
				Chunks:   len(doc.Chunks),
			}
			if err := gs.SyncDocument(ctx, gdoc, graphSections(doc.Chunks), graphRefs(doc.Doc)); err != nil {
				log.Warn("ingest: graph sync failed", "doc_id", doc.Doc.ID, "error", err)
			}
		}

		return fn.Ok(Stored{DocID: doc.Doc.ID, Chunks: len(records)})
	}
}

// graphSections folds chunk metadata into one Section per section slug. The
// first chunk of a section carries its title and locator.
func graphSections(chunks []domain.ContentChunk) []graph.Section {
	firsts := fn.UniqueBy(chunks, func(c domain.ContentChunk) string { return c.SectionID })
	return fn.Map(firsts, func(c domain.ContentChunk) graph.Section {
		return graph.Section{
			ID:      c.SectionID,
			DocID:   c.DocID,
			Title:   c.SectionTitle,
			Locator: c.Locator,
		}
	})
}

// graphRefs resolves markdown cross-links to document IDs, deduped.
// Self-links and links out of the corpus are dropped.
func graphRefs(doc domain.Document) []graph.Ref {
	refs := fn.FilterMap(chunker.Refs(doc.Content), func(r chunker.Ref) (graph.Ref, bool) {
		to := resolveRef(doc.Path, r)
		return graph.Ref{FromDoc: doc.ID, ToDoc: to, Anchor: r.Anchor}, to != "" && to != doc.ID
	})
	return fn.UniqueBy(refs, func(r graph.Ref) string { return r.ToDoc + "#" + r.Anchor })
}

// LoggedTap returns a stage that logs entry and exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// stage wraps a pipeline step with a span and debug enter/exit logs.
func stage[In, Out any](name string, log *slog.Logger, s fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.Traced("ingest."+name, fn.Then(LoggedTap[In](name, log), s))
}

// NewPipeline composes the per-document pipeline:
// Validate → Chunk → Embed → Store.
func NewPipeline(deps Deps) fn.Stage[domain.Document, Stored] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	head := fn.Then(stage("validate", log, Validate), stage("chunk", log, NewChunk(deps.Chunker)))
	tail := fn.Then(stage("embed", log, NewEmbed(deps.Embedder)), stage("store", log, NewStore(deps.Store, deps.Graph, log)))
	return fn.Then(head, tail)
}

// Indexer runs documents through the pipeline and tracks what was indexed.
type Indexer struct {
	deps     Deps
	pipeline fn.Stage[domain.Document, Stored]
	log      *slog.Logger
}

// New builds an Indexer. A nil Chunker gets the default token window.
func New(deps Deps) *Indexer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New(chunker.DefaultOptions, nil)
	}
	return &Indexer{deps: deps, pipeline: NewPipeline(deps), log: deps.Logger}
}

// IndexDocument indexes one document and returns the chunk count written.
func (ix *Indexer) IndexDocument(ctx context.Context, doc domain.Document) (int, error) {
	st, err := ix.pipeline(ctx, doc).Unwrap()
	if err != nil {
		return 0, err
	}
	if ix.deps.State != nil {
		ix.deps.State.Put(doc.ID, doc.Hash)
		if err := ix.deps.State.Save(); err != nil {
			ix.log.Error("ingest: state save failed", "error", err)
		}
	}
	return st.Chunks, nil
}

// IndexCorpus indexes documents with bounded concurrency. One document's
// failure never aborts the rest; the report says what happened to each.
func (ix *Indexer) IndexCorpus(ctx context.Context, docs []domain.Document, workers int) Report {
	start := time.Now()
	report := Report{Total: len(docs)}

	pending := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if ix.deps.State != nil && ix.deps.State.Unchanged(doc.ID, doc.Hash) {
			report.Skipped++
			continue
		}
		pending = append(pending, doc)
	}

	results := fn.ParMapResult(pending, workers, func(doc domain.Document) fn.Result[Stored] {
		return ix.pipeline(ctx, doc)
	})

	for i, res := range results {
		st, err := res.Unwrap()
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, DocFailure{DocID: pending[i].ID, Reason: err.Error()})
			ix.log.Error("ingest: document failed", "doc_id", pending[i].ID, "error", err)
			continue
		}
		report.Indexed++
		report.ChunksWritten += st.Chunks
		if ix.deps.State != nil {
			ix.deps.State.Put(pending[i].ID, pending[i].Hash)
		}
	}

	if ix.deps.State != nil {
		if err := ix.deps.State.Save(); err != nil {
			ix.log.Error("ingest: state save failed", "error", err)
		}
	}

	report.Elapsed = time.Since(start)
	ix.log.Info("ingest: corpus indexed",
		"total", report.Total,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"chunks", report.ChunksWritten,
		"elapsed", report.Elapsed,
	)
	return report
}

// Remove deletes a document from the index and the graph.
func (ix *Indexer) Remove(ctx context.Context, docID string) error {
	if err := ix.deps.Store.DeleteByDocID(ctx, docID); err != nil {
		return fmt.Errorf("remove %s: %w", docID, err)
	}
	if ix.deps.Graph != nil {
		if err := ix.deps.Graph.DeleteDocument(ctx, docID); err != nil {
			ix.log.Warn("ingest: graph delete failed", "doc_id", docID, "error", err)
		}
	}
	if ix.deps.State != nil {
		ix.deps.State.Forget(docID)
		if err := ix.deps.State.Save(); err != nil {
			ix.log.Error("ingest: state save failed", "error", err)
		}
	}
	ix.log.Info("ingest: document removed", "doc_id", docID)
	return nil
}

// DropMissing removes index entries whose source document is gone from the
// corpus. Returns how many were dropped. Needs State to know what exists.
func (ix *Indexer) DropMissing(ctx context.Context, docs []domain.Document) int {
	if ix.deps.State == nil {
		return 0
	}
	present := make(map[string]bool, len(docs))
	for _, d := range docs {
		present[d.ID] = true
	}

	dropped := 0
	for _, id := range ix.deps.State.Docs() {
		if present[id] {
			continue
		}
		if err := ix.Remove(ctx, id); err != nil {
			ix.log.Warn("ingest: drop missing failed", "doc_id", id, "error", err)
			continue
		}
		dropped++
	}
	return dropped
}
