package graph

import (
	"context"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// CypherResult is the slice of a Neo4j result set the store reads.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner runs one cypher statement.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a session handle: ad-hoc reads via Run, batched
// writes via ExecuteWrite.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions. The production opener wraps the Neo4j
// driver; tests substitute their own.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// GraphStore maintains the content graph.
type GraphStore struct {
	opener SessionOpener
	logger *slog.Logger
}

// New creates a GraphStore over a Neo4j driver. The caller owns the
// driver's lifecycle.
func New(driver neo4j.DriverWithContext, logger *slog.Logger) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{opener: driverOpener{driver: driver}, logger: logger}
}

// NewWithOpener creates a GraphStore over a custom session opener.
// Used by tests.
func NewWithOpener(opener SessionOpener) *GraphStore {
	return &GraphStore{opener: opener, logger: slog.Default()}
}

// SyncDocument mirrors one indexed document into the graph in a single
// write transaction: the Document node, its Section nodes, and its
// outgoing references. Sections and references from earlier versions of
// the document are dropped first so retitled or removed sections do not
// linger.
func (g *GraphStore) SyncDocument(ctx context.Context, doc Document, sections []Section, refs []Ref) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		cypher := `MERGE (d:Document {id: $id})
		           SET d.title = $title, d.language = $language, d.chunks = $chunks`
		if _, err := tx.Run(ctx, cypher, map[string]any{
			"id":       doc.ID,
			"title":    doc.Title,
			"language": string(doc.Language),
			"chunks":   doc.Chunks,
		}); err != nil {
			return nil, err
		}

		cypher = `MATCH (:Document {id: $id})-[:HAS_SECTION]->(s:Section) DETACH DELETE s`
		if _, err := tx.Run(ctx, cypher, map[string]any{"id": doc.ID}); err != nil {
			return nil, err
		}
		cypher = `MATCH (:Document {id: $id})-[r:REFERENCES]->() DELETE r`
		if _, err := tx.Run(ctx, cypher, map[string]any{"id": doc.ID}); err != nil {
			return nil, err
		}

		for _, sec := range sections {
			cypher = `MATCH (d:Document {id: $docID})
			          MERGE (s:Section {key: $key})
			          SET s.id = $id, s.doc_id = $docID, s.title = $title, s.locator = $locator
			          MERGE (d)-[:HAS_SECTION]->(s)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"key":     sectionKey(sec.DocID, sec.ID),
				"id":      sec.ID,
				"docID":   sec.DocID,
				"title":   sec.Title,
				"locator": sec.Locator,
			}); err != nil {
				return nil, err
			}
		}

		for _, ref := range refs {
			// The target may not be indexed yet; MERGE a placeholder node
			// that a later sync fills in.
			cypher = `MATCH (d:Document {id: $from})
			          MERGE (t:Document {id: $to})
			          MERGE (d)-[r:REFERENCES]->(t)
			          SET r.anchor = $anchor`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"from":   ref.FromDoc,
				"to":     ref.ToDoc,
				"anchor": ref.Anchor,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// DeleteDocument removes a document and its sections from the graph.
func (g *GraphStore) DeleteDocument(ctx context.Context, docID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		cypher := `MATCH (d:Document {id: $id})
		           OPTIONAL MATCH (d)-[:HAS_SECTION]->(s:Section)
		           DETACH DELETE d, s`
		_, err := tx.Run(ctx, cypher, map[string]any{"id": docID})
		return nil, err
	})
	return err
}

// RelatedSections suggests further reading near a cited section: sibling
// sections of the same document first, then sections of documents the
// source references. Returns section titles.
func (g *GraphStore) RelatedSections(ctx context.Context, docID, sectionID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {id: $doc})
	           OPTIONAL MATCH (d)-[:HAS_SECTION]->(sib:Section)
	           WHERE sib.id <> $section
	           OPTIONAL MATCH (d)-[:REFERENCES]->(:Document)-[:HAS_SECTION]->(ref:Section)
	           WITH collect(DISTINCT sib.title) + collect(DISTINCT ref.title) AS titles
	           UNWIND titles AS title
	           WITH DISTINCT title
	           WHERE title IS NOT NULL
	           RETURN title
	           LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"doc": docID, "section": sectionID, "limit": int64(limit),
	})
	if err != nil {
		return nil, err
	}
	return collectStrings(ctx, result, "title")
}

// TopicTitles lists document titles for one corpus language, in corpus
// order. Feeds the decline message's topic suggestions.
func (g *GraphStore) TopicTitles(ctx context.Context, language domain.Language, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {language: $language})
	           WHERE d.title IS NOT NULL AND d.title <> ''
	           RETURN d.title AS title
	           ORDER BY d.id
	           LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"language": string(language), "limit": int64(limit),
	})
	if err != nil {
		return nil, err
	}
	return collectStrings(ctx, result, "title")
}

// Ping verifies connectivity with a trivial read.
func (g *GraphStore) Ping(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `RETURN 1`, nil)
	return err
}

// collectStrings reads one string column from a result set.
func collectStrings(ctx context.Context, result CypherResult, key string) ([]string, error) {
	var out []string
	for result.Next(ctx) {
		if v, ok := result.Record().Get(key); ok {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out, result.Err()
}

// --- driver adapters ---

type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o driverOpener) OpenSession(ctx context.Context) CypherSession {
	return driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	result, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx: tx})
	})
}

func (s driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	result, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result, nil
}
