package graph

import "context"

// DocStats summarises one document's place in the graph.
type DocStats struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Sections int64  `json:"sections"`
	InRefs   int64  `json:"in_refs"`
}

// NodeCounts returns node counts grouped by label.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	return collectCounts(ctx, result)
}

// RelationshipCounts returns relationship counts grouped by type.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	return collectCounts(ctx, result)
}

// CountsByLanguage returns document counts per corpus language.
func (g *GraphStore) CountsByLanguage(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document)
	           WHERE d.language IS NOT NULL
	           RETURN d.language AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	return collectCounts(ctx, result)
}

// TopReferenced returns the documents most linked to by other documents.
func (g *GraphStore) TopReferenced(ctx context.Context, limit int) ([]DocStats, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document)
	           OPTIONAL MATCH (d)-[:HAS_SECTION]->(s:Section)
	           OPTIONAL MATCH (:Document)-[r:REFERENCES]->(d)
	           WITH d, count(DISTINCT s) AS sections, count(DISTINCT r) AS inRefs
	           WHERE inRefs > 0
	           RETURN d.id AS id, d.title AS title, sections, inRefs
	           ORDER BY inRefs DESC, d.id ASC
	           LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}

	var stats []DocStats
	for result.Next(ctx) {
		rec := result.Record()
		s := DocStats{}
		if v, ok := rec.Get("id"); ok {
			if id, ok := v.(string); ok {
				s.ID = id
			}
		}
		if v, ok := rec.Get("title"); ok {
			if title, ok := v.(string); ok {
				s.Title = title
			}
		}
		if v, ok := rec.Get("sections"); ok {
			if n, ok := v.(int64); ok {
				s.Sections = n
			}
		}
		if v, ok := rec.Get("inRefs"); ok {
			if n, ok := v.(int64); ok {
				s.InRefs = n
			}
		}
		stats = append(stats, s)
	}
	return stats, result.Err()
}

// collectCounts reads a (type, count) result set into a map.
func collectCounts(ctx context.Context, result CypherResult) (map[string]int64, error) {
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}
