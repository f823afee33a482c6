package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- mocks ---

type stubResult struct {
	recs []*neo4j.Record
	i    int
	err  error
}

func (r *stubResult) Next(context.Context) bool {
	if r.i >= len(r.recs) {
		return false
	}
	r.i++
	return true
}

func (r *stubResult) Record() *neo4j.Record { return r.recs[r.i-1] }
func (r *stubResult) Err() error            { return r.err }

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

// trackingSession records every cypher statement it sees, whether run
// directly or inside ExecuteWrite, and replays canned results in order.
type trackingSession struct {
	queries []string
	params  []map[string]any
	results []*stubResult
	failAt  int // 1-based Run call index to fail on; 0 disables
	err     error
	calls   int
}

func (s *trackingSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	s.calls++
	if s.failAt != 0 && s.calls == s.failAt {
		return nil, s.err
	}
	s.queries = append(s.queries, cypher)
	s.params = append(s.params, params)
	if len(s.results) > 0 {
		r := s.results[0]
		s.results = s.results[1:]
		return r, nil
	}
	return &stubResult{}, nil
}

func (s *trackingSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return work(s)
}

func (s *trackingSession) Close(context.Context) error { return nil }

type trackingOpener struct {
	session *trackingSession
}

func (o *trackingOpener) OpenSession(context.Context) CypherSession { return o.session }

func newTrackingStore() (*GraphStore, *trackingSession) {
	sess := &trackingSession{}
	return NewWithOpener(&trackingOpener{session: sess}), sess
}

func syncFixture() (Document, []Section, []Ref) {
	doc := Document{ID: "sensors", Title: "Sensors and Perception", Language: domain.LangEnglish, Chunks: 12}
	sections := []Section{
		{ID: "lidar", DocID: "sensors", Title: "How Lidar Works", Locator: "/sensors#lidar"},
		{ID: "imu", DocID: "sensors", Title: "Inertial Measurement", Locator: "/sensors#imu"},
	}
	refs := []Ref{{FromDoc: "sensors", ToDoc: "control-systems", Anchor: "feedback"}}
	return doc, sections, refs
}

func TestSyncDocument_WritesNodesSectionsRefs(t *testing.T) {
	store, sess := newTrackingStore()
	doc, sections, refs := syncFixture()

	if err := store.SyncDocument(context.Background(), doc, sections, refs); err != nil {
		t.Fatalf("SyncDocument: %v", err)
	}

	// doc merge + 2 cleanups + 2 sections + 1 ref
	if len(sess.queries) != 6 {
		t.Fatalf("queries = %d, want 6", len(sess.queries))
	}

	if sess.params[0]["id"] != "sensors" || sess.params[0]["language"] != "en" {
		t.Errorf("doc params = %v", sess.params[0])
	}
	if sess.params[0]["chunks"] != 12 {
		t.Errorf("chunks = %v, want 12", sess.params[0]["chunks"])
	}

	if !strings.Contains(sess.queries[1], "DETACH DELETE") {
		t.Errorf("second statement should drop old sections: %s", sess.queries[1])
	}
	if !strings.Contains(sess.queries[2], "REFERENCES") || !strings.Contains(sess.queries[2], "DELETE") {
		t.Errorf("third statement should drop old refs: %s", sess.queries[2])
	}

	if sess.params[3]["key"] != "sensors#lidar" || sess.params[4]["key"] != "sensors#imu" {
		t.Errorf("section keys = %v / %v", sess.params[3]["key"], sess.params[4]["key"])
	}
	if sess.params[3]["locator"] != "/sensors#lidar" {
		t.Errorf("locator = %v", sess.params[3]["locator"])
	}

	last := sess.params[5]
	if last["from"] != "sensors" || last["to"] != "control-systems" || last["anchor"] != "feedback" {
		t.Errorf("ref params = %v", last)
	}
}

func TestSyncDocument_NoSectionsStillCleansUp(t *testing.T) {
	store, sess := newTrackingStore()
	doc := Document{ID: "stub", Title: "Stub", Language: domain.LangEnglish}

	if err := store.SyncDocument(context.Background(), doc, nil, nil); err != nil {
		t.Fatalf("SyncDocument: %v", err)
	}
	if len(sess.queries) != 3 {
		t.Fatalf("queries = %d, want doc merge + 2 cleanups", len(sess.queries))
	}
}

func TestSyncDocument_WriteErrorPropagates(t *testing.T) {
	store, sess := newTrackingStore()
	sess.failAt = 2
	sess.err = errors.New("neo4j gone")

	doc, sections, refs := syncFixture()
	err := store.SyncDocument(context.Background(), doc, sections, refs)
	if err == nil || !strings.Contains(err.Error(), "neo4j gone") {
		t.Fatalf("err = %v, want write failure", err)
	}
}

func TestDeleteDocument_DetachesSections(t *testing.T) {
	store, sess := newTrackingStore()

	if err := store.DeleteDocument(context.Background(), "sensors"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(sess.queries) != 1 || !strings.Contains(sess.queries[0], "DETACH DELETE") {
		t.Fatalf("queries = %v", sess.queries)
	}
	if sess.params[0]["id"] != "sensors" {
		t.Errorf("params = %v", sess.params[0])
	}
}

func TestRelatedSections_ReadsTitles(t *testing.T) {
	store, sess := newTrackingStore()
	sess.results = []*stubResult{{recs: []*neo4j.Record{
		record([]string{"title"}, "Inertial Measurement"),
		record([]string{"title"}, "Feedback Control"),
	}}}

	got, err := store.RelatedSections(context.Background(), "sensors", "lidar", 3)
	if err != nil {
		t.Fatalf("RelatedSections: %v", err)
	}
	if len(got) != 2 || got[0] != "Inertial Measurement" || got[1] != "Feedback Control" {
		t.Fatalf("got = %v", got)
	}

	p := sess.params[0]
	if p["doc"] != "sensors" || p["section"] != "lidar" || p["limit"] != int64(3) {
		t.Errorf("params = %v", p)
	}
}

func TestRelatedSections_DefaultLimit(t *testing.T) {
	store, sess := newTrackingStore()

	if _, err := store.RelatedSections(context.Background(), "sensors", "lidar", 0); err != nil {
		t.Fatalf("RelatedSections: %v", err)
	}
	if sess.params[0]["limit"] != int64(3) {
		t.Errorf("limit = %v, want default 3", sess.params[0]["limit"])
	}
}

func TestTopicTitles_FiltersLanguage(t *testing.T) {
	store, sess := newTrackingStore()
	sess.results = []*stubResult{{recs: []*neo4j.Record{
		record([]string{"title"}, "Introduction to Physical AI"),
		record([]string{"title"}, "Sensors and Perception"),
	}}}

	got, err := store.TopicTitles(context.Background(), domain.LangEnglish, 5)
	if err != nil {
		t.Fatalf("TopicTitles: %v", err)
	}
	if len(got) != 2 || got[0] != "Introduction to Physical AI" {
		t.Fatalf("got = %v", got)
	}
	if sess.params[0]["language"] != "en" || sess.params[0]["limit"] != int64(5) {
		t.Errorf("params = %v", sess.params[0])
	}
}

func TestTopicTitles_SkipsBlankTitles(t *testing.T) {
	store, sess := newTrackingStore()
	sess.results = []*stubResult{{recs: []*neo4j.Record{
		record([]string{"title"}, "Actuators and Motion"),
		record([]string{"title"}, ""),
		record([]string{"title"}, nil),
	}}}

	got, err := store.TopicTitles(context.Background(), domain.LangUrdu, 5)
	if err != nil {
		t.Fatalf("TopicTitles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got = %v, want the one real title", got)
	}
}

func TestNodeCounts_MapsRows(t *testing.T) {
	store, sess := newTrackingStore()
	sess.results = []*stubResult{{recs: []*neo4j.Record{
		record([]string{"type", "count"}, "Document", int64(7)),
		record([]string{"type", "count"}, "Section", int64(41)),
	}}}

	counts, err := store.NodeCounts(context.Background())
	if err != nil {
		t.Fatalf("NodeCounts: %v", err)
	}
	if counts["Document"] != 7 || counts["Section"] != 41 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestCountsByLanguage(t *testing.T) {
	store, sess := newTrackingStore()
	sess.results = []*stubResult{{recs: []*neo4j.Record{
		record([]string{"type", "count"}, "en", int64(6)),
		record([]string{"type", "count"}, "ur", int64(6)),
	}}}

	counts, err := store.CountsByLanguage(context.Background())
	if err != nil {
		t.Fatalf("CountsByLanguage: %v", err)
	}
	if counts["en"] != 6 || counts["ur"] != 6 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestTopReferenced_MapsStats(t *testing.T) {
	store, sess := newTrackingStore()
	sess.results = []*stubResult{{recs: []*neo4j.Record{
		record([]string{"id", "title", "sections", "inRefs"},
			"sensors", "Sensors and Perception", int64(5), int64(3)),
	}}}

	stats, err := store.TopReferenced(context.Background(), 10)
	if err != nil {
		t.Fatalf("TopReferenced: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats = %v", stats)
	}
	s := stats[0]
	if s.ID != "sensors" || s.Title != "Sensors and Perception" || s.Sections != 5 || s.InRefs != 3 {
		t.Errorf("stat = %+v", s)
	}
}

func TestPing_RunsTrivialRead(t *testing.T) {
	store, sess := newTrackingStore()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(sess.queries) != 1 || !strings.Contains(sess.queries[0], "RETURN 1") {
		t.Fatalf("queries = %v", sess.queries)
	}
}

func TestPing_SurfacesFailure(t *testing.T) {
	store, sess := newTrackingStore()
	sess.failAt = 1
	sess.err = errors.New("connection refused")

	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("want error when the read fails")
	}
}
