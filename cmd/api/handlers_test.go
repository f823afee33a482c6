package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/graph"
	"github.com/StudyHallAI/studyhall-engine/engine/ingest"
	"github.com/StudyHallAI/studyhall-engine/engine/retrieval"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/engine/skill"
	"github.com/StudyHallAI/studyhall-engine/pkg/metrics"
)

// --- mocks ---

type mockRouter struct {
	resp     *skill.Response
	explicit skill.Name
	got      skill.Request
}

func (m *mockRouter) Route(_ context.Context, explicit skill.Name, req skill.Request) *skill.Response {
	m.explicit, m.got = explicit, req
	return m.resp
}

type mockRetriever struct {
	hits []semantic.Hit
	err  error
	got  retrieval.Query
}

func (m *mockRetriever) Retrieve(_ context.Context, q retrieval.Query) ([]semantic.Hit, error) {
	m.got = q
	return m.hits, m.err
}

type mockCatalog struct{ skills []skill.Skill }

func (m *mockCatalog) List() []skill.Skill { return m.skills }

type mockPoints struct {
	n   uint64
	err error
}

func (m *mockPoints) Count(context.Context) (uint64, error) { return m.n, m.err }

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockGraphStats struct {
	nodes map[string]int64
	rels  map[string]int64
	langs map[string]int64
	top   []graph.DocStats
	err   error
}

func (m *mockGraphStats) NodeCounts(context.Context) (map[string]int64, error) {
	return m.nodes, m.err
}

func (m *mockGraphStats) RelationshipCounts(context.Context) (map[string]int64, error) {
	return m.rels, m.err
}

func (m *mockGraphStats) CountsByLanguage(context.Context) (map[string]int64, error) {
	return m.langs, m.err
}

func (m *mockGraphStats) TopReferenced(context.Context, int) ([]graph.DocStats, error) {
	return m.top, m.err
}

type publishRecorder struct {
	mu     sync.Mutex
	events []ingest.ReindexEvent
	err    error
}

func (p *publishRecorder) publish(_ context.Context, ev ingest.ReindexEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func testServer() *server {
	return &server{
		qdrant:     &mockPoints{},
		collection: "studyhall",
		model:      "gemini-flash-latest",
		logger:     slog.New(slog.NewTextHandler(os.Stdout, nil)),
		met:        newAPIMetrics(metrics.New()),
	}
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// --- query ---

func TestHandleQuery_RoutesAndAnswers(t *testing.T) {
	router := &mockRouter{resp: &skill.Response{
		Skill:   skill.Answer,
		Success: true,
		Answer:  "A lidar measures distance with laser pulses. [S1]",
		Citations: []domain.Citation{
			{DocID: "03-sensors/lidar", SectionID: "ranging", Score: 0.8},
		},
		Model: "gemini-flash-latest",
	}}
	srv := testServer()
	srv.router = router

	rec := doJSON(t, srv.handleQuery, http.MethodPost, "/api/query",
		`{"question":"What is a lidar?","skill":"answer","language":"UR","k":3}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if router.explicit != skill.Answer {
		t.Errorf("explicit skill = %q", router.explicit)
	}
	if router.got.Language != domain.LangUrdu {
		t.Errorf("language not folded: %q", router.got.Language)
	}
	if router.got.K != 3 {
		t.Errorf("k = %d", router.got.K)
	}

	var got skill.Response
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer == "" || len(got.Citations) != 1 {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestHandleQuery_BadBodyIs400(t *testing.T) {
	srv := testServer()
	srv.router = &mockRouter{}

	rec := doJSON(t, srv.handleQuery, http.MethodPost, "/api/query", `{not json`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != skill.CodeValidation {
		t.Errorf("code = %q", env.Error.Code)
	}
}

func TestHandleQuery_RateLimitSetsRetryAfter(t *testing.T) {
	srv := testServer()
	srv.router = &mockRouter{resp: &skill.Response{
		Skill: skill.Answer,
		Err:   &skill.RespError{Code: skill.CodeRateLimited, Message: "rate limited on generate", RetryAfter: 7},
	}}

	rec := doJSON(t, srv.handleQuery, http.MethodPost, "/api/query", `{"question":"q"}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "7" {
		t.Errorf("Retry-After = %q", got)
	}
	var got skill.Response
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Err == nil || got.Err.RetryAfter != 7 {
		t.Errorf("body error = %+v", got.Err)
	}
}

func TestStatusOf(t *testing.T) {
	cases := map[string]int{
		skill.CodeValidation:   http.StatusBadRequest,
		skill.CodeUnknownSkill: http.StatusBadRequest,
		skill.CodeRateLimited:  http.StatusTooManyRequests,
		skill.CodeUpstream:     http.StatusBadGateway,
		skill.CodeInternal:     http.StatusInternalServerError,
		"never-seen":           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusOf(code); got != want {
			t.Errorf("statusOf(%q) = %d, want %d", code, got, want)
		}
	}
}

// --- search ---

func searchHit(docID, sectionID, text string, score float32) semantic.Hit {
	return semantic.Hit{
		Score: score,
		Chunk: domain.ContentChunk{
			DocID:        docID,
			DocTitle:     "Sensors",
			SectionID:    sectionID,
			SectionTitle: "Lidar",
			Locator:      docID + "#" + sectionID,
			Text:         text,
		},
	}
}

func TestHandleSearch_ReturnsRankedChunks(t *testing.T) {
	retr := &mockRetriever{hits: []semantic.Hit{
		searchHit("03-sensors/lidar", "ranging", "Laser pulses time-of-flight.", 0.82),
		searchHit("03-sensors/lidar", "mounting", "Roof mounts see furthest.", 0.61),
	}}
	srv := testServer()
	srv.retriever = retr

	rec := doJSON(t, srv.handleSearch, http.MethodPost, "/api/search",
		`{"q":"lidar range","k":2,"doc_id":"03-sensors/lidar"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if retr.got.K != 2 || retr.got.DocID != "03-sensors/lidar" {
		t.Errorf("query passed through wrong: %+v", retr.got)
	}

	var got searchResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 2 || len(got.Results) != 2 {
		t.Fatalf("count = %d, results = %d", got.Count, len(got.Results))
	}
	first := got.Results[0]
	if first.DocID != "03-sensors/lidar" || first.SectionID != "ranging" || first.Score != 0.82 {
		t.Errorf("first result = %+v", first)
	}
	if first.Snippet != "Laser pulses time-of-flight." {
		t.Errorf("snippet = %q", first.Snippet)
	}
}

func TestHandleSearch_EmptyIsValidJSON(t *testing.T) {
	srv := testServer()
	srv.retriever = &mockRetriever{}

	rec := doJSON(t, srv.handleSearch, http.MethodPost, "/api/search", `{"q":"unheard of topic"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Errorf("zero hits must render an empty array, got %s", rec.Body)
	}
}

func TestHandleSearch_ValidationIs400(t *testing.T) {
	srv := testServer()
	srv.retriever = &mockRetriever{err: domain.NewValidationError("k", "99", domain.ErrBadLimit)}

	rec := doJSON(t, srv.handleSearch, http.MethodPost, "/api/search", `{"q":"x","k":99}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleSearch_ProviderQuotaIs429(t *testing.T) {
	srv := testServer()
	srv.retriever = &mockRetriever{err: &domain.RateLimitError{Scope: "embed", RetryAfter: 30 * time.Second}}

	rec := doJSON(t, srv.handleSearch, http.MethodPost, "/api/search", `{"q":"x"}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q", got)
	}
	var env errorEnvelope
	json.NewDecoder(rec.Body).Decode(&env)
	if env.Error.RetryAfter != 30 {
		t.Errorf("retry_after_seconds = %d", env.Error.RetryAfter)
	}
}

func TestHandleSearch_UpstreamIs502(t *testing.T) {
	srv := testServer()
	srv.retriever = &mockRetriever{err: &domain.UpstreamError{Service: "search", Err: errors.New("qdrant down")}}

	rec := doJSON(t, srv.handleSearch, http.MethodPost, "/api/search", `{"q":"x"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

// --- skills ---

func TestHandleSkills_ListsCatalog(t *testing.T) {
	srv := testServer()
	srv.skills = &mockCatalog{skills: []skill.Skill{
		{Name: skill.Answer, Description: "Answer a question."},
		{Name: skill.Quiz, Description: "Generate practice questions.", Params: []skill.ParamSpec{
			{Name: "count", Type: "int", Default: 5, Min: 1, Max: 10},
		}},
	}}

	rec := doJSON(t, srv.handleSkills, http.MethodGet, "/api/skills", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Skills []skillInfo `json:"skills"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Skills) != 2 {
		t.Fatalf("skills = %d", len(got.Skills))
	}
	if got.Skills[1].Name != "quiz" || len(got.Skills[1].Params) != 1 {
		t.Errorf("quiz entry = %+v", got.Skills[1])
	}
	if got.Skills[1].Params[0].Max != 10 {
		t.Errorf("param spec lost constraints: %+v", got.Skills[1].Params[0])
	}
}

// --- index ---

func TestHandleIndex_PublishesGivenPaths(t *testing.T) {
	rec := &publishRecorder{}
	srv := testServer()
	srv.publish = rec.publish

	res := doJSON(t, srv.handleIndex, http.MethodPost, "/api/index",
		`{"paths":["03-sensors/lidar.md","./01-intro/index.md"]}`)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", res.Code, res.Body)
	}
	var got map[string]int
	json.NewDecoder(res.Body).Decode(&got)
	if got["published"] != 2 {
		t.Errorf("published = %d", got["published"])
	}
	if len(rec.events) != 2 || rec.events[0].Path != "03-sensors/lidar.md" {
		t.Errorf("events = %+v", rec.events)
	}
	if rec.events[1].Path != "01-intro/index.md" {
		t.Errorf("dot prefix not cleaned: %+v", rec.events[1])
	}
}

func TestHandleIndex_EmptyBodyWalksCorpus(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"01-intro/index.md", "03-sensors/lidar.mdx"} {
		p := filepath.Join(root, rel)
		os.MkdirAll(filepath.Dir(p), 0o755)
		os.WriteFile(p, []byte("# Doc"), 0o644)
	}
	rec := &publishRecorder{}
	srv := testServer()
	srv.publish = rec.publish
	srv.corpusRoot = root

	res := doJSON(t, srv.handleIndex, http.MethodPost, "/api/index", "")

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", res.Code, res.Body)
	}
	if len(rec.events) != 2 {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestHandleIndex_RejectsEscapingPath(t *testing.T) {
	rec := &publishRecorder{}
	srv := testServer()
	srv.publish = rec.publish

	res := doJSON(t, srv.handleIndex, http.MethodPost, "/api/index",
		`{"paths":["../secrets/env.md"]}`)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", res.Code)
	}
	if len(rec.events) != 0 {
		t.Errorf("nothing should publish, got %+v", rec.events)
	}
}

func TestHandleIndex_NoBusIs503(t *testing.T) {
	srv := testServer()

	res := doJSON(t, srv.handleIndex, http.MethodPost, "/api/index", `{}`)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", res.Code)
	}
}

func TestCorpusRel(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"03-sensors/lidar.md", "03-sensors/lidar.md", true},
		{"./03-sensors/lidar.md", "03-sensors/lidar.md", true},
		{" 01-intro/index.md ", "01-intro/index.md", true},
		{"/etc/passwd", "", false},
		{"../outside.md", "", false},
		{"a/../../outside.md", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := corpusRel(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("corpusRel(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

// --- health ---

func TestHandleHealth_AllUp(t *testing.T) {
	srv := testServer()
	srv.qdrant = &mockPoints{n: 420}
	srv.graph = &mockPinger{}

	rec := doJSON(t, srv.handleHealth, http.MethodGet, "/api/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || !got.Qdrant || !got.Graph {
		t.Errorf("health = %+v", got)
	}
	if got.Points != 420 || got.Collection != "studyhall" || got.Model != "gemini-flash-latest" {
		t.Errorf("health detail = %+v", got)
	}
}

func TestHandleHealth_DegradedWhenQdrantDown(t *testing.T) {
	srv := testServer()
	srv.qdrant = &mockPoints{err: errors.New("connection refused")}
	srv.graph = &mockPinger{}

	rec := doJSON(t, srv.handleHealth, http.MethodGet, "/api/health", "")

	var got healthResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Status != "degraded" || got.Qdrant {
		t.Errorf("health = %+v", got)
	}
	if !got.Graph {
		t.Errorf("graph should still report up: %+v", got)
	}
}

func TestHandleHealth_GraphDownDegrades(t *testing.T) {
	srv := testServer()
	srv.qdrant = &mockPoints{n: 10}
	srv.graph = &mockPinger{err: errors.New("neo4j unreachable")}

	rec := doJSON(t, srv.handleHealth, http.MethodGet, "/api/health", "")

	var got healthResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Status != "degraded" || got.Graph {
		t.Errorf("health = %+v", got)
	}
}

// --- stats ---

func TestHandleStats_CombinesStores(t *testing.T) {
	srv := testServer()
	srv.qdrant = &mockPoints{n: 1848}
	srv.stats = &mockGraphStats{
		nodes: map[string]int64{"Document": 44, "Section": 310},
		rels:  map[string]int64{"HAS_SECTION": 310, "REFERENCES": 61},
		langs: map[string]int64{"en": 22, "ur": 22},
		top:   []graph.DocStats{{ID: "sensors", Title: "Sensors and Perception", Sections: 7, InRefs: 9}},
	}

	rec := doJSON(t, srv.handleStats, http.MethodGet, "/api/stats", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Points != 1848 || got.Collection != "studyhall" {
		t.Errorf("vector side = %+v", got)
	}
	if got.Nodes["Section"] != 310 || got.Relationships["REFERENCES"] != 61 {
		t.Errorf("graph side = %+v", got)
	}
	if got.Languages["ur"] != 22 {
		t.Errorf("language counts = %+v", got.Languages)
	}
	if len(got.TopReferenced) != 1 || got.TopReferenced[0].ID != "sensors" {
		t.Errorf("top referenced = %+v", got.TopReferenced)
	}
}

func TestHandleStats_GraphFailureStillReportsPoints(t *testing.T) {
	srv := testServer()
	srv.qdrant = &mockPoints{n: 77}
	srv.stats = &mockGraphStats{err: errors.New("neo4j down")}

	rec := doJSON(t, srv.handleStats, http.MethodGet, "/api/stats", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("graph loss must not fail stats: status = %d", rec.Code)
	}
	var got statsResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Points != 77 {
		t.Errorf("points = %d", got.Points)
	}
	if got.Nodes != nil || got.TopReferenced != nil {
		t.Errorf("partial graph data must be dropped: %+v", got)
	}
}

func TestHandleStats_QdrantDownIs502(t *testing.T) {
	srv := testServer()
	srv.qdrant = &mockPoints{err: errors.New("connection refused")}

	rec := doJSON(t, srv.handleStats, http.MethodGet, "/api/stats", "")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	var got errorEnvelope
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Error.Code != skill.CodeUpstream {
		t.Errorf("code = %q", got.Error.Code)
	}
}
