package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/graph"
	"github.com/StudyHallAI/studyhall-engine/engine/ingest"
	"github.com/StudyHallAI/studyhall-engine/engine/retrieval"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/engine/skill"
	"github.com/StudyHallAI/studyhall-engine/pkg/fn"
	"github.com/StudyHallAI/studyhall-engine/pkg/metrics"
)

// questionRouter dispatches a request to a skill.
type questionRouter interface {
	Route(ctx context.Context, explicit skill.Name, req skill.Request) *skill.Response
}

// chunkRetriever serves raw ranked search.
type chunkRetriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]semantic.Hit, error)
}

// skillCatalog lists registered skills.
type skillCatalog interface {
	List() []skill.Skill
}

// pointCounter reports the vector collection size.
type pointCounter interface {
	Count(ctx context.Context) (uint64, error)
}

// pinger checks graph connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// server carries the wired engine for the HTTP handlers.
type server struct {
	router    questionRouter
	retriever chunkRetriever
	skills    skillCatalog
	// publish sends one reindex event. Nil when NATS is not configured.
	publish func(ctx context.Context, ev ingest.ReindexEvent) error
	qdrant  pointCounter
	graph   pinger
	// stats serves the corpus breakdown. Nil when the graph is absent.
	stats      graphStats
	collection string
	model      string
	corpusRoot string
	logger     *slog.Logger
	met        *apiMetrics
}

type apiMetrics struct {
	queries     func(skillName, outcome string) *metrics.Counter
	searches    *metrics.Counter
	queryDur    *metrics.Histogram
	indexEvents *metrics.Counter
}

func newAPIMetrics(met *metrics.Registry) *apiMetrics {
	return &apiMetrics{
		queries: func(skillName, outcome string) *metrics.Counter {
			return met.Counter(metrics.WithLabels("studyhall_api_queries_total", "skill", skillName, "outcome", outcome), "Queries by skill and outcome")
		},
		searches:    met.Counter("studyhall_api_searches_total", "Raw search requests"),
		queryDur:    met.Histogram("studyhall_api_query_duration_seconds", "Query handling time", nil),
		indexEvents: met.Counter("studyhall_api_reindex_published_total", "Reindex events published"),
	}
}

// --- query ---

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	Question  string         `json:"question"`
	Skill     string         `json:"skill,omitempty"`
	Language  string         `json:"language,omitempty"`
	DocID     string         `json:"doc_id,omitempty"`
	K         int            `json:"k,omitempty"`
	Selection string         `json:"selection,omitempty"`
	History   []domain.Turn  `json:"history,omitempty"`
	Profile   domain.Profile `json:"profile,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, skill.CodeValidation, "invalid request body")
		return
	}

	resp := s.router.Route(r.Context(), skill.Name(req.Skill), skill.Request{
		Question:  req.Question,
		Language:  langOf(req.Language),
		Profile:   req.Profile,
		History:   req.History,
		DocID:     req.DocID,
		Selection: req.Selection,
		K:         req.K,
		Params:    req.Params,
	})

	s.met.queryDur.Since(start)
	s.met.queries(string(resp.Skill), outcomeOf(resp)).Inc()

	status := http.StatusOK
	if resp.Err != nil {
		status = statusOf(resp.Err.Code)
		if resp.Err.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(resp.Err.RetryAfter))
		}
	}
	writeJSON(w, status, resp)
}

// statusOf maps coded skill failures onto HTTP statuses.
func statusOf(code string) int {
	switch code {
	case skill.CodeValidation, skill.CodeUnknownSkill:
		return http.StatusBadRequest
	case skill.CodeRateLimited:
		return http.StatusTooManyRequests
	case skill.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func outcomeOf(resp *skill.Response) string {
	switch {
	case resp.Err != nil:
		return resp.Err.Code
	case resp.Declined:
		return "declined"
	case resp.Degraded:
		return "degraded"
	default:
		return "answered"
	}
}

// --- search ---

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Q        string `json:"q"`
	K        int    `json:"k,omitempty"`
	DocID    string `json:"doc_id,omitempty"`
	Language string `json:"language,omitempty"`
}

// searchResult is one ranked chunk in a search response.
type searchResult struct {
	DocID        string  `json:"doc_id"`
	DocTitle     string  `json:"doc_title"`
	SectionID    string  `json:"section_id"`
	SectionTitle string  `json:"section_title"`
	Locator      string  `json:"locator"`
	Seq          int     `json:"seq"`
	Score        float32 `json:"score"`
	Snippet      string  `json:"snippet"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Count   int            `json:"count"`
}

// snippetRunes bounds how much chunk text a search result carries.
const snippetRunes = 300

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, skill.CodeValidation, "invalid request body")
		return
	}
	s.met.searches.Inc()

	hits, err := s.retriever.Retrieve(r.Context(), retrieval.Query{
		Text:     req.Q,
		Language: langOf(req.Language),
		DocID:    req.DocID,
		K:        req.K,
	})
	if err != nil {
		s.writeRetrieveError(w, err)
		return
	}

	out := searchResponse{Results: make([]searchResult, 0, len(hits)), Count: len(hits)}
	for _, h := range hits {
		out.Results = append(out.Results, searchResult{
			DocID:        h.Chunk.DocID,
			DocTitle:     h.Chunk.DocTitle,
			SectionID:    h.Chunk.SectionID,
			SectionTitle: h.Chunk.SectionTitle,
			Locator:      h.Chunk.Locator,
			Seq:          h.Chunk.Seq,
			Score:        h.Score,
			Snippet:      domain.Snippet(h.Chunk.Text, snippetRunes),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeRetrieveError maps raw retrieval errors for the search endpoint,
// which bypasses the skill layer's coded responses.
func (s *server) writeRetrieveError(w http.ResponseWriter, err error) {
	if rl, ok := domain.AsRateLimit(err); ok {
		secs := ceilSeconds(rl.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: skill.RespError{
			Code:       skill.CodeRateLimited,
			Message:    fmt.Sprintf("rate limited on %s", rl.Scope),
			RetryAfter: secs,
		}})
		return
	}
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, skill.CodeValidation, err.Error())
	case domain.IsUpstream(err):
		writeError(w, http.StatusBadGateway, skill.CodeUpstream, "a dependency is temporarily unavailable")
	default:
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, skill.CodeInternal, "internal error")
	}
}

// --- skills ---

// skillInfo is one catalog entry in the skills response.
type skillInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Params      []skill.ParamSpec `json:"params,omitempty"`
}

func (s *server) handleSkills(w http.ResponseWriter, _ *http.Request) {
	list := s.skills.List()
	out := make([]skillInfo, 0, len(list))
	for _, sk := range list {
		out = append(out, skillInfo{
			Name:        string(sk.Name),
			Description: sk.Description,
			Params:      sk.Params,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": out})
}

// --- index ---

// indexRequest is the JSON body for POST /api/index. Empty paths means
// republish the whole corpus.
type indexRequest struct {
	Paths []string `json:"paths,omitempty"`
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.publish == nil {
		writeError(w, http.StatusServiceUnavailable, "disabled", "reindexing requires a message bus")
		return
	}
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, skill.CodeValidation, "invalid request body")
		return
	}

	paths := req.Paths
	if len(paths) == 0 {
		var err error
		paths, err = ingest.ListCorpus(s.corpusRoot)
		if err != nil {
			s.logger.Error("corpus walk failed", "root", s.corpusRoot, "error", err)
			writeError(w, http.StatusInternalServerError, skill.CodeInternal, "corpus walk failed")
			return
		}
	}

	published := 0
	for _, p := range paths {
		rel, ok := corpusRel(p)
		if !ok {
			writeError(w, http.StatusBadRequest, skill.CodeValidation, fmt.Sprintf("path %q is outside the corpus", p))
			return
		}
		if err := s.publish(r.Context(), ingest.ReindexEvent{Path: rel}); err != nil {
			s.logger.Error("reindex publish failed", "path", rel, "error", err)
			writeError(w, http.StatusBadGateway, skill.CodeUpstream, "event publish failed")
			return
		}
		published++
	}
	s.met.indexEvents.Add(int64(published))
	s.logger.Info("reindex events published", "count", published)
	writeJSON(w, http.StatusOK, map[string]int{"published": published})
}

// corpusRel normalizes a caller-supplied path and rejects anything that
// would resolve outside the corpus root.
func corpusRel(p string) (string, bool) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// --- health ---

// healthResponse reports dependency liveness for GET /api/health.
type healthResponse struct {
	Status     string `json:"status"`
	Qdrant     bool   `json:"qdrant"`
	Graph      bool   `json:"graph"`
	Model      string `json:"model"`
	Collection string `json:"collection"`
	Points     uint64 `json:"points"`
}

const healthTimeout = 3 * time.Second

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	out := healthResponse{Status: "ok", Model: s.model, Collection: s.collection}

	// Both probes share the timeout, so run them together: a slow vector
	// store must not eat the graph's share of the budget.
	var points uint64
	errs := fn.FanOut(
		func() error {
			n, err := s.qdrant.Count(ctx)
			points = n
			return err
		},
		func() error {
			if s.graph == nil {
				return nil
			}
			return s.graph.Ping(ctx)
		},
	)
	if errs[0] == nil {
		out.Qdrant = true
		out.Points = points
	}
	out.Graph = s.graph != nil && errs[1] == nil
	if !out.Qdrant || (s.graph != nil && !out.Graph) {
		out.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, out)
}

// --- stats ---

// graphStats is the slice of the content graph the stats endpoint reads.
type graphStats interface {
	NodeCounts(ctx context.Context) (map[string]int64, error)
	RelationshipCounts(ctx context.Context) (map[string]int64, error)
	CountsByLanguage(ctx context.Context) (map[string]int64, error)
	TopReferenced(ctx context.Context, limit int) ([]graph.DocStats, error)
}

// statsResponse summarises the indexed corpus for GET /api/stats.
type statsResponse struct {
	Collection    string           `json:"collection"`
	Points        uint64           `json:"points"`
	Nodes         map[string]int64 `json:"nodes,omitempty"`
	Relationships map[string]int64 `json:"relationships,omitempty"`
	Languages     map[string]int64 `json:"languages,omitempty"`
	TopReferenced []graph.DocStats `json:"top_referenced,omitempty"`
}

const (
	statsTimeout       = 5 * time.Second
	topReferencedLimit = 5
)

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	out := statsResponse{Collection: s.collection}

	errs := fn.FanOut(
		func() error {
			n, err := s.qdrant.Count(ctx)
			out.Points = n
			return err
		},
		func() error {
			if s.stats == nil {
				return nil
			}
			var err error
			if out.Nodes, err = s.stats.NodeCounts(ctx); err != nil {
				return err
			}
			if out.Relationships, err = s.stats.RelationshipCounts(ctx); err != nil {
				return err
			}
			if out.Languages, err = s.stats.CountsByLanguage(ctx); err != nil {
				return err
			}
			out.TopReferenced, err = s.stats.TopReferenced(ctx, topReferencedLimit)
			return err
		},
	)
	if errs[0] != nil {
		s.logger.Error("stats: vector count failed", "error", errs[0])
		writeError(w, http.StatusBadGateway, skill.CodeUpstream, "vector store unavailable")
		return
	}
	if errs[1] != nil {
		// The graph is supplemental; report the vector side anyway.
		s.logger.Warn("stats: graph queries failed", "error", errs[1])
		out.Nodes, out.Relationships, out.Languages, out.TopReferenced = nil, nil, nil, nil
	}
	writeJSON(w, http.StatusOK, out)
}

// --- response helpers ---

// errorEnvelope is the error shape every non-200 response carries.
type errorEnvelope struct {
	Error skill.RespError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: skill.RespError{Code: code, Message: message}})
}

// langOf folds case without forcing unknown codes to English; validation
// downstream decides whether they pass.
func langOf(s string) domain.Language {
	return domain.Language(strings.ToLower(strings.TrimSpace(s)))
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
