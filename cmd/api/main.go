// Package main implements the StudyHall API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/StudyHallAI/studyhall-engine/engine/chunker"
	"github.com/StudyHallAI/studyhall-engine/engine/gateway"
	"github.com/StudyHallAI/studyhall-engine/engine/graph"
	"github.com/StudyHallAI/studyhall-engine/engine/ingest"
	"github.com/StudyHallAI/studyhall-engine/engine/rag"
	"github.com/StudyHallAI/studyhall-engine/engine/retrieval"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/engine/skill"
	"github.com/StudyHallAI/studyhall-engine/pkg/bus"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
	"github.com/StudyHallAI/studyhall-engine/pkg/metrics"
	"github.com/StudyHallAI/studyhall-engine/pkg/mid"
	"github.com/StudyHallAI/studyhall-engine/pkg/resilience"
)

// Per-caller request quotas. Query runs the full model pipeline and is
// priced accordingly; search only embeds.
const (
	queryPerMinute  = 5
	searchPerMinute = 20
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	GoogleAPIKey string
	EmbedModel   string
	GenModel     string
	QdrantURL    string
	Collection   string
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	NATSURL      string
	CorpusRoot   string
	CORSOrigin   string
	IndexToken   string
	MinScore     float64
	GenRPM       float64
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		EmbedModel:   envOr("EMBED_MODEL", googleai.DefaultEmbedModel),
		GenModel:     envOr("GEN_MODEL", googleai.DefaultGenModel),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "studyhall"),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		NATSURL:      os.Getenv("NATS_URL"),
		CorpusRoot:   envOr("CORPUS_ROOT", "./docs"),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		IndexToken:   os.Getenv("INDEX_TOKEN"),
		MinScore:     envFloat("MIN_SCORE", 0.35),
		GenRPM:       envFloat("GEN_RPM", 30),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Model provider ---
	client, err := googleai.New(cfg.GoogleAPIKey, googleai.Options{
		EmbedModel: cfg.EmbedModel,
		GenModel:   cfg.GenModel,
	})
	if err != nil {
		return fmt.Errorf("googleai client: %w", err)
	}

	met := metrics.New()

	embed := gateway.NewEmbedding(client, gateway.Opts{Logger: logger})
	generate := gateway.NewGeneration(client, gateway.Opts{
		Breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		// Process-wide cap on generation calls, ahead of the provider quota.
		Limit:  resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.GenRPM / 60.0, Burst: 5}),
		Logger: logger,
	})

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	graphStore := graph.New(driver, logger)

	// --- Connect to NATS ---
	// Optional: only /api/index publishes. Unset NATS_URL disables it.
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("studyhall-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	// --- Build the answer pipeline ---
	var counter rag.TokenCounter
	if enc, err := chunker.NewEncoderCounter(); err != nil {
		logger.Warn("token encoder unavailable, using heuristic", "error", err)
		counter = chunker.HeuristicCounter{}
	} else {
		counter = enc
	}

	retriever := retrieval.New(embed, vectorStore, retrieval.Options{
		MinScore: float32(cfg.MinScore),
	}, logger)

	synth := rag.New(rag.Deps{
		Generator:  generate,
		Topics:     graphStore,
		Counter:    counter,
		Mismatches: met.Counter("studyhall_rag_citation_mismatches_total", "Citation markers pointing outside the retrieval set"),
		Logger:     logger,
	}, rag.Options{})

	registry := skill.NewRegistry()
	builtins := skill.NewBuiltins(retriever, synth, graphStore, logger)
	if err := builtins.RegisterAll(registry); err != nil {
		return fmt.Errorf("register skills: %w", err)
	}
	router := skill.NewRouter(registry, logger)

	srv := &server{
		router:     router,
		retriever:  retriever,
		skills:     registry,
		qdrant:     vectorStore,
		graph:      graphStore,
		stats:      graphStore,
		collection: cfg.Collection,
		model:      client.GenModel(),
		corpusRoot: cfg.CorpusRoot,
		logger:     logger,
		met:        newAPIMetrics(met),
	}
	if nc != nil {
		conn := nc
		srv.publish = func(ctx context.Context, ev ingest.ReindexEvent) error {
			return bus.Publish(ctx, conn, ingest.ReindexSubject, ev)
		}
	}

	// --- Build HTTP server ---
	queryLimit := resilience.NewKeyedLimiter(resilience.KeyedOpts{
		Rate:  queryPerMinute / 60.0,
		Burst: queryPerMinute,
	})
	searchLimit := resilience.NewKeyedLimiter(resilience.KeyedOpts{
		Rate:  searchPerMinute / 60.0,
		Burst: searchPerMinute,
	})

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", mid.RateLimit(queryLimit)(http.HandlerFunc(srv.handleQuery)))
	mux.Handle("POST /api/search", mid.RateLimit(searchLimit)(http.HandlerFunc(srv.handleSearch)))
	mux.HandleFunc("GET /api/skills", srv.handleSkills)
	mux.Handle("POST /api/index", mid.RequireToken("X-Index-Token", cfg.IndexToken)(http.HandlerFunc(srv.handleIndex)))
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/stats", srv.handleStats)
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("studyhall-api"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection, "model", client.GenModel())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
