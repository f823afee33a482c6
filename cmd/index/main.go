// Command index populates the vector index from the markdown corpus and,
// with -watch, keeps applying reindex events published on NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"

	"github.com/StudyHallAI/studyhall-engine/engine/chunker"
	"github.com/StudyHallAI/studyhall-engine/engine/gateway"
	"github.com/StudyHallAI/studyhall-engine/engine/graph"
	"github.com/StudyHallAI/studyhall-engine/engine/ingest"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
	"github.com/StudyHallAI/studyhall-engine/pkg/metrics"
)

var met = metrics.New()

// Index metrics
var (
	mDocsTotal = func(outcome string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("studyhall_index_docs_total", "outcome", outcome), "Documents by outcome")
	}
	mChunksTotal = met.Counter("studyhall_index_chunks_total", "Chunks written to the vector store")
	mCorpusDur   = met.Histogram("studyhall_index_corpus_duration_seconds", "Full corpus pass time", []float64{1, 5, 15, 60, 300, 900, 3600})
	mPoints      = met.Gauge("studyhall_index_points", "Vector store point count after the last pass")
)

const metricsPort = 9091

func main() {
	var (
		root        = flag.String("root", "./docs", "corpus root directory")
		collection  = flag.String("collection", "studyhall", "Qdrant collection name")
		workers     = flag.Int("workers", 4, "documents indexed concurrently")
		watch       = flag.Bool("watch", false, "after the batch pass, apply NATS reindex events until interrupted")
		stateFile   = flag.String("state", "", "state file path (default <root>/.index-state.json)")
		dropMissing = flag.Bool("drop-missing", false, "remove indexed documents no longer in the corpus")
		force       = flag.Bool("force", false, "re-embed every document even if unchanged (use after an embed model change)")
		embedRPS    = flag.Float64("embed-rps", 5, "embedding request pacing, calls per second")
	)
	flag.Parse()

	met.ServeAsync(metricsPort)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *stateFile == "" {
		*stateFile = filepath.Join(*root, ".index-state.json")
	}

	// Model provider
	client, err := googleai.New(os.Getenv("GOOGLE_API_KEY"), googleai.Options{
		EmbedModel: os.Getenv("EMBED_MODEL"),
		EmbedRate:  rate.NewLimiter(rate.Limit(*embedRPS), 1),
	})
	if err != nil {
		log.Error("googleai client failed", "error", err)
		os.Exit(1)
	}
	embedder := gateway.NewEmbedding(client, gateway.Opts{Logger: log})

	// Connect Qdrant
	vs, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, client.Dims()); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", client.Dims())

	// Connect Neo4j
	driver, err := neo4j.NewDriverWithContext(envOr("NEO4J_URL", "neo4j://localhost:7687"),
		neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Neo4j")

	var ck *chunker.Chunker
	if counter, err := chunker.NewEncoderCounter(); err != nil {
		log.Warn("token encoder unavailable, using heuristic", "error", err)
		ck = chunker.New(chunker.DefaultOptions, nil)
	} else {
		ck = chunker.New(chunker.DefaultOptions, counter)
	}

	st, err := ingest.LoadState(*stateFile)
	if err != nil {
		log.Error("load state failed", "path", *stateFile, "error", err)
		os.Exit(1)
	}
	if *force {
		st.MarkStale()
	}

	ix := ingest.New(ingest.Deps{
		Chunker:  ck,
		Embedder: embedder,
		Store:    vs,
		Graph:    graph.New(driver, log),
		State:    st,
		Logger:   log,
	})

	// Batch pass
	docs, err := ingest.LoadCorpus(*root)
	if err != nil {
		log.Error("load corpus failed", "root", *root, "error", err)
		os.Exit(1)
	}

	start := time.Now()
	report := ix.IndexCorpus(ctx, docs, *workers)
	mCorpusDur.Since(start)
	mDocsTotal("indexed").Add(int64(report.Indexed))
	mDocsTotal("skipped").Add(int64(report.Skipped))
	mDocsTotal("failed").Add(int64(report.Failed))
	mChunksTotal.Add(int64(report.ChunksWritten))

	if *dropMissing {
		if n := ix.DropMissing(ctx, docs); n > 0 {
			log.Info("dropped missing documents", "count", n)
		}
	}

	if points, err := vs.Count(ctx); err == nil {
		mPoints.Set(int64(points))
	}

	writeReport(os.Stdout, report)
	if allFailed(report) {
		os.Exit(1)
	}

	if !*watch {
		return
	}

	// Watch mode
	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL), nats.Name("studyhall-index"))
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	sub, err := ingest.StartConsumer(nc, ix, *root)
	if err != nil {
		log.Error("consumer start failed", "error", err)
		os.Exit(1)
	}
	log.Info("watching for reindex events", "subject", ingest.ReindexSubject)

	<-ctx.Done()
	log.Info("shutting down")
	sub.Drain()
}

func writeReport(w io.Writer, r ingest.Report) {
	fmt.Fprintf(w, "indexed %d of %d documents (%d skipped, %d failed), %d chunks in %s\n",
		r.Indexed, r.Total, r.Skipped, r.Failed, r.ChunksWritten, r.Elapsed.Round(time.Millisecond))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.DocID, f.Reason)
	}
}

// allFailed reports whether the pass attempted work and none of it landed.
func allFailed(r ingest.Report) bool {
	return r.Indexed == 0 && r.Failed > 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
