// Command ask answers a single question from the command line against live
// services. It wires the same pipeline the API serves, which makes it the
// fastest end-to-end check that embedding, search, and generation are up.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/StudyHallAI/studyhall-engine/engine/chunker"
	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/gateway"
	"github.com/StudyHallAI/studyhall-engine/engine/graph"
	"github.com/StudyHallAI/studyhall-engine/engine/rag"
	"github.com/StudyHallAI/studyhall-engine/engine/retrieval"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
	"github.com/StudyHallAI/studyhall-engine/engine/skill"
	"github.com/StudyHallAI/studyhall-engine/pkg/googleai"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// askTimeout bounds the whole run, generation included.
const askTimeout = 60 * time.Second

func main() {
	question := flag.String("q", "", "question to ask (required)")
	skillName := flag.String("skill", "", "skill to invoke; empty routes by question")
	lang := flag.String("lang", "en", "answer language (en or ur)")
	k := flag.Int("k", 0, "retrieval depth; 0 uses the serving default")
	docID := flag.String("doc", "", "restrict retrieval to one document")
	level := flag.String("level", "", "learner level (beginner, intermediate, advanced)")
	flag.Parse()

	if strings.TrimSpace(*question) == "" {
		fmt.Fprintln(os.Stderr, `usage: ask -q "question" [-skill name] [-lang en|ur] [-k n] [-doc id] [-level l]`)
		os.Exit(2)
	}

	// Logs go to stderr so the answer on stdout stays pipeable.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()

	client, err := googleai.New(os.Getenv("GOOGLE_API_KEY"), googleai.Options{
		EmbedModel: os.Getenv("EMBED_MODEL"),
		GenModel:   os.Getenv("GEN_MODEL"),
	})
	if err != nil {
		log.Error("google client init failed", "err", err)
		os.Exit(1)
	}
	embed := gateway.NewEmbedding(client, gateway.Opts{Logger: log})
	generate := gateway.NewGeneration(client, gateway.Opts{Logger: log})

	vs, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), envOr("QDRANT_COLLECTION", "studyhall"))
	if err != nil {
		log.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer vs.Close()

	driver, err := neo4j.NewDriverWithContext(
		envOr("NEO4J_URL", "neo4j://localhost:7687"),
		neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""),
	)
	if err != nil {
		log.Error("neo4j driver init failed", "err", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	graphStore := graph.New(driver, log)

	var counter rag.TokenCounter
	if enc, err := chunker.NewEncoderCounter(); err != nil {
		log.Warn("token encoder unavailable, using heuristic", "error", err)
		counter = chunker.HeuristicCounter{}
	} else {
		counter = enc
	}

	retriever := retrieval.New(embed, vs, retrieval.DefaultOptions(), log)
	synth := rag.New(rag.Deps{
		Generator: generate,
		Topics:    graphStore,
		Counter:   counter,
		Logger:    log,
	}, rag.Options{})

	registry := skill.NewRegistry()
	builtins := skill.NewBuiltins(retriever, synth, graphStore, log)
	if err := builtins.RegisterAll(registry); err != nil {
		log.Error("register skills failed", "err", err)
		os.Exit(1)
	}
	router := skill.NewRouter(registry, log)

	req := skill.Request{
		Question: *question,
		Language: domain.Language(strings.ToLower(strings.TrimSpace(*lang))),
		Profile:  domain.Profile{Level: domain.ExperienceLevel(strings.ToLower(*level))},
		DocID:    *docID,
		K:        *k,
	}

	start := time.Now()
	resp := router.Route(ctx, skill.Name(*skillName), req)
	if resp.Err != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", resp.Err.Code, resp.Err.Message)
		if resp.Err.RetryAfter > 0 {
			fmt.Fprintf(os.Stderr, "retry after %ds\n", resp.Err.RetryAfter)
		}
		os.Exit(1)
	}

	printResponse(os.Stdout, resp)
	if resp.Degraded {
		fmt.Fprintln(os.Stderr, "warning: degraded answer, a supporting service was unavailable")
	}
	log.Info("answered",
		"skill", resp.Skill,
		"model", resp.Model,
		"tokens", resp.TokensUsed,
		"citations", len(resp.Citations),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func printResponse(w io.Writer, resp *skill.Response) {
	fmt.Fprintln(w, strings.TrimSpace(resp.Answer))
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, c := range resp.Citations {
			fmt.Fprintf(w, "  %d. %s %s (%.2f)\n", i+1, c.Label(), c.Locator, c.Score)
		}
	}
	if len(resp.Suggestions) > 0 {
		fmt.Fprintln(w, "\nCovered topics:")
		for _, s := range resp.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}
