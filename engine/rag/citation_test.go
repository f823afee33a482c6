package rag

import (
	"strings"
	"testing"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
	"github.com/StudyHallAI/studyhall-engine/engine/semantic"
)

func ragHit(score float32, docID, sectionID string) semantic.Hit {
	return semantic.Hit{
		Score: score,
		Chunk: domain.ContentChunk{
			DocID:        docID,
			DocTitle:     "Doc " + docID,
			SectionID:    sectionID,
			SectionTitle: "Section " + sectionID,
			Locator:      "/" + docID + "#" + sectionID,
			Text:         "text",
		},
	}
}

func TestReconcileCitations_ResolvesMarkers(t *testing.T) {
	hits := []semantic.Hit{
		ragHit(0.9, "sensors", "lidar"),
		ragHit(0.8, "motion", "wheels"),
		ragHit(0.7, "sensors", "imu"),
	}
	text := "LiDAR is active sensing. [S1] Wheels trade grip for speed. [S2] More on LiDAR. [S1]"

	citations, mismatched := reconcileCitations(text, hits)
	if mismatched != 0 {
		t.Fatalf("expected no mismatches, got %d", mismatched)
	}
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations after dedup, got %d", len(citations))
	}
	if citations[0].SectionID != "lidar" || citations[1].SectionID != "wheels" {
		t.Errorf("citations must keep first-appearance order: %+v", citations)
	}
	if citations[0].Locator != "/sensors#lidar" {
		t.Errorf("wrong locator: %s", citations[0].Locator)
	}
}

func TestReconcileCitations_DropsOutOfRange(t *testing.T) {
	hits := []semantic.Hit{ragHit(0.9, "sensors", "lidar")}
	text := "Fact one. [S1] Invented fact. [S7] Another invention. [S0]"

	citations, mismatched := reconcileCitations(text, hits)
	if mismatched != 2 {
		t.Fatalf("expected 2 mismatches, got %d", mismatched)
	}
	if len(citations) != 1 {
		t.Fatalf("expected 1 surviving citation, got %d", len(citations))
	}
	if citations[0].DocID != "sensors" {
		t.Errorf("wrong citation: %+v", citations[0])
	}
}

func TestReconcileCitations_FallbackByScore(t *testing.T) {
	hits := []semantic.Hit{
		ragHit(0.9, "sensors", "lidar"),
		ragHit(0.4, "motion", "wheels"),
		ragHit(0.6, "control", "pid"),
	}
	citations, mismatched := reconcileCitations("An answer with no markers at all.", hits)
	if mismatched != 0 {
		t.Fatalf("expected no mismatches, got %d", mismatched)
	}
	if len(citations) != 2 {
		t.Fatalf("expected 2 fallback citations, got %d", len(citations))
	}
	for _, c := range citations {
		if c.Score < fallbackCitationScore {
			t.Errorf("fallback citation below threshold: %+v", c)
		}
	}
}

func TestReconcileCitations_FallbackAllBelowThreshold(t *testing.T) {
	hits := []semantic.Hit{ragHit(0.36, "sensors", "lidar")}
	citations, _ := reconcileCitations("No markers here.", hits)
	if len(citations) != 0 {
		t.Errorf("weak hits must not be cited uninvited, got %+v", citations)
	}
}

func TestReconcileCitations_SnippetIsBoundedExcerpt(t *testing.T) {
	long := strings.Repeat("orientation drift accumulates ", 40)
	h := ragHit(0.9, "sensors", "imu")
	h.Chunk.Text = long

	citations, _ := reconcileCitations("See the IMU discussion. [S1]", []semantic.Hit{h})
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	got := citations[0].Snippet
	if rc := len([]rune(got)); rc > citationSnippetRunes+len("...") {
		t.Errorf("snippet is %d runes, cap is %d", rc, citationSnippetRunes)
	}
	if !strings.HasPrefix(long, strings.TrimSuffix(got, "...")) {
		t.Errorf("snippet must be a prefix of the chunk text")
	}
}

func TestReconcileCitations_DedupAcrossChunksOfSameSection(t *testing.T) {
	// Two chunks of the same section resolve to one citation.
	hits := []semantic.Hit{
		ragHit(0.9, "sensors", "lidar"),
		ragHit(0.8, "sensors", "lidar"),
	}
	citations, _ := reconcileCitations("A. [S1] B. [S2]", hits)
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
}
