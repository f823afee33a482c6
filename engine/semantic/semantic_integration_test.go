//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) *VectorStore {
	t.Helper()
	vs, err := New(qdrantAddr(), collection)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		vs.DeleteCollection(context.Background())
		vs.Close()
	})
	return vs
}

func liveChunk(docID, sectionID string, seq int, text string) domain.ContentChunk {
	return domain.ContentChunk{
		DocID:        docID,
		DocTitle:     docID,
		SectionID:    sectionID,
		SectionTitle: sectionID,
		Locator:      "/" + docID + "#" + sectionID,
		Seq:          seq,
		Language:     domain.LangEnglish,
		Text:         text,
		TokenCount:   len(text) / 4,
	}
}

func TestQdrant_EnsureCollection(t *testing.T) {
	vs := testStore(t, "test_ensure")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	// Calling again should be idempotent
	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection (idempotent): %v", err)
	}
	// A different dimensionality must be rejected
	if err := vs.EnsureCollection(ctx, 8); err == nil {
		t.Fatal("expected dims mismatch error")
	}
}

func TestQdrant_UpsertAndSearch(t *testing.T) {
	vs := testStore(t, "test_upsert_search")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	records := []Record{
		NewRecord(liveChunk("sensors", "lidar", 0, "LiDAR measures distance with laser pulses."), []float32{1, 0, 0, 0}),
		NewRecord(liveChunk("motion", "wheels", 0, "Wheeled robots balance speed and stability."), []float32{0, 1, 0, 0}),
		NewRecord(liveChunk("sensors", "imu", 1, "An IMU reports acceleration and rotation."), []float32{0.9, 0.1, 0, 0}),
	}

	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Search near [1,0,0,0] should return the lidar chunk first
	hits, err := vs.Search(ctx, []float32{1, 0, 0, 0}, SearchOpts{K: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Chunk.SectionID != "lidar" {
		t.Fatalf("expected lidar first, got %q", hits[0].Chunk.SectionID)
	}

	// Doc filter narrows to one document
	hits, err = vs.Search(ctx, []float32{1, 0, 0, 0}, SearchOpts{K: 10, DocID: "sensors"})
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 sensors hits, got %d", len(hits))
	}
}

func TestQdrant_ReplaceDocument(t *testing.T) {
	vs := testStore(t, "test_replace")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	old := []Record{
		NewRecord(liveChunk("sensors", "lidar", 0, "old lidar text"), []float32{1, 0, 0, 0}),
		NewRecord(liveChunk("sensors", "sonar", 1, "sonar text"), []float32{0, 1, 0, 0}),
	}
	if err := vs.Upsert(ctx, old); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// New version drops the sonar section.
	next := []Record{
		NewRecord(liveChunk("sensors", "lidar", 0, "new lidar text"), []float32{1, 0, 0, 0}),
	}
	if err := vs.ReplaceDocument(ctx, "sensors", next); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	n, err := vs.CountByDoc(ctx, "sensors")
	if err != nil {
		t.Fatalf("CountByDoc: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk after replace, got %d", n)
	}

	hits, err := vs.Search(ctx, []float32{1, 0, 0, 0}, SearchOpts{K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Chunk.Text != "new lidar text" {
		t.Fatalf("expected updated text, got %q", hits[0].Chunk.Text)
	}
}

func TestQdrant_DeleteByDocID(t *testing.T) {
	vs := testStore(t, "test_delete")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	records := []Record{
		NewRecord(liveChunk("drop-me", "a", 0, "to delete"), []float32{1, 0, 0, 0}),
		NewRecord(liveChunk("keep-me", "b", 0, "keep this"), []float32{0, 1, 0, 0}),
	}
	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := vs.DeleteByDocID(ctx, "drop-me"); err != nil {
		t.Fatalf("DeleteByDocID: %v", err)
	}

	hits, err := vs.Search(ctx, []float32{1, 0, 0, 0}, SearchOpts{K: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.Chunk.DocID == "drop-me" {
			t.Fatal("deleted doc still found")
		}
	}
}
