//go:build integration

package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/StudyHallAI/studyhall-engine/pkg/bus"
)

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("nats unavailable at %s: %v", url, err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsumer_IndexesPublishedDoc(t *testing.T) {
	nc := connectNATS(t)
	root := writeCorpus(t, map[string]string{
		"03-sensors/lidar.md": "# Lidar\n\nLidar measures distance by timing reflected light.",
	})

	store := newMockStore()
	ix := testIndexer(&mockEmbedder{}, store, nil, nil)
	sub, err := StartConsumer(nc, ix, root)
	if err != nil {
		t.Fatalf("start consumer: %v", err)
	}
	defer sub.Unsubscribe()

	ev := ReindexEvent{DocID: "03-sensors/lidar", Path: "03-sensors/lidar.md"}
	if err := bus.Publish(context.Background(), nc, ReindexSubject, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "document in store", func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.replaced["03-sensors/lidar"]) > 0
	})
}

func TestConsumer_DeleteEventRemovesDoc(t *testing.T) {
	nc := connectNATS(t)

	store := newMockStore()
	ix := testIndexer(&mockEmbedder{}, store, nil, nil)
	sub, err := StartConsumer(nc, ix, t.TempDir())
	if err != nil {
		t.Fatalf("start consumer: %v", err)
	}
	defer sub.Unsubscribe()

	ev := ReindexEvent{DocID: "03-sensors/lidar", Deleted: true}
	if err := bus.Publish(context.Background(), nc, ReindexSubject, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "deletion", func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.deleted) == 1 && store.deleted[0] == "03-sensors/lidar"
	})
}

func TestConsumer_RepeatedFailureLandsOnDLQ(t *testing.T) {
	nc := connectNATS(t)

	// Every attempt fails: the file never exists under this root.
	ix := testIndexer(&mockEmbedder{}, newMockStore(), nil, nil)
	sub, err := StartConsumer(nc, ix, t.TempDir())
	if err != nil {
		t.Fatalf("start consumer: %v", err)
	}
	defer sub.Unsubscribe()

	got := make(chan dlqMessage, 1)
	dlqSub, err := bus.Subscribe(nc, DLQSubject, func(_ context.Context, m dlqMessage, _ *nats.Msg) {
		got <- m
	})
	if err != nil {
		t.Fatalf("subscribe dlq: %v", err)
	}
	defer dlqSub.Unsubscribe()

	ev := ReindexEvent{DocID: "ghost", Path: "nowhere/ghost.md"}
	if err := bus.Publish(context.Background(), nc, ReindexSubject, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-got:
		if m.Retries != MaxRetries {
			t.Errorf("retries = %d, want %d", m.Retries, MaxRetries)
		}
		if m.Event.DocID != "ghost" {
			t.Errorf("event = %+v", m.Event)
		}
		if m.Error == "" {
			t.Error("error text missing")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("DLQ message never arrived")
	}
}
