package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/StudyHallAI/studyhall-engine/pkg/bus"
)

const retryHeader = "X-Retry-Count"

// queueGroup makes watch consumers competing: each event reaches one.
const queueGroup = "indexers"

// dlqMessage is what lands on the DLQ when an event keeps failing.
type dlqMessage struct {
	Event   ReindexEvent `json:"event"`
	Error   string       `json:"error"`
	Retries int          `json:"retries"`
}

// StartConsumer subscribes the indexer to reindex events. Failed events are
// republished with an incremented retry header and land on the DLQ after
// MaxRetries attempts. root is the corpus root event paths resolve against.
func StartConsumer(nc *nats.Conn, ix *Indexer, root string) (*nats.Subscription, error) {
	return bus.QueueSubscribe(nc, ReindexSubject, queueGroup, func(ctx context.Context, ev ReindexEvent, msg *nats.Msg) {
		log := ix.log

		if ev.DocID == "" && ev.Path == "" {
			log.Warn("ingest: empty reindex event dropped")
			return
		}

		if err := applyEvent(ctx, ix, root, ev); err != nil {
			retries := retryCount(msg) + 1
			log.Error("ingest: reindex failed",
				"doc_id", ev.DocID,
				"path", ev.Path,
				"retry", retries,
				"error", err,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Event: ev, Error: err.Error(), Retries: retries}
				if perr := bus.Publish(ctx, nc, DLQSubject, dlq); perr != nil {
					log.Error("ingest: DLQ publish failed", "error", perr)
				}
			} else {
				header := nats.Header{}
				header.Set(retryHeader, strconv.Itoa(retries))
				if perr := bus.PublishWith(ctx, nc, ReindexSubject, ev, header); perr != nil {
					log.Error("ingest: retry publish failed", "error", perr)
				}
			}
		}

		// Ack if JetStream.
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

// applyEvent executes one reindex event against the index.
func applyEvent(ctx context.Context, ix *Indexer, root string, ev ReindexEvent) error {
	if ev.Deleted {
		docID := ev.DocID
		if docID == "" {
			docID = docIDFor(filepath.ToSlash(ev.Path), "")
		}
		return ix.Remove(ctx, docID)
	}

	doc, err := LoadDocument(root, ev.Path)
	if err != nil {
		return err
	}
	if ix.deps.State != nil && ix.deps.State.Unchanged(doc.ID, doc.Hash) {
		ix.log.Info("ingest: unchanged, skipping", "doc_id", doc.ID)
		return nil
	}

	chunks, err := ix.IndexDocument(ctx, doc)
	if err != nil {
		return err
	}
	ix.log.Info("ingest: document reindexed", "doc_id", doc.ID, "chunks", chunks)
	return nil
}

// retryCount reads the retry header; absent or garbled means zero.
func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n := 0
	if v := msg.Header.Get(retryHeader); v != "" {
		fmt.Sscanf(v, "%d", &n)
	}
	return n
}
