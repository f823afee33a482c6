package semantic

import (
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// Record is one embedded chunk ready for storage.
type Record struct {
	ID     string
	Vector []float32
	Chunk  domain.ContentChunk
}

// Hit is a single similarity search result.
type Hit struct {
	ID    string              `json:"id"`
	Score float32             `json:"score"`
	Chunk domain.ContentChunk `json:"chunk"`
}

// PointID derives the stable storage ID for a chunk position. Qdrant point
// IDs must be UUIDs, and re-indexing the same position must yield the same
// ID so unchanged chunks overwrite in place instead of piling up.
func PointID(c domain.ContentChunk) string {
	key := c.DocID + ":" + c.SectionID + ":" + strconv.Itoa(c.Seq)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// NewRecord pairs a chunk with its vector under its stable point ID.
func NewRecord(c domain.ContentChunk, vector []float32) Record {
	if c.ID == "" {
		c.ID = PointID(c)
	}
	return Record{ID: c.ID, Vector: vector, Chunk: c}
}

func payloadOf(c domain.ContentChunk) map[string]any {
	return map[string]any{
		"content":       c.Text,
		"doc_id":        c.DocID,
		"doc_title":     c.DocTitle,
		"section_id":    c.SectionID,
		"section_title": c.SectionTitle,
		"locator":       c.Locator,
		"seq":           c.Seq,
		"language":      string(c.Language),
		"token_count":   c.TokenCount,
	}
}

func chunkOf(id string, payload map[string]*pb.Value) domain.ContentChunk {
	c := domain.ContentChunk{ID: id}
	for k, val := range payload {
		switch k {
		case "content":
			c.Text = val.GetStringValue()
		case "doc_id":
			c.DocID = val.GetStringValue()
		case "doc_title":
			c.DocTitle = val.GetStringValue()
		case "section_id":
			c.SectionID = val.GetStringValue()
		case "section_title":
			c.SectionTitle = val.GetStringValue()
		case "locator":
			c.Locator = val.GetStringValue()
		case "seq":
			c.Seq = int(val.GetIntegerValue())
		case "language":
			c.Language = domain.Language(val.GetStringValue())
		case "token_count":
			c.TokenCount = int(val.GetIntegerValue())
		}
	}
	return c
}
