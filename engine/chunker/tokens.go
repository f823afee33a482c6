package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// TokenCounter reports how many model tokens a string encodes to.
type TokenCounter interface {
	Count(text string) int
}

var bpeLoaderOnce sync.Once

// EncoderCounter counts with the cl100k_base BPE, loaded offline so no
// network fetch happens at startup. Safe for concurrent use.
type EncoderCounter struct {
	enc *tiktoken.Tiktoken
}

// NewEncoderCounter initialises the encoding. Build one and share it; the
// BPE tables are expensive to load.
func NewEncoderCounter() (*EncoderCounter, error) {
	bpeLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("chunker: init encoding: %w", err)
	}
	return &EncoderCounter{enc: enc}, nil
}

func (c *EncoderCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates one token per four bytes, the usual rule
// of thumb for English prose. Fallback when the BPE tables are
// unavailable, and the counter used in tests.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if n := len(text) / 4; n > 0 {
		return n
	}
	return 1
}
