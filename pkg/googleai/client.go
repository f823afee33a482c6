// Package googleai is a minimal REST client for the Google Generative
// Language API: asymmetric text embeddings plus grounded text generation.
// The client performs no retries itself; callers own the retry policy.
package googleai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultEmbedModel = "text-embedding-004"
	DefaultGenModel   = "gemini-flash-latest"
	DefaultDims       = 768

	// maxBatchInputs is the API ceiling per batchEmbedContents call.
	maxBatchInputs = 100
)

// EmbedTask selects which end of the asymmetric embedding space a text
// lands in. Indexed content and queries must not share a task type.
type EmbedTask string

const (
	TaskDocument EmbedTask = "RETRIEVAL_DOCUMENT"
	TaskQuery    EmbedTask = "RETRIEVAL_QUERY"
)

// Options tunes the client. Zero values take the defaults above.
type Options struct {
	BaseURL    string
	EmbedModel string
	GenModel   string
	Dims       int
	// EmbedRate paces outbound embedding calls. Nil means unpaced.
	EmbedRate *rate.Limiter
	HTTPClient *http.Client
}

// Client talks to one API key's quota. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	genModel   string
	dims       int
	pace       *rate.Limiter
	client     *http.Client
}

// New creates a client. The API key must be set.
func New(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("googleai: api key is empty")
	}
	c := &Client{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		embedModel: opts.EmbedModel,
		genModel:   opts.GenModel,
		dims:       opts.Dims,
		pace:       opts.EmbedRate,
		client:     opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.embedModel == "" {
		c.embedModel = DefaultEmbedModel
	}
	if c.genModel == "" {
		c.genModel = DefaultGenModel
	}
	if c.dims == 0 {
		c.dims = DefaultDims
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 60 * time.Second}
	}
	return c, nil
}

// Dims returns the embedding width the client requests.
func (c *Client) Dims() int { return c.dims }

// GenModel returns the generation model name.
func (c *Client) GenModel() string { return c.genModel }

type contentPart struct {
	Text string `json:"text"`
}

type apiContent struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type embedRequest struct {
	Model                string     `json:"model"`
	Content              apiContent `json:"content"`
	TaskType             string     `json:"taskType,omitempty"`
	OutputDimensionality int        `json:"outputDimensionality,omitempty"`
}

type embedValues struct {
	Values []float32 `json:"values"`
}

type embedResponse struct {
	Embedding embedValues `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

func (c *Client) embedReq(text string, task EmbedTask) embedRequest {
	return embedRequest{
		Model:                "models/" + c.embedModel,
		Content:              apiContent{Parts: []contentPart{{Text: text}}},
		TaskType:             string(task),
		OutputDimensionality: c.dims,
	}
}

// Embed returns the vector for one text.
func (c *Client) Embed(ctx context.Context, text string, task EmbedTask) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out embedResponse
	path := "/models/" + c.embedModel + ":embedContent"
	if err := c.post(ctx, path, c.embedReq(text, task), &out); err != nil {
		return nil, err
	}
	return c.checkDims(out.Embedding.Values)
}

// EmbedBatch embeds texts in API-sized batches, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, task EmbedTask) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	path := "/models/" + c.embedModel + ":batchEmbedContents"

	for start := 0; start < len(texts); start += maxBatchInputs {
		end := min(start+maxBatchInputs, len(texts))
		req := batchEmbedRequest{}
		for _, t := range texts[start:end] {
			req.Requests = append(req.Requests, c.embedReq(t, task))
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		var resp batchEmbedResponse
		if err := c.post(ctx, path, req, &resp); err != nil {
			return nil, fmt.Errorf("googleai: batch [%d:%d]: %w", start, end, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("googleai: batch [%d:%d]: got %d embeddings", start, end, len(resp.Embeddings))
		}
		for _, e := range resp.Embeddings {
			vec, err := c.checkDims(e.Values)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

// GenerateRequest is one grounded generation call.
type GenerateRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// GenerateResult carries the model text plus usage accounting.
type GenerateResult struct {
	Text         string
	TokensUsed   int
	Model        string
	FinishReason string
}

type generationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []apiContent      `json:"contents"`
	SystemInstruction *apiContent       `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      apiContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate produces text for a prompt.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	wire := generateRequest{
		Contents: []apiContent{{Role: "user", Parts: []contentPart{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		wire.SystemInstruction = &apiContent{Parts: []contentPart{{Text: req.System}}}
	}

	var resp generateResponse
	path := "/models/" + c.genModel + ":generateContent"
	if err := c.post(ctx, path, wire, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("googleai: generate: no candidates")
	}

	cand := resp.Candidates[0]
	var text string
	for _, p := range cand.Content.Parts {
		text += p.Text
	}
	return &GenerateResult{
		Text:         text,
		TokensUsed:   resp.UsageMetadata.TotalTokenCount,
		Model:        c.genModel,
		FinishReason: cand.FinishReason,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("googleai: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("googleai: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("googleai: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("googleai: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.pace == nil {
		return nil
	}
	if err := c.pace.Wait(ctx); err != nil {
		return fmt.Errorf("googleai: pace: %w", err)
	}
	return nil
}

func (c *Client) checkDims(vec []float32) ([]float32, error) {
	if len(vec) != c.dims {
		return nil, fmt.Errorf("googleai: embedding has %d dims, want %d", len(vec), c.dims)
	}
	return vec, nil
}

type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var env apiErrorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		apiErr.Status = env.Error.Status
		apiErr.Message = env.Error.Message
		for _, d := range env.Error.Details {
			if d.RetryDelay == "" {
				continue
			}
			if delay, err := time.ParseDuration(d.RetryDelay); err == nil {
				apiErr.RetryAfter = delay
			}
		}
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	// The Retry-After header, when present, wins over body details.
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
