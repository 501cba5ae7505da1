package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	embedEndpoint      = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	batchEmbedEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:batchEmbedContents"

	embeddingModel      = "models/gemini-embedding-001"
	embeddingDimensions = 768

	// Google's batch API limit
	maxBatchSize = 100
)

// Task types for the asymmetric retrieval encoder. Documents and queries
// must use different hints or similarity scores degrade.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

var (
	// ErrConfiguration indicates a missing credential or connection string
	ErrConfiguration = errors.New("gemini: API key not configured")
	// ErrUpstream indicates the embedding service failed or returned
	// malformed data
	ErrUpstream = errors.New("gemini: upstream request failed")
)

// EmbeddingRequest represents an embedding API request
type EmbeddingRequest struct {
	Model                string       `json:"model"`
	Content              ContentInput `json:"content"`
	TaskType             string       `json:"task_type,omitempty"`
	OutputDimensionality int          `json:"output_dimensionality,omitempty"`
}

// ContentInput represents content for embedding
type ContentInput struct {
	Parts []PartInput `json:"parts"`
}

// PartInput represents a part of content
type PartInput struct {
	Text string `json:"text"`
}

// EmbeddingResponse represents a single embedding API response
type EmbeddingResponse struct {
	Embedding EmbeddingData `json:"embedding"`
}

// EmbeddingData contains the embedding values
type EmbeddingData struct {
	Values []float64 `json:"values"`
}

// BatchEmbeddingRequest wraps multiple embedding requests
type BatchEmbeddingRequest struct {
	Requests []EmbeddingRequest `json:"requests"`
}

// BatchEmbeddingResponse is the batch API response (no nested "embedding" key)
type BatchEmbeddingResponse struct {
	Embeddings []EmbeddingData `json:"embeddings"`
}

// EmbeddingClient turns text into fixed-dimension vectors via the Gemini
// embedding API, batching and rate-limiting requests.
type EmbeddingClient struct {
	apiKey        string
	httpClient    *http.Client
	limiter       *rate.Limiter
	endpoint      string
	batchEndpoint string
}

// EmbeddingOption is a functional option for EmbeddingClient
type EmbeddingOption func(*EmbeddingClient)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *EmbeddingClient) {
		e.httpClient = c
	}
}

// WithEndpoints overrides the API endpoints (used in tests)
func WithEndpoints(single, batch string) EmbeddingOption {
	return func(e *EmbeddingClient) {
		e.endpoint = single
		e.batchEndpoint = batch
	}
}

// WithBatchInterval sets the minimum spacing between consecutive batch
// requests
func WithBatchInterval(d time.Duration) EmbeddingOption {
	return func(e *EmbeddingClient) {
		e.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewEmbeddingClient creates a new embedding client. Fails fast when no
// credential is configured.
func NewEmbeddingClient(apiKey string, opts ...EmbeddingOption) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, ErrConfiguration
	}

	c := &EmbeddingClient{
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		endpoint:      embedEndpoint,
		batchEndpoint: batchEmbedEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EmbedBatch embeds texts in batches of at most 100, pacing consecutive
// batches to respect upstream rate limits. The returned slice is aligned
// index-for-index with the input.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))

	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch := texts[start:end]
		requests := make([]EmbeddingRequest, len(batch))
		for i, text := range batch {
			requests[i] = EmbeddingRequest{
				Model:                embeddingModel,
				Content:              ContentInput{Parts: []PartInput{{Text: text}}},
				TaskType:             taskType,
				OutputDimensionality: embeddingDimensions,
			}
		}

		var apiResp BatchEmbeddingResponse
		if err := c.post(ctx, c.batchEndpoint, BatchEmbeddingRequest{Requests: requests}, &apiResp); err != nil {
			return nil, err
		}

		// A silent truncation would corrupt the index-to-text alignment
		if len(apiResp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrUpstream, len(apiResp.Embeddings), len(batch))
		}

		for i, emb := range apiResp.Embeddings {
			if len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: input %d has empty embedding", ErrUpstream, start+i)
			}
			normalizeEmbedding(emb.Values)
			vectors = append(vectors, emb.Values)
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single retrieval query
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := EmbeddingRequest{
		Model:                embeddingModel,
		Content:              ContentInput{Parts: []PartInput{{Text: text}}},
		TaskType:             TaskRetrievalQuery,
		OutputDimensionality: embeddingDimensions,
	}

	var apiResp EmbeddingResponse
	if err := c.post(ctx, c.endpoint, reqBody, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding for query", ErrUpstream)
	}

	normalizeEmbedding(apiResp.Embedding.Values)
	return apiResp.Embedding.Values, nil
}

func (c *EmbeddingClient) post(ctx context.Context, url string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d - %s", ErrUpstream, resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrUpstream, err)
	}

	return nil
}

// normalizeEmbedding scales the vector to unit L2 norm in place. Required
// for output dimensionalities below the model's native size.
func normalizeEmbedding(embedding []float64) {
	var sumSq float64
	for _, v := range embedding {
		sumSq += v * v
	}

	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}

	for i := range embedding {
		embedding[i] /= norm
	}
}
