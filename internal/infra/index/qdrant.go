// Package index provides the vector index client implementing the evidence
// source contract. It is a minimal REST client to Qdrant; the collection is
// built and refreshed by the upstream ingestion pipeline — this client only
// searches it.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/archiva-labs/archiva/internal/domain/retrieval"
)

// ErrUnavailable is returned when the index cannot be reached or answers
// with a server error. The orchestrator degrades to the fallback response.
var ErrUnavailable = errors.New("vector index unavailable")

// Client is a minimal REST client to a Qdrant collection.
type Client struct {
	url        string
	apiKey     string
	collection string
	http       *http.Client
}

// Config configures the Qdrant client.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewClient creates a Client with a default 15s timeout when unset.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		http:       &http.Client{Timeout: timeout},
	}
}

// Search runs a filtered kNN query and returns the k nearest chunks with
// their index-side similarity scores.
func (c *Client) Search(ctx context.Context, embedding []float32, filters retrieval.Filters, k int) ([]retrieval.Chunk, error) {
	if k <= 0 {
		k = 10
	}
	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if f := buildFilter(filters); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.url, c.collection)
	if err := c.postJSON(ctx, url, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	chunks := make([]retrieval.Chunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunks = append(chunks, chunkFromPayload(r.Payload, r.Score))
	}
	return chunks, nil
}

// Healthy reports whether the index answers its readiness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/readyz", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// buildFilter maps retrieval filters onto a Qdrant filter clause.
// Payload keys match the upstream ingestion schema.
func buildFilter(f retrieval.Filters) map[string]any {
	if f.IsZero() {
		return nil
	}
	var must []map[string]any
	if len(f.Sources) > 0 {
		must = append(must, map[string]any{
			"key":   "source",
			"match": map[string]any{"any": f.Sources},
		})
	}
	if len(f.ContentTypes) > 0 {
		must = append(must, map[string]any{
			"key":   "content_type",
			"match": map[string]any{"any": f.ContentTypes},
		})
	}
	if f.DateFrom != "" || f.DateTo != "" {
		rng := map[string]any{}
		if f.DateFrom != "" {
			rng["gte"] = f.DateFrom
		}
		if f.DateTo != "" {
			rng["lte"] = f.DateTo
		}
		must = append(must, map[string]any{
			"key":   "published_at",
			"range": rng,
		})
	}
	return map[string]any{"must": must}
}

func chunkFromPayload(payload map[string]any, score float64) retrieval.Chunk {
	chunk := retrieval.Chunk{Score: score}
	if v, ok := payload["chunk_id"].(string); ok {
		chunk.ID = v
	}
	if v, ok := payload["document_id"].(string); ok {
		chunk.DocumentID = v
	}
	if v, ok := payload["source"].(string); ok {
		chunk.Source = v
	}
	if v, ok := payload["content_type"].(string); ok {
		chunk.ContentType = v
	}
	if v, ok := payload["published_at"].(string); ok {
		chunk.PublishedAt = v
	}
	if v, ok := payload["source_url"].(string); ok {
		chunk.SourceURL = v
	}
	if v, ok := payload["text"].(string); ok {
		chunk.Text = v
	}
	if v, ok := payload["language"].(string); ok {
		chunk.Language = v
	}
	return chunk
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}
