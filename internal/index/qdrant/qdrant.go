// Package qdrant implements the similarity index against a Qdrant
// server over its REST API. It pairs with a remote embedder and is
// the Pro-tier backend.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Index is a minimal Qdrant REST client. Collections are created
// lazily with cosine distance; point IDs are deterministic UUIDs
// derived from chunk IDs so re-ingestion overwrites in place.
type Index struct {
	url      string
	apiKey   string
	embedder domain.Embedder
	client   *http.Client

	mu      sync.Mutex
	ensured map[string]bool
}

// Config holds Qdrant connection settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// New creates a Qdrant-backed index.
func New(cfg Config, embedder domain.Embedder) (*Index, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant: URL is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("qdrant: embedder is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Index{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		embedder: embedder,
		client:   &http.Client{Timeout: timeout},
		ensured:  make(map[string]bool),
	}, nil
}

// Upsert embeds and stores chunks, replacing points with the same
// derived IDs.
func (q *Index) Upsert(ctx context.Context, coll string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := q.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("qdrant: embed chunks: %w", err)
	}
	if err := q.ensureCollection(ctx, coll, len(vectors[0])); err != nil {
		return err
	}

	points := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		points[i] = map[string]any{
			"id":     pointID(ch.ID),
			"vector": vectors[i],
			"payload": map[string]any{
				"chunk_id":        ch.ID,
				"source_document": ch.DocumentID,
				"chunk_index":     ch.Index,
				"section_title":   ch.SectionTitle,
				"text":            ch.Text,
				"category":        ch.Metadata.Category,
				"version":         ch.Metadata.Version,
				"agent_target":    ch.Metadata.AgentTarget,
			},
		}
	}
	body := map[string]any{"points": points}
	return q.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", q.url, coll), body, nil)
}

// Search embeds the query and returns the topK nearest chunks.
// Qdrant reports cosine similarity; distance is derived as 1-score.
func (q *Index) Search(ctx context.Context, coll string, query string, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		topK = 5
	}
	vecs, err := q.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("qdrant: embed query: %w", err)
	}
	req := map[string]any{
		"vector":       vecs[0],
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err = q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", q.url, coll), req, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		ch := domain.Chunk{}
		if v, ok := r.Payload["chunk_id"].(string); ok {
			ch.ID = v
		}
		if v, ok := r.Payload["source_document"].(string); ok {
			ch.DocumentID = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			ch.Index = int(v)
		}
		if v, ok := r.Payload["section_title"].(string); ok {
			ch.SectionTitle = v
		}
		if v, ok := r.Payload["text"].(string); ok {
			ch.Text = v
		}
		if v, ok := r.Payload["category"].(string); ok {
			ch.Metadata.Category = v
		}
		sim := r.Score
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		out = append(out, domain.ScoredChunk{Chunk: ch, Distance: 1 - sim, Similarity: sim})
	}
	return out, nil
}

// DeleteByDocument removes all points whose payload names the
// document.
func (q *Index) DeleteByDocument(ctx context.Context, coll string, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "source_document", "match": map[string]any{"value": documentID}},
			},
		},
	}
	return q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.url, coll), body, nil)
}

// Count returns the number of points in a collection.
func (q *Index) Count(ctx context.Context, coll string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/count", q.url, coll), map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Ping checks server reachability.
func (q *Index) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url+"/collections", nil)
	if err != nil {
		return err
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant: ping: %s", resp.Status)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (q *Index) Close() error { return nil }

func (q *Index) ensureCollection(ctx context.Context, coll string, dimension int) error {
	q.mu.Lock()
	done := q.ensured[coll]
	q.mu.Unlock()
	if done {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// 200 on create; conflict means the collection already exists.
	err := q.putJSON(ctx, fmt.Sprintf("%s/collections/%s", q.url, coll), body, nil)
	if err != nil && !isConflict(err) {
		return err
	}
	q.mu.Lock()
	q.ensured[coll] = true
	q.mu.Unlock()
	return nil
}

type statusError struct {
	code   int
	status string
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant: %s: %s", e.url, e.status)
}

func isConflict(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusConflict
}

// pointID derives a stable UUID from a chunk ID, since Qdrant
// requires UUID or integer point IDs.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (q *Index) putJSON(ctx context.Context, url string, body, out any) error {
	return q.doJSON(ctx, http.MethodPut, url, body, out)
}

func (q *Index) postJSON(ctx context.Context, url string, body, out any) error {
	return q.doJSON(ctx, http.MethodPost, url, body, out)
}

func (q *Index) doJSON(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, status: resp.Status, url: url}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
