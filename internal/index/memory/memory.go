// Package memory implements the similarity index as an in-process
// brute-force cosine search over TF-IDF vectors. It is the
// Community-tier backend: zero external dependencies, suitable for
// corpora up to a few thousand chunks.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/index/tfidf"
)

// Index stores chunks per collection and vectorizes lazily: upserts
// and deletes mark the collection dirty, and the next search refits
// the TF-IDF vocabulary over the current corpus before embedding.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	chunks  map[string]domain.Chunk // by chunk ID
	order   []string                // insertion order, for stable vectors
	vec     *tfidf.Vectorizer
	vectors map[string][]float64
	dirty   bool
}

// New creates an empty index.
func New() *Index {
	return &Index{collections: make(map[string]*collection)}
}

// Upsert stores chunks, replacing any with the same IDs.
func (idx *Index) Upsert(_ context.Context, coll string, chunks []domain.Chunk) error {
	if coll == "" {
		return fmt.Errorf("memory index: collection name is required")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c := idx.collection(coll)
	for _, ch := range chunks {
		if _, exists := c.chunks[ch.ID]; !exists {
			c.order = append(c.order, ch.ID)
		}
		c.chunks[ch.ID] = ch
	}
	c.dirty = true
	return nil
}

// Search embeds the query and returns the topK chunks by cosine
// similarity, ordered by ascending distance (1 - similarity).
func (idx *Index) Search(ctx context.Context, coll string, query string, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		topK = 5
	}
	idx.mu.Lock()
	c, ok := idx.collections[coll]
	if !ok || len(c.chunks) == 0 {
		idx.mu.Unlock()
		return nil, nil
	}
	if err := c.refit(ctx); err != nil {
		idx.mu.Unlock()
		return nil, err
	}
	// Snapshot under lock, score outside it.
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	vectors := c.vectors
	chunks := c.chunks
	vec := c.vec
	qv, err := vec.Embed(ctx, []string{query})
	idx.mu.Unlock()
	if err != nil {
		return nil, err
	}

	type scored struct {
		id    string
		score float64
	}
	all := make([]scored, 0, len(ids))
	for _, id := range ids {
		all = append(all, scored{id: id, score: dot(vectors[id], qv[0])})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if topK > len(all) {
		topK = len(all)
	}

	out := make([]domain.ScoredChunk, 0, topK)
	for _, s := range all[:topK] {
		sim := clamp01(s.score)
		out = append(out, domain.ScoredChunk{
			Chunk:      chunks[s.id],
			Distance:   1 - sim,
			Similarity: sim,
		})
	}
	return out, nil
}

// DeleteByDocument removes all chunks belonging to a document.
func (idx *Index) DeleteByDocument(_ context.Context, coll string, documentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c, ok := idx.collections[coll]
	if !ok {
		return nil
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if c.chunks[id].DocumentID == documentID {
			delete(c.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	c.dirty = true
	return nil
}

// Count returns the number of chunks in a collection.
func (idx *Index) Count(_ context.Context, coll string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.collections[coll]
	if !ok {
		return 0, nil
	}
	return len(c.chunks), nil
}

// Ping always succeeds for the in-process index.
func (idx *Index) Ping(context.Context) error { return nil }

// Close releases the stored corpus.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.collections = make(map[string]*collection)
	return nil
}

// collection returns the named collection, creating it on first use.
// Caller must hold the write lock.
func (idx *Index) collection(name string) *collection {
	c, ok := idx.collections[name]
	if !ok {
		c = &collection{
			chunks:  make(map[string]domain.Chunk),
			vec:     tfidf.New(),
			vectors: make(map[string][]float64),
		}
		idx.collections[name] = c
	}
	return c
}

// refit rebuilds the vocabulary and chunk vectors after mutations.
// Caller must hold the write lock.
func (c *collection) refit(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	texts := make([]string, len(c.order))
	for i, id := range c.order {
		texts[i] = c.chunks[id].Text
	}
	if err := c.vec.Fit(texts); err != nil {
		return fmt.Errorf("memory index: refit: %w", err)
	}
	vecs, err := c.vec.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("memory index: embed corpus: %w", err)
	}
	c.vectors = make(map[string][]float64, len(c.order))
	for i, id := range c.order {
		c.vectors[id] = vecs[i]
	}
	c.dirty = false
	return nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
