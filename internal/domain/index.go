package domain

import (
	"context"
)

// SimilarityIndex defines the interface for vector similarity search.
// Implementations: in-memory TF-IDF (Community) or Qdrant (Pro).
type SimilarityIndex interface {
	// Upsert stores chunks in a collection, replacing any chunks
	// with the same IDs.
	Upsert(ctx context.Context, collection string, chunks []Chunk) error

	// Search returns the topK nearest chunks for a query.
	// Results are ordered by ascending distance.
	Search(ctx context.Context, collection string, query string, topK int) ([]ScoredChunk, error)

	// DeleteByDocument removes all chunks belonging to a document.
	DeleteByDocument(ctx context.Context, collection string, documentID string) error

	// Count returns the number of chunks in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Embedder converts texts into dense vectors for similarity search.
type Embedder interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector width, or 0 if not yet known.
	Dimensions() int
}

// IndexConfig holds configuration for similarity index initialization.
type IndexConfig struct {
	// Type is the index type: "memory" or "qdrant"
	Type string

	// Qdrant settings (Pro tier)
	QdrantURL    string
	QdrantAPIKey string

	// Embedder is the embedding backend: "tfidf" or "openai"
	Embedder string

	// OpenAI embedder settings
	OpenAIAPIKey string
	OpenAIModel  string
}
