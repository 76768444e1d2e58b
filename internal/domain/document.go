package domain

import (
	"time"
)

// Standard collection names for the knowledge base.
const (
	CollectionBankPolicies = "bank_policies"
	CollectionCustomerFAQs = "customer_faqs"
	CollectionAllDocuments = "all_documents"
)

// Document represents a source policy document before chunking.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"` // e.g. "fraud_policy", "complaint_policy", "product_policy", "faq"
	Version     string    `json:"version"`
	AgentTarget string    `json:"agentTarget,omitempty"` // downstream consumer hint, e.g. "sentinel", "dispatcher"
	Content     string    `json:"content"`
	IngestedAt  time.Time `json:"ingestedAt"`
}

// Chunk is a retrievable fragment of a document.
// Chunk IDs are deterministic functions of the document ID and position,
// so re-ingesting a document overwrites its previous chunks.
type Chunk struct {
	ID           string        `json:"id"`
	DocumentID   string        `json:"documentId"`
	Index        int           `json:"index"`
	SectionTitle string        `json:"sectionTitle"`
	Text         string        `json:"text"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// ChunkMetadata is carried alongside every chunk in the similarity index.
type ChunkMetadata struct {
	Category    string   `json:"category,omitempty"`
	Version     string   `json:"version,omitempty"`
	AgentTarget string   `json:"agentTarget,omitempty"`
	ContentHash string   `json:"contentHash,omitempty"`
	KeyTerms    []string `json:"keyTerms,omitempty"`
}

// ScoredChunk is a chunk returned from a similarity search.
// Distance is the raw metric from the index; Similarity is the
// normalized score clamp(1-distance, 0, 1).
type ScoredChunk struct {
	Chunk
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}
