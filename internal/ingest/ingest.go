// Package ingest wires the document pipeline: chunk a policy
// document, persist it with its chunks, push the chunks into the
// similarity index and announce the ingestion on the bus.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/chunker"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service ingests documents into the knowledge base.
// repo and bus may be nil for index-only setups (benchmarks, tests).
type Service struct {
	chunker *chunker.Chunker
	repo    domain.Repository
	index   domain.SimilarityIndex
	bus     domain.EventBus
}

// NewService creates an ingestion service.
func NewService(c *chunker.Chunker, repo domain.Repository, index domain.SimilarityIndex, bus domain.EventBus) *Service {
	if c == nil {
		c = chunker.New(chunker.Config{})
	}
	return &Service{
		chunker: c,
		repo:    repo,
		index:   index,
		bus:     bus,
	}
}

// Result summarizes a completed ingestion.
type Result struct {
	DocumentID  string   `json:"documentId"`
	ChunkCount  int      `json:"chunkCount"`
	Collections []string `json:"collections"`
}

// IngestDocument chunks and indexes a document. Re-ingesting the
// same document ID replaces its previous chunks in every collection.
func (s *Service) IngestDocument(ctx context.Context, doc *domain.Document) (*Result, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("document ID is required")
	}
	if doc.Content == "" {
		return nil, fmt.Errorf("document content is required")
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	chunks, err := s.chunker.Chunk(doc.Content, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document %s: %w", doc.ID, err)
	}
	for i := range chunks {
		chunks[i].Metadata.Category = doc.Category
		chunks[i].Metadata.Version = doc.Version
		chunks[i].Metadata.AgentTarget = doc.AgentTarget
	}

	if s.repo != nil {
		if err := s.repo.SaveDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to save document %s: %w", doc.ID, err)
		}
		if err := s.repo.SaveChunks(ctx, doc.ID, chunks); err != nil {
			return nil, fmt.Errorf("failed to save chunks for %s: %w", doc.ID, err)
		}
	}

	collections := CollectionsFor(doc.Category)
	for _, coll := range collections {
		if err := s.index.DeleteByDocument(ctx, coll, doc.ID); err != nil {
			slog.Warn("failed to clear previous chunks",
				"document_id", doc.ID,
				"collection", coll,
				"error", err,
			)
		}
		if err := s.index.Upsert(ctx, coll, chunks); err != nil {
			return nil, fmt.Errorf("failed to index document %s into %s: %w", doc.ID, coll, err)
		}
	}

	result := &Result{
		DocumentID:  doc.ID,
		ChunkCount:  len(chunks),
		Collections: collections,
	}

	if s.bus != nil {
		payload := []byte(fmt.Sprintf(`{"documentId":%q,"chunkCount":%d}`, doc.ID, len(chunks)))
		if err := s.bus.Publish(ctx, domain.TopicDocumentIngested, payload); err != nil {
			slog.Error("failed to publish document ingested event",
				"document_id", doc.ID,
				"error", err,
			)
		}
	}

	slog.Info("document ingested",
		"document_id", doc.ID,
		"category", doc.Category,
		"chunks", len(chunks),
		"collections", collections,
	)
	return result, nil
}

// RemoveDocument deletes a document from storage and every index
// collection that may hold its chunks.
func (s *Service) RemoveDocument(ctx context.Context, docID string) error {
	var doc *domain.Document
	if s.repo != nil {
		var err error
		doc, err = s.repo.GetDocument(ctx, docID)
		if err != nil {
			return err
		}
	}

	collections := []string{
		domain.CollectionBankPolicies,
		domain.CollectionCustomerFAQs,
		domain.CollectionAllDocuments,
	}
	if doc != nil {
		collections = CollectionsFor(doc.Category)
	}
	for _, coll := range collections {
		if err := s.index.DeleteByDocument(ctx, coll, docID); err != nil {
			slog.Warn("failed to remove chunks from index",
				"document_id", docID,
				"collection", coll,
				"error", err,
			)
		}
	}

	if s.repo != nil {
		if err := s.repo.DeleteDocument(ctx, docID); err != nil {
			return err
		}
	}
	slog.Info("document removed", "document_id", docID)
	return nil
}

// CollectionsFor maps a document category to its index collections.
// FAQ material lands in customer_faqs, everything else in
// bank_policies; all documents also join the combined collection.
func CollectionsFor(category string) []string {
	primary := domain.CollectionBankPolicies
	if category == "faq" {
		primary = domain.CollectionCustomerFAQs
	}
	return []string{primary, domain.CollectionAllDocuments}
}
