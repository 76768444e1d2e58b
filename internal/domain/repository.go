// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, docID string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, docID string) error

	// Chunk operations. SaveChunks replaces all chunks of the
	// document in one transaction, preserving re-ingestion
	// idempotency at the storage layer.
	SaveChunks(ctx context.Context, docID string, chunks []Chunk) error
	GetChunksByDocument(ctx context.Context, docID string) ([]Chunk, error)

	// Decision audit log
	SaveDecision(ctx context.Context, rec *DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*DecisionRecord, error)
	ListDecisionsBySubject(ctx context.Context, subjectID string) ([]*DecisionRecord, error)

	// Complaint operations
	SaveComplaint(ctx context.Context, c *Complaint) error
	GetComplaint(ctx context.Context, id string) (*Complaint, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
