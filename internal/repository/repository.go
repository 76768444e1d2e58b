// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// openSQLite opens the embedded database via modernc.org/sqlite, so
// no CGO is involved. The parent directory is created on demand.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.PostgresUser, cfg.PostgresPassword, dbname, sslmode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDocument stores a policy document, replacing any previous
// version with the same ID.
func (r *SQLRepository) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO policy_documents (
			id, title, category, version, agent_target, content, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			version = excluded.version,
			agent_target = excluded.agent_target,
			content = excluded.content,
			ingested_at = excluded.ingested_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		doc.ID, doc.Title, doc.Category, doc.Version,
		doc.AgentTarget, doc.Content, doc.IngestedAt,
	)
	return err
}

// GetDocument retrieves a document by ID.
func (r *SQLRepository) GetDocument(ctx context.Context, docID string) (*domain.Document, error) {
	query := `
		SELECT id, title, category, version, agent_target, content, ingested_at
		FROM policy_documents
		WHERE id = ?
	`

	var doc domain.Document
	err := r.db.QueryRowContext(ctx, r.rebind(query), docID).Scan(
		&doc.ID, &doc.Title, &doc.Category, &doc.Version,
		&doc.AgentTarget, &doc.Content, &doc.IngestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments retrieves all documents ordered by ID.
func (r *SQLRepository) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	query := `
		SELECT id, title, category, version, agent_target, content, ingested_at
		FROM policy_documents
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Category, &doc.Version,
			&doc.AgentTarget, &doc.Content, &doc.IngestedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and its chunks.
func (r *SQLRepository) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM chunks WHERE document_id = ?`), docID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM policy_documents WHERE id = ?`), docID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SaveChunks replaces all chunks of a document in one transaction,
// mirroring the index re-ingestion invariant at the storage layer.
func (r *SQLRepository) SaveChunks(ctx context.Context, docID string, chunks []domain.Chunk) error {
	if docID == "" {
		return fmt.Errorf("%w: document ID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM chunks WHERE document_id = ?`), docID); err != nil {
		return err
	}

	query := `
		INSERT INTO chunks (id, document_id, chunk_index, section_title, text, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, ch := range chunks {
		metadata, _ := json.Marshal(ch.Metadata)
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			ch.ID, docID, ch.Index, ch.SectionTitle, ch.Text, string(metadata),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunksByDocument retrieves a document's chunks in order.
func (r *SQLRepository) GetChunksByDocument(ctx context.Context, docID string) ([]domain.Chunk, error) {
	query := `
		SELECT id, document_id, chunk_index, section_title, text, metadata
		FROM chunks
		WHERE document_id = ?
		ORDER BY chunk_index
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var ch domain.Chunk
		var metadata string
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Index, &ch.SectionTitle, &ch.Text, &metadata); err != nil {
			return nil, err
		}
		if metadata != "" {
			json.Unmarshal([]byte(metadata), &ch.Metadata)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// SaveDecision appends a decision to the audit log.
func (r *SQLRepository) SaveDecision(ctx context.Context, rec *domain.DecisionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: decision ID is required", ErrInvalidInput)
	}

	grounded := 0
	if rec.Grounded {
		grounded = 1
	}

	query := `
		INSERT INTO decisions (id, kind, subject_id, customer_id, grounded, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Kind, rec.SubjectID, rec.CustomerID,
		grounded, string(rec.Payload), rec.CreatedAt,
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	query := `
		SELECT id, kind, subject_id, customer_id, grounded, payload, created_at
		FROM decisions
		WHERE id = ?
	`

	var rec domain.DecisionRecord
	var grounded int
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&rec.ID, &rec.Kind, &rec.SubjectID, &rec.CustomerID,
		&grounded, &payload, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Grounded = grounded == 1
	rec.Payload = []byte(payload)
	return &rec, nil
}

// ListDecisionsBySubject retrieves all decisions for a subject,
// newest first.
func (r *SQLRepository) ListDecisionsBySubject(ctx context.Context, subjectID string) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT id, kind, subject_id, customer_id, grounded, payload, created_at
		FROM decisions
		WHERE subject_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DecisionRecord
	for rows.Next() {
		var rec domain.DecisionRecord
		var grounded int
		var payload string
		if err := rows.Scan(
			&rec.ID, &rec.Kind, &rec.SubjectID, &rec.CustomerID,
			&grounded, &payload, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Grounded = grounded == 1
		rec.Payload = []byte(payload)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// SaveComplaint stores a complaint.
func (r *SQLRepository) SaveComplaint(ctx context.Context, c *domain.Complaint) error {
	if c.ID == "" {
		return fmt.Errorf("%w: complaint ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO complaints (id, customer_id, channel, text, received_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.CustomerID, c.Channel, c.Text, c.ReceivedAt,
	)
	return err
}

// GetComplaint retrieves a complaint by ID.
func (r *SQLRepository) GetComplaint(ctx context.Context, id string) (*domain.Complaint, error) {
	query := `
		SELECT id, customer_id, channel, text, received_at
		FROM complaints
		WHERE id = ?
	`

	var c domain.Complaint
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&c.ID, &c.CustomerID, &c.Channel, &c.Text, &c.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
