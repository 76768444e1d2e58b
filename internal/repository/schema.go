package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS policy_documents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    category TEXT NOT NULL,
    version TEXT,
    agent_target TEXT,
    content TEXT NOT NULL,
    ingested_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON policy_documents(category);
`

const schemaChunks = `
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    section_title TEXT,
    text TEXT NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    customer_id TEXT,
    grounded INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_subject ON decisions(subject_id);
CREATE INDEX IF NOT EXISTS idx_decisions_kind ON decisions(kind);
CREATE INDEX IF NOT EXISTS idx_decisions_customer ON decisions(customer_id);
`

const schemaComplaints = `
CREATE TABLE IF NOT EXISTS complaints (
    id TEXT PRIMARY KEY,
    customer_id TEXT,
    channel TEXT,
    text TEXT NOT NULL,
    received_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_complaints_customer ON complaints(customer_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDocuments,
		schemaChunks,
		schemaDecisions,
		schemaComplaints,
	}
}
