package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer design: one connection avoids SQLITE_BUSY between
	// the pipeline's short transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the working-database schema.
func (db *DB) RunMigrations() error {
	migration := `
-- Documents under processing. Actions reference documents by key only,
-- without a foreign key, so action rows outlive document archival.
CREATE TABLE IF NOT EXISTS documents (
    key TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    type TEXT NOT NULL CHECK(type IN ('transcript', 'note', 'report', 'unknown')),
    confidence REAL NOT NULL DEFAULT 0,
    entity TEXT,
    staging_path TEXT NOT NULL,
    destination TEXT,
    payload_path TEXT,
    archived INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    modified_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_archived ON documents(archived);

-- Extracted commitments.
CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    document_key TEXT NOT NULL,
    anchor TEXT NOT NULL,
    title TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'completed', 'cancelled')),
    priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('low', 'normal', 'high')),
    due_date TIMESTAMP,
    owner TEXT,
    modified_at TIMESTAMP NOT NULL,
    modified_by TEXT NOT NULL CHECK(modified_by IN ('database', 'document')),
    archived INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_document ON actions(document_key);
CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);

-- Per-document state machine instances.
CREATE TABLE IF NOT EXISTS processing_records (
    document_key TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    state TEXT NOT NULL CHECK(state IN (
        'discovered', 'classifying', 'classified', 'routing', 'routed',
        'enriching', 'enriched', 'delivering', 'delivered',
        'enrich_failed', 'needs_review', 'permanently_failed'
    )),
    retries TEXT NOT NULL DEFAULT '{}',
    last_error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_hash ON processing_records(content_hash);
CREATE INDEX IF NOT EXISTS idx_processing_state ON processing_records(state);

-- Audit trail: one row per state transition.
CREATE TABLE IF NOT EXISTS processing_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    document_key TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_document ON processing_transitions(document_key);

-- Monotonic counters scoped per destination directory, used for
-- collision suffixes. Never reset, so suffixes never repeat.
CREATE TABLE IF NOT EXISTS destination_counters (
    scope TEXT PRIMARY KEY,
    seq INTEGER NOT NULL DEFAULT 0
);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
