package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/renlowe/paradrop/internal/domain/document"
	"github.com/renlowe/paradrop/internal/repository"
)

// DocumentRepository implements document.Repository for SQLite
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	key, content_hash, type, confidence, entity, staging_path,
	destination, payload_path, archived, created_at, modified_at
`

// Create inserts a new document
func (r *DocumentRepository) Create(ctx context.Context, doc *document.Document) error {
	if doc.Key == "" {
		return fmt.Errorf("%w: empty document key", repository.ErrInvalidInput)
	}
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		doc.Key,
		doc.ContentHash,
		doc.Type,
		doc.Confidence,
		doc.Entity,
		doc.StagingPath,
		nullable(doc.Destination),
		nullable(doc.PayloadPath),
		doc.Archived,
		doc.CreatedAt,
		doc.ModifiedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// Get retrieves a document by key
func (r *DocumentRepository) Get(ctx context.Context, key string) (*document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE key = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, key))
}

// GetByHash retrieves a document by content hash
func (r *DocumentRepository) GetByHash(ctx context.Context, contentHash string) (*document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE content_hash = ? LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, contentHash))
}

// Update rewrites a document's mutable attributes
func (r *DocumentRepository) Update(ctx context.Context, doc *document.Document) error {
	query := `
		UPDATE documents
		SET content_hash = ?, type = ?, confidence = ?, entity = ?,
		    staging_path = ?, destination = ?, payload_path = ?,
		    archived = ?, modified_at = ?
		WHERE key = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		doc.ContentHash,
		doc.Type,
		doc.Confidence,
		doc.Entity,
		doc.StagingPath,
		nullable(doc.Destination),
		nullable(doc.PayloadPath),
		doc.Archived,
		doc.ModifiedAt,
		doc.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return requireRowsAffected(result)
}

// Archive marks a document as archived. Records are never deleted.
func (r *DocumentRepository) Archive(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET archived = 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to archive document: %w", err)
	}
	return requireRowsAffected(result)
}

// Rekey renames a document's primary key. Used when a delivered key is
// reused for new content and the old row moves to a retired key.
func (r *DocumentRepository) Rekey(ctx context.Context, oldKey, newKey string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET key = ? WHERE key = ?`, newKey, oldKey)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to rekey document: %w", err)
	}
	return requireRowsAffected(result)
}

// ListDelivered returns archived documents that have a destination,
// i.e. documents living in the filing structure.
func (r *DocumentRepository) ListDelivered(ctx context.Context) ([]document.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE destination IS NOT NULL AND archived = 1
		ORDER BY modified_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivered documents: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// SearchDelivered matches delivered documents whose key, destination or
// entity contains the term
func (r *DocumentRepository) SearchDelivered(ctx context.Context, term string, limit int) ([]document.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + term + "%"
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE destination IS NOT NULL
		  AND (key LIKE ? OR destination LIKE ? OR entity LIKE ?)
		ORDER BY modified_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

func (r *DocumentRepository) scanOne(row *sql.Row) (*document.Document, error) {
	var doc document.Document
	var destination, payloadPath sql.NullString
	err := row.Scan(
		&doc.Key,
		&doc.ContentHash,
		&doc.Type,
		&doc.Confidence,
		&doc.Entity,
		&doc.StagingPath,
		&destination,
		&payloadPath,
		&doc.Archived,
		&doc.CreatedAt,
		&doc.ModifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Destination = destination.String
	doc.PayloadPath = payloadPath.String
	return &doc, nil
}

func (r *DocumentRepository) scanMany(rows *sql.Rows) ([]document.Document, error) {
	var docs []document.Document
	for rows.Next() {
		var doc document.Document
		var destination, payloadPath sql.NullString
		err := rows.Scan(
			&doc.Key,
			&doc.ContentHash,
			&doc.Type,
			&doc.Confidence,
			&doc.Entity,
			&doc.StagingPath,
			&destination,
			&payloadPath,
			&doc.Archived,
			&doc.CreatedAt,
			&doc.ModifiedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc.Destination = destination.String
		doc.PayloadPath = payloadPath.String
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}
	return docs, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
