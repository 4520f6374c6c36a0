package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/renlowe/paradrop/internal/domain/procstate"
	"github.com/renlowe/paradrop/internal/repository"
)

// ProcessingRepository implements procstate.Repository for SQLite
type ProcessingRepository struct {
	db *DB
}

// NewProcessingRepository creates a new ProcessingRepository
func NewProcessingRepository(db *DB) *ProcessingRepository {
	return &ProcessingRepository{db: db}
}

// Create inserts a new processing record
func (r *ProcessingRepository) Create(ctx context.Context, rec *procstate.Record) error {
	if rec.DocumentKey == "" {
		return fmt.Errorf("%w: empty document key", repository.ErrInvalidInput)
	}
	retries, err := encodeRetries(rec.Retries)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO processing_records (
			document_key, content_hash, state, retries, last_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.DocumentKey,
		rec.ContentHash,
		rec.State,
		retries,
		rec.LastError,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create processing record: %w", err)
	}
	return nil
}

// Get retrieves a processing record by document key
func (r *ProcessingRepository) Get(ctx context.Context, documentKey string) (*procstate.Record, error) {
	query := `
		SELECT document_key, content_hash, state, retries, last_error,
		       created_at, updated_at
		FROM processing_records
		WHERE document_key = ?
	`
	return scanProcessingRecord(r.db.QueryRowContext(ctx, query, documentKey))
}

// GetByHash retrieves a processing record by content hash
func (r *ProcessingRepository) GetByHash(ctx context.Context, contentHash string) (*procstate.Record, error) {
	query := `
		SELECT document_key, content_hash, state, retries, last_error,
		       created_at, updated_at
		FROM processing_records
		WHERE content_hash = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return scanProcessingRecord(r.db.QueryRowContext(ctx, query, contentHash))
}

// Update rewrites a processing record
func (r *ProcessingRepository) Update(ctx context.Context, rec *procstate.Record) error {
	retries, err := encodeRetries(rec.Retries)
	if err != nil {
		return err
	}

	query := `
		UPDATE processing_records
		SET content_hash = ?, state = ?, retries = ?, last_error = ?, updated_at = ?
		WHERE document_key = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rec.ContentHash,
		rec.State,
		retries,
		rec.LastError,
		rec.UpdatedAt,
		rec.DocumentKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update processing record: %w", err)
	}
	return requireRowsAffected(result)
}

// Retire re-keys a record and its transition log in one transaction.
func (r *ProcessingRepository) Retire(ctx context.Context, documentKey, retiredKey string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE processing_records SET document_key = ? WHERE document_key = ?`,
		retiredKey, documentKey)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to retire processing record: %w", err)
	}
	if err := requireRowsAffected(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE processing_transitions SET document_key = ? WHERE document_key = ?`,
		retiredKey, documentKey); err != nil {
		return fmt.Errorf("failed to retire transitions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retire: %w", err)
	}
	return nil
}

// ListActive returns every record not in a terminal state
func (r *ProcessingRepository) ListActive(ctx context.Context) ([]procstate.Record, error) {
	query := `
		SELECT document_key, content_hash, state, retries, last_error,
		       created_at, updated_at
		FROM processing_records
		WHERE state NOT IN ('delivered', 'permanently_failed')
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active records: %w", err)
	}
	defer rows.Close()

	var records []procstate.Record
	for rows.Next() {
		var rec procstate.Record
		var retries string
		err := rows.Scan(
			&rec.DocumentKey,
			&rec.ContentHash,
			&rec.State,
			&retries,
			&rec.LastError,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing record: %w", err)
		}
		if err := json.Unmarshal([]byte(retries), &rec.Retries); err != nil {
			return nil, fmt.Errorf("failed to decode retries: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processing rows: %w", err)
	}
	return records, nil
}

// LogTransition appends one audit entry
func (r *ProcessingRepository) LogTransition(ctx context.Context, tr *procstate.Transition) error {
	query := `
		INSERT INTO processing_transitions (document_key, from_state, to_state, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		tr.DocumentKey, tr.From, tr.To, tr.Detail, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log transition: %w", err)
	}
	return nil
}

// ListTransitions returns recent transitions for a document, newest first
func (r *ProcessingRepository) ListTransitions(ctx context.Context, documentKey string, limit int) ([]procstate.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, document_key, from_state, to_state, detail, created_at
		FROM processing_transitions
		WHERE document_key = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, documentKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var entries []procstate.Transition
	for rows.Next() {
		var tr procstate.Transition
		var detail sql.NullString
		err := rows.Scan(&tr.ID, &tr.DocumentKey, &tr.From, &tr.To, &detail, &tr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.Detail = detail.String
		entries = append(entries, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transition rows: %w", err)
	}
	return entries, nil
}

func scanProcessingRecord(row *sql.Row) (*procstate.Record, error) {
	var rec procstate.Record
	var retries string
	err := row.Scan(
		&rec.DocumentKey,
		&rec.ContentHash,
		&rec.State,
		&retries,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing record: %w", err)
	}
	if err := json.Unmarshal([]byte(retries), &rec.Retries); err != nil {
		return nil, fmt.Errorf("failed to decode retries: %w", err)
	}
	return &rec, nil
}

func encodeRetries(retries map[string]int) (string, error) {
	if retries == nil {
		return "{}", nil
	}
	data, err := json.Marshal(retries)
	if err != nil {
		return "", fmt.Errorf("failed to encode retries: %w", err)
	}
	return string(data), nil
}
