package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/repository"
)

// ActionRepository implements action.Repository for SQLite
type ActionRepository struct {
	db *DB
}

// NewActionRepository creates a new ActionRepository
func NewActionRepository(db *DB) *ActionRepository {
	return &ActionRepository{db: db}
}

const actionColumns = `
	id, document_key, anchor, title, status, priority, due_date,
	owner, modified_at, modified_by, archived, created_at
`

// CreateBatch inserts a set of actions in a single transaction, so a
// partial first delivery never leaves a visible subset of rows.
func (r *ActionRepository) CreateBatch(ctx context.Context, actions []*action.Action) error {
	if len(actions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO actions (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, act := range actions {
		if act.ID == "" || act.DocumentKey == "" {
			return fmt.Errorf("%w: action needs id and document key", repository.ErrInvalidInput)
		}
		_, err := tx.ExecContext(ctx, query,
			act.ID,
			act.DocumentKey,
			act.Anchor,
			act.Title,
			act.Status,
			act.Priority,
			act.DueDate,
			act.Owner,
			act.ModifiedAt,
			act.ModifiedBy,
			act.Archived,
			act.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicate
			}
			return fmt.Errorf("failed to create action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit action batch: %w", err)
	}
	return nil
}

// Get retrieves an action by ID
func (r *ActionRepository) Get(ctx context.Context, id string) (*action.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = ?`

	var act action.Action
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&act.ID,
		&act.DocumentKey,
		&act.Anchor,
		&act.Title,
		&act.Status,
		&act.Priority,
		&act.DueDate,
		&act.Owner,
		&act.ModifiedAt,
		&act.ModifiedBy,
		&act.Archived,
		&act.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return &act, nil
}

// Update rewrites an action's mutable attributes
func (r *ActionRepository) Update(ctx context.Context, act *action.Action) error {
	query := `
		UPDATE actions
		SET title = ?, status = ?, priority = ?, due_date = ?, owner = ?,
		    modified_at = ?, modified_by = ?, archived = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		act.Title,
		act.Status,
		act.Priority,
		act.DueDate,
		act.Owner,
		act.ModifiedAt,
		act.ModifiedBy,
		act.Archived,
		act.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return requireRowsAffected(result)
}

// ListByDocument returns all actions for a document in anchor order,
// archived included
func (r *ActionRepository) ListByDocument(ctx context.Context, documentKey string) ([]action.Action, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE document_key = ?
		ORDER BY created_at ASC, anchor ASC
	`

	rows, err := r.db.QueryContext(ctx, query, documentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// List returns actions matching the given options
func (r *ActionRepository) List(ctx context.Context, opts action.ListOptions) ([]action.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE 1 = 1`
	args := []any{}

	if !opts.IncludeArchived {
		query += " AND archived = 0"
	}
	if opts.DocumentKey != "" {
		query += " AND document_key = ?"
		args = append(args, opts.DocumentKey)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}
	if opts.TitleContains != "" {
		query += " AND title LIKE ?"
		args = append(args, "%"+opts.TitleContains+"%")
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// RekeyDocument moves every action of a document to a new key. Zero
// matching rows is fine: not every document produced actions.
func (r *ActionRepository) RekeyDocument(ctx context.Context, oldKey, newKey string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE actions SET document_key = ? WHERE document_key = ?`, newKey, oldKey)
	if err != nil {
		return fmt.Errorf("failed to rekey actions: %w", err)
	}
	return nil
}

// ArchiveByDocument soft-archives every action of a document
func (r *ActionRepository) ArchiveByDocument(ctx context.Context, documentKey string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE actions SET archived = 1 WHERE document_key = ?`, documentKey)
	if err != nil {
		return fmt.Errorf("failed to archive actions: %w", err)
	}
	return nil
}

func scanActions(rows *sql.Rows) ([]action.Action, error) {
	var actions []action.Action
	for rows.Next() {
		var act action.Action
		err := rows.Scan(
			&act.ID,
			&act.DocumentKey,
			&act.Anchor,
			&act.Title,
			&act.Status,
			&act.Priority,
			&act.DueDate,
			&act.Owner,
			&act.ModifiedAt,
			&act.ModifiedBy,
			&act.Archived,
			&act.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		actions = append(actions, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action rows: %w", err)
	}
	return actions, nil
}
