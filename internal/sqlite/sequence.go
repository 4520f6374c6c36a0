package sqlite

import (
	"context"
	"fmt"
)

// SequenceRepository hands out monotonic counters scoped by an
// arbitrary string, used by the router for collision suffixes.
type SequenceRepository struct {
	db *DB
}

// NewSequenceRepository creates a new SequenceRepository
func NewSequenceRepository(db *DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next increments and returns the counter for a scope. The first call
// for a scope returns 1.
func (r *SequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO destination_counters (scope, seq) VALUES (?, 1)
		ON CONFLICT(scope) DO UPDATE SET seq = seq + 1
	`, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM destination_counters WHERE scope = ?`, scope).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence: %w", err)
	}
	return seq, nil
}
