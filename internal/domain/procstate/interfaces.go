package procstate

import "context"

// Repository persists processing records and their transition log.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, documentKey string) (*Record, error)
	GetByHash(ctx context.Context, contentHash string) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	// Retire re-keys a record and its transition log, freeing the
	// document key for a fresh record.
	Retire(ctx context.Context, documentKey, retiredKey string) error
	ListActive(ctx context.Context) ([]Record, error)
	LogTransition(ctx context.Context, tr *Transition) error
	ListTransitions(ctx context.Context, documentKey string, limit int) ([]Transition, error)
}
