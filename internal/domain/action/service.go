package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renlowe/paradrop/internal/repository"
)

// Service handles action business logic.
type Service struct {
	actions Repository
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new action service.
func NewService(actions Repository, logger *slog.Logger) *Service {
	return &Service{
		actions: actions,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateBatch creates actions for a document from drafts in a single
// transaction. Anchors are ordinal within the document: action-1,
// action-2, and so on, continuing after any existing actions. origin
// records which store the drafts came from.
func (s *Service) CreateBatch(ctx context.Context, documentKey string, drafts []Draft, origin Origin) ([]Action, error) {
	existing, err := s.actions.ListByDocument(ctx, documentKey)
	if err != nil {
		return nil, fmt.Errorf("listing existing actions: %w", err)
	}

	now := s.now()
	batch := make([]*Action, 0, len(drafts))
	for i, draft := range drafts {
		if draft.Title == "" {
			return nil, ErrEmptyTitle
		}
		batch = append(batch, &Action{
			ID:          uuid.NewString(),
			DocumentKey: documentKey,
			Anchor:      fmt.Sprintf("action-%d", len(existing)+i+1),
			Title:       draft.Title,
			Status:      StatusPending,
			Priority:    PriorityNormal,
			DueDate:     draft.DueDate,
			Owner:       draft.Owner,
			ModifiedAt:  now,
			ModifiedBy:  origin,
			CreatedAt:   now,
		})
	}

	if err := s.actions.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("creating actions: %w", err)
	}

	out := make([]Action, 0, len(batch))
	for _, act := range batch {
		out = append(out, *act)
	}
	return out, nil
}

// Get returns an action by ID.
func (s *Service) Get(ctx context.Context, id string) (*Action, error) {
	act, err := s.actions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, fmt.Errorf("getting action: %w", err)
	}
	return act, nil
}

// SetStatus updates an action's status on behalf of the given origin.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, origin Origin) (*Action, error) {
	switch status {
	case StatusPending, StatusCompleted, StatusCancelled:
	default:
		return nil, ErrInvalidStatus
	}

	act, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if act.Status == status {
		return act, nil
	}

	act.Status = status
	act.ModifiedAt = s.now()
	act.ModifiedBy = origin
	if err := s.actions.Update(ctx, act); err != nil {
		return nil, fmt.Errorf("updating action: %w", err)
	}

	s.logger.Info("action status changed",
		"action", act.ID, "status", status, "origin", origin)
	return act, nil
}

// Apply persists an already-mutated row. The synchronizer uses it
// after deciding a reconciliation winner; origin and timestamps are
// the caller's responsibility.
func (s *Service) Apply(ctx context.Context, act *Action) error {
	if err := s.actions.Update(ctx, act); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrActionNotFound
		}
		return fmt.Errorf("updating action: %w", err)
	}
	return nil
}

// ListByDocument returns all actions for a document, archived included.
func (s *Service) ListByDocument(ctx context.Context, documentKey string) ([]Action, error) {
	return s.actions.ListByDocument(ctx, documentKey)
}

// List returns actions matching the given options.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Action, error) {
	return s.actions.List(ctx, opts)
}

// RekeyDocument moves a document's actions to a new key, keeping them
// attached to their document row when a delivered key is reused.
func (s *Service) RekeyDocument(ctx context.Context, oldKey, newKey string) error {
	if err := s.actions.RekeyDocument(ctx, oldKey, newKey); err != nil {
		return fmt.Errorf("rekeying actions: %w", err)
	}
	return nil
}

// ArchiveForDocument soft-archives every action of a document. Rows are
// never hard-deleted.
func (s *Service) ArchiveForDocument(ctx context.Context, documentKey string) error {
	if err := s.actions.ArchiveByDocument(ctx, documentKey); err != nil {
		return fmt.Errorf("archiving actions: %w", err)
	}
	return nil
}
