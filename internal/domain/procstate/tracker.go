package procstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/renlowe/paradrop/internal/repository"
)

// Tracker validates and persists state changes for processing records.
// Every pipeline component goes through it; direct repository writes
// would bypass transition checking and the audit log.
type Tracker struct {
	records Repository
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a new state tracker.
func NewTracker(records Repository, logger *slog.Logger) *Tracker {
	return &Tracker{
		records: records,
		logger:  logger,
		now:     time.Now,
	}
}

// Discover creates a record in state discovered for the given document,
// or returns the existing one. Content identity rules both skips: a
// terminal record for the same hash drops the event with ErrTerminal,
// and an active record for the same hash under another key drops it
// with ErrInFlight. A terminal record under the same *key* but with
// different content is retired out of the way: the key identity ended
// at delivery, and the new content gets a fresh record.
func (t *Tracker) Discover(ctx context.Context, documentKey, contentHash string) (*Record, error) {
	if prior, err := t.records.GetByHash(ctx, contentHash); err == nil {
		if prior.State.IsTerminal() {
			t.logger.Info("skipping rediscovered content",
				"document", documentKey, "prior", prior.DocumentKey, "state", prior.State)
			return nil, ErrTerminal
		}
		if prior.DocumentKey != documentKey {
			t.logger.Info("skipping duplicate of in-flight content",
				"document", documentKey, "processing", prior.DocumentKey, "state", prior.State)
			return nil, ErrInFlight
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("checking content hash: %w", err)
	}

	existing, err := t.records.Get(ctx, documentKey)
	if err == nil {
		if !existing.State.IsTerminal() {
			if existing.ContentHash != contentHash {
				// Rewritten while still in staging: keep the record,
				// track the current content.
				existing.ContentHash = contentHash
				existing.UpdatedAt = t.now()
				if err := t.records.Update(ctx, existing); err != nil {
					return nil, fmt.Errorf("refreshing content hash: %w", err)
				}
			}
			return existing, nil
		}

		retired := RetiredKey(documentKey, existing.ContentHash)
		if err := t.records.Retire(ctx, documentKey, retired); err != nil {
			return nil, fmt.Errorf("retiring delivered record: %w", err)
		}
		t.logger.Info("retired delivered record, key reused for new content",
			"document", documentKey, "retired", retired)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("loading processing record: %w", err)
	}

	now := t.now()
	rec := &Record{
		DocumentKey: documentKey,
		ContentHash: contentHash,
		State:       StateDiscovered,
		Retries:     map[string]int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating processing record: %w", err)
	}
	t.logger.Info("document discovered", "document", documentKey)
	return rec, nil
}

// Get returns the record for a document key.
func (t *Tracker) Get(ctx context.Context, documentKey string) (*Record, error) {
	rec, err := t.records.Get(ctx, documentKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("loading processing record: %w", err)
	}
	return rec, nil
}

// Transition moves a record to a new state, persisting the change and
// an audit entry. detail may carry a failure reason; it is also stored
// on the record as the last error for side-branch states.
func (t *Tracker) Transition(ctx context.Context, rec *Record, to State, detail string) error {
	if rec.State.IsTerminal() {
		return ErrTerminal
	}
	if !CanTransition(rec.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, to)
	}

	from := rec.State
	rec.State = to
	rec.UpdatedAt = t.now()
	switch to {
	case StateEnrichFailed, StateNeedsReview, StatePermanentlyFailed:
		if detail != "" {
			reason := detail
			rec.LastError = &reason
		}
	default:
		rec.LastError = nil
	}

	if err := t.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("updating processing record: %w", err)
	}
	if err := t.records.LogTransition(ctx, &Transition{
		DocumentKey: rec.DocumentKey,
		From:        from,
		To:          to,
		Detail:      detail,
		CreatedAt:   rec.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("logging transition: %w", err)
	}

	t.logger.Info("state transition",
		"document", rec.DocumentKey, "from", from, "to", to, "detail", detail)
	return nil
}

// IncrementRetry bumps a step's retry counter and persists it.
func (t *Tracker) IncrementRetry(ctx context.Context, rec *Record, step string) (int, error) {
	count := rec.IncrementRetry(step)
	rec.UpdatedAt = t.now()
	if err := t.records.Update(ctx, rec); err != nil {
		return 0, fmt.Errorf("updating retry count: %w", err)
	}
	return count, nil
}

// Active returns every non-terminal record, for crash recovery: each is
// re-evaluated from its current state rather than restarted.
func (t *Tracker) Active(ctx context.Context) ([]Record, error) {
	return t.records.ListActive(ctx)
}

// History returns recent transitions for a document.
func (t *Tracker) History(ctx context.Context, documentKey string, limit int) ([]Transition, error) {
	return t.records.ListTransitions(ctx, documentKey, limit)
}
