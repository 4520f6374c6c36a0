// Package pipeline drives documents through the processing state
// machine, one step at a time, consulting the tracker before and after
// every step so a crash at any point is resumable.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/renlowe/paradrop/internal/actionsync"
	"github.com/renlowe/paradrop/internal/classify"
	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/document"
	"github.com/renlowe/paradrop/internal/domain/procstate"
	"github.com/renlowe/paradrop/internal/enrich"
	"github.com/renlowe/paradrop/internal/repository"
	"github.com/renlowe/paradrop/internal/route"
	"github.com/renlowe/paradrop/internal/watcher"
)

// Enricher is the orchestrator seam; tests substitute a fake so no
// subprocess is spawned.
type Enricher interface {
	Enrich(ctx context.Context, doc *document.Document, contextPaths []string) (*enrich.Payload, error)
}

// MetadataSource supplies sender/attendee metadata from the external
// calendar/email integration. May be nil.
type MetadataSource interface {
	Lookup(ctx context.Context, key string) (*classify.Metadata, error)
}

// Options tunes the processor.
type Options struct {
	WorkDir string
	// EnrichRetries bounds transient enrichment failures; validation
	// failures are retried at most once regardless.
	EnrichRetries int
	Backoff       time.Duration
}

// Processor advances one document at a time through the state machine.
// It is safe for concurrent use across distinct documents; the
// in-flight set makes two runs for the same document mutually
// exclusive.
type Processor struct {
	tracker    *procstate.Tracker
	docs       document.Repository
	classifier *classify.Classifier
	router     *route.Router
	enricher   Enricher
	syncer     *actionsync.Synchronizer
	actions    *action.Service
	meta       MetadataSource
	opts       Options
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	sleep func(ctx context.Context, d time.Duration)
}

// NewProcessor wires the pipeline components together.
func NewProcessor(
	tracker *procstate.Tracker,
	docs document.Repository,
	classifier *classify.Classifier,
	router *route.Router,
	enricher Enricher,
	syncer *actionsync.Synchronizer,
	actions *action.Service,
	meta MetadataSource,
	opts Options,
	logger *slog.Logger,
) *Processor {
	if opts.EnrichRetries <= 0 {
		opts.EnrichRetries = 2
	}
	return &Processor{
		tracker:    tracker,
		docs:       docs,
		classifier: classifier,
		router:     router,
		enricher:   enricher,
		syncer:     syncer,
		actions:    actions,
		meta:       meta,
		opts:       opts,
		logger:     logger,
		inflight:   make(map[string]struct{}),
		sleep:      sleepCtx,
	}
}

// InFlight implements watcher.Gate.
func (p *Processor) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[key]
	return ok
}

// Intake handles a ready event: the processing record is created (or a
// terminal duplicate is dropped with a logged skip), the document row
// is created or refreshed, and the document is processed to completion
// or to a waiting state.
func (p *Processor) Intake(ctx context.Context, ev watcher.Event) error {
	rec, err := p.tracker.Discover(ctx, ev.Key, ev.Hash)
	if err != nil {
		// Both skips are logged by the tracker with the prior record.
		if errors.Is(err, procstate.ErrTerminal) || errors.Is(err, procstate.ErrInFlight) {
			return nil
		}
		return err
	}

	if err := p.upsertDocument(ctx, ev); err != nil {
		return err
	}
	return p.Process(ctx, rec)
}

func (p *Processor) upsertDocument(ctx context.Context, ev watcher.Event) error {
	doc, err := p.docs.Get(ctx, ev.Key)
	if errors.Is(err, repository.ErrNotFound) {
		return p.createDocument(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}

	if doc.Archived {
		// The key belonged to an already-delivered document; move that
		// row and its actions aside so reconciliation keeps working,
		// then treat the event as a brand-new document.
		retired := procstate.RetiredKey(ev.Key, doc.ContentHash)
		if err := p.docs.Rekey(ctx, ev.Key, retired); err != nil {
			return fmt.Errorf("rekeying delivered document: %w", err)
		}
		if err := p.actions.RekeyDocument(ctx, ev.Key, retired); err != nil {
			return err
		}
		p.logger.Info("delivered document rekeyed, key reused",
			"document", ev.Key, "retired", retired)
		return p.createDocument(ctx, ev)
	}

	if doc.ContentHash != ev.Hash || doc.StagingPath != ev.Path {
		doc.ContentHash = ev.Hash
		doc.StagingPath = ev.Path
		doc.ModifiedAt = time.Now()
		if err := p.docs.Update(ctx, doc); err != nil {
			return fmt.Errorf("refreshing document: %w", err)
		}
	}
	return nil
}

func (p *Processor) createDocument(ctx context.Context, ev watcher.Event) error {
	now := time.Now()
	return p.docs.Create(ctx, &document.Document{
		Key:         ev.Key,
		ContentHash: ev.Hash,
		Type:        document.TypeUnknown,
		StagingPath: ev.Path,
		CreatedAt:   now,
		ModifiedAt:  now,
	})
}

func (p *Processor) loadDocument(ctx context.Context, key string) (*document.Document, error) {
	doc, err := p.docs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", document.ErrDocumentNotFound, key)
		}
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return doc, nil
}

// Process advances a record until it reaches a terminal or waiting
// state. A second call for the same document while one is running
// returns immediately: the ProcessingRecord acts as the lock.
func (p *Processor) Process(ctx context.Context, rec *procstate.Record) error {
	if !p.acquire(rec.DocumentKey) {
		p.logger.Info("document already in flight, coalescing", "document", rec.DocumentKey)
		return nil
	}
	defer p.release(rec.DocumentKey)

	for !rec.State.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch rec.State {
		case procstate.StateDiscovered:
			err = p.tracker.Transition(ctx, rec, procstate.StateClassifying, "")
		case procstate.StateClassifying:
			err = p.stepClassify(ctx, rec)
		case procstate.StateClassified:
			err = p.tracker.Transition(ctx, rec, procstate.StateRouting, "")
		case procstate.StateRouting:
			err = p.stepRoute(ctx, rec)
		case procstate.StateRouted:
			err = p.tracker.Transition(ctx, rec, procstate.StateEnriching, "")
		case procstate.StateEnriching:
			err = p.stepEnrich(ctx, rec)
		case procstate.StateEnrichFailed:
			err = p.stepRetryEnrich(ctx, rec)
		case procstate.StateEnriched:
			err = p.tracker.Transition(ctx, rec, procstate.StateDelivering, "")
		case procstate.StateDelivering:
			err = p.stepDeliver(ctx, rec)
		case procstate.StateNeedsReview:
			// Waits for the user; the document stays in staging with
			// its failure reason attached.
			return nil
		default:
			return fmt.Errorf("unexpected state %s for %s", rec.State, rec.DocumentKey)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) acquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[key]; ok {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Processor) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

func (p *Processor) stepClassify(ctx context.Context, rec *procstate.Record) error {
	doc, err := p.loadDocument(ctx, rec.DocumentKey)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(doc.StagingPath)
	if err != nil {
		return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
			fmt.Sprintf("staging file unreadable: %v", err))
	}

	var meta *classify.Metadata
	if p.meta != nil {
		meta, err = p.meta.Lookup(ctx, rec.DocumentKey)
		if err != nil {
			// Metadata is optional context, not a gate.
			p.logger.Warn("metadata lookup failed", "document", rec.DocumentKey, "error", err)
		}
	}

	result := p.classifier.Classify(ctx, filepath.Base(rec.DocumentKey), content, meta)
	if result.NeedsReview {
		return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
			"unrecognized source: classification below threshold and research exhausted")
	}

	doc.Type = result.Type
	doc.Confidence = result.Confidence
	doc.Entity = result.Entity
	doc.ModifiedAt = time.Now()
	if err := p.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("storing classification: %w", err)
	}

	p.logger.Info("classified",
		"document", rec.DocumentKey, "type", result.Type,
		"confidence", result.Confidence, "entity", stringValue(result.Entity))
	return p.tracker.Transition(ctx, rec, procstate.StateClassified, "")
}

func (p *Processor) stepRoute(ctx context.Context, rec *procstate.Record) error {
	doc, err := p.loadDocument(ctx, rec.DocumentKey)
	if err != nil {
		return err
	}

	dest, err := p.router.Resolve(ctx, doc)
	if err != nil {
		return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
			fmt.Sprintf("routing failed: %v", err))
	}

	doc.Destination = dest
	doc.ModifiedAt = time.Now()
	if err := p.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("storing destination: %w", err)
	}

	p.logger.Info("routed", "document", rec.DocumentKey, "destination", dest)
	return p.tracker.Transition(ctx, rec, procstate.StateRouted, "")
}

func (p *Processor) stepEnrich(ctx context.Context, rec *procstate.Record) error {
	doc, err := p.loadDocument(ctx, rec.DocumentKey)
	if err != nil {
		return err
	}

	payload, enrichErr := p.enricher.Enrich(ctx, doc, nil)
	if enrichErr != nil {
		return p.handleEnrichFailure(ctx, rec, enrichErr)
	}

	// The payload is persisted before the state advances, so a crash
	// between enriched and delivered never re-invokes enrichment.
	payloadPath, err := p.writePayload(rec.DocumentKey, payload)
	if err != nil {
		return err
	}
	doc.PayloadPath = payloadPath
	doc.ModifiedAt = time.Now()
	if err := p.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("storing payload reference: %w", err)
	}

	return p.tracker.Transition(ctx, rec, procstate.StateEnriched, "")
}

func (p *Processor) handleEnrichFailure(ctx context.Context, rec *procstate.Record, enrichErr error) error {
	reason := enrichErr.Error()
	if err := p.tracker.Transition(ctx, rec, procstate.StateEnrichFailed, reason); err != nil {
		return err
	}

	var typed *enrich.Error
	if errors.As(enrichErr, &typed) && !typed.Transient() {
		// Counted in-memory here, persisted by the IncrementRetry below.
		rec.IncrementRetry(procstate.StepEnrichValidation)
	}
	count, err := p.tracker.IncrementRetry(ctx, rec, procstate.StepEnrich)
	if err != nil {
		return err
	}

	if p.enrichExhausted(rec) {
		p.logger.Warn("enrichment retries exhausted",
			"document", rec.DocumentKey, "failures", count, "reason", reason)
		return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview, reason)
	}

	p.sleep(ctx, p.opts.Backoff*time.Duration(count))
	return p.tracker.Transition(ctx, rec, procstate.StateEnriching, "retry")
}

// validationRetryBudget caps malformed-payload failures: the agent gets
// one retry before the document goes to review.
const validationRetryBudget = 2

// enrichExhausted applies both budgets to the persisted counters, so
// the live retry loop and the restart path agree.
func (p *Processor) enrichExhausted(rec *procstate.Record) bool {
	return rec.RetryCount(procstate.StepEnrich) >= p.opts.EnrichRetries ||
		rec.RetryCount(procstate.StepEnrichValidation) >= validationRetryBudget
}

// stepRetryEnrich resumes a record found in enrich_failed after a
// restart: the failure was already counted, so only the budget check
// runs.
func (p *Processor) stepRetryEnrich(ctx context.Context, rec *procstate.Record) error {
	if p.enrichExhausted(rec) {
		return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
			stringValue(rec.LastError))
	}
	return p.tracker.Transition(ctx, rec, procstate.StateEnriching, "retry")
}

func (p *Processor) stepDeliver(ctx context.Context, rec *procstate.Record) error {
	doc, err := p.loadDocument(ctx, rec.DocumentKey)
	if err != nil {
		return err
	}
	if doc.Destination == "" {
		return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
			"no destination assigned")
	}

	destAbs := p.router.Abs(doc.Destination)
	if _, statErr := os.Stat(destAbs); statErr != nil {
		if !os.IsNotExist(statErr) {
			return fmt.Errorf("checking destination: %w", statErr)
		}

		payload, err := p.readPayload(doc.PayloadPath)
		if err != nil {
			return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
				fmt.Sprintf("enriched payload unreadable: %v", err))
		}

		staged, err := os.ReadFile(doc.StagingPath)
		if err != nil {
			return p.tracker.Transition(ctx, rec, procstate.StateNeedsReview,
				fmt.Sprintf("staging file unreadable: %v", err))
		}

		drafts := make([]action.Draft, 0, len(payload.Actions))
		for _, act := range payload.Actions {
			draft := action.Draft{Title: act.Title, DueDate: act.Due()}
			if act.Owner != "" {
				owner := act.Owner
				draft.Owner = &owner
			}
			drafts = append(drafts, draft)
		}

		annotated, acts, err := p.syncer.Annotate(ctx, doc, drafts, staged)
		if err != nil {
			return fmt.Errorf("annotating document: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
			return fmt.Errorf("creating destination directory: %w", err)
		}
		tmp := destAbs + ".tmp"
		if err := os.WriteFile(tmp, annotated, 0o644); err != nil {
			return fmt.Errorf("writing annotated document: %w", err)
		}
		// The rename is the commit point: before it, nothing of this
		// document is visible in the filing structure.
		if err := os.Rename(tmp, destAbs); err != nil {
			return fmt.Errorf("delivering document: %w", err)
		}

		for i := range acts {
			p.logger.Info("action delivered",
				"action", acts[i].ID, "source", acts[i].SourceRef(doc.Destination))
		}
	}

	if err := os.Remove(doc.StagingPath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("removing staged file failed",
			"document", rec.DocumentKey, "error", err)
	}

	if err := p.docs.Archive(ctx, doc.Key); err != nil {
		return fmt.Errorf("archiving document: %w", err)
	}
	if err := p.actions.ArchiveForDocument(ctx, doc.Key); err != nil {
		return err
	}

	p.logger.Info("delivered", "document", rec.DocumentKey, "destination", doc.Destination)
	return p.tracker.Transition(ctx, rec, procstate.StateDelivered, "")
}

// ReconcileAll runs one reconciliation pass over every delivered
// document. Unrelated documents are untouched by each other's
// failures.
func (p *Processor) ReconcileAll(ctx context.Context) error {
	docs, err := p.docs.ListDelivered(ctx)
	if err != nil {
		return fmt.Errorf("listing delivered documents: %w", err)
	}

	var firstErr error
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.syncer.Reconcile(ctx, &docs[i]); err != nil {
			p.logger.Error("reconciliation failed",
				"document", docs[i].Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Processor) writePayload(key string, payload *enrich.Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	path := filepath.Join(p.opts.WorkDir, enrich.PayloadFilename(key))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persisting payload: %w", err)
	}
	return path, nil
}

func (p *Processor) readPayload(path string) (*enrich.Payload, error) {
	if path == "" {
		return nil, fmt.Errorf("no payload reference")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload enrich.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &payload, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func stringValue(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}
