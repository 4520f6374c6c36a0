package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/renlowe/paradrop/internal/actionsync"
	"github.com/renlowe/paradrop/internal/classify"
	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/document"
	"github.com/renlowe/paradrop/internal/domain/procstate"
	"github.com/renlowe/paradrop/internal/enrich"
	"github.com/renlowe/paradrop/internal/route"
	"github.com/renlowe/paradrop/internal/sqlite"
	"github.com/renlowe/paradrop/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEnricher returns queued errors first, then a fixed payload.
type fakeEnricher struct {
	payload *enrich.Payload
	errs    []error
	calls   int
}

func (f *fakeEnricher) Enrich(ctx context.Context, doc *document.Document, contextPaths []string) (*enrich.Payload, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.payload, nil
}

type fixture struct {
	holding  string
	vault    string
	work     string
	docs     document.Repository
	actions  *action.Service
	tracker  *procstate.Tracker
	enricher *fakeEnricher
	proc     *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	holding := filepath.Join(root, "holding")
	vault := filepath.Join(root, "vault")
	work := filepath.Join(root, "work")
	for _, dir := range []string{holding, vault, work} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	logger := testLogger()
	docRepo := sqlite.NewDocumentRepository(db)
	actionSvc := action.NewService(sqlite.NewActionRepository(db), logger)
	tracker := procstate.NewTracker(sqlite.NewProcessingRepository(db), logger)

	entities := []classify.Entity{{Name: "Acme", Domains: []string{"acme.com"}}}
	classifier := classify.New(entities, 0.5, time.Second, nil, logger)
	router := route.New(vault, sqlite.NewSequenceRepository(db), logger)
	syncer := actionsync.NewSynchronizer(actionSvc, vault, logger)

	enricher := &fakeEnricher{
		payload: &enrich.Payload{
			Summary:   "Discussed renewal.",
			Decisions: []string{"Renew for 12 months"},
			Actions: []enrich.PayloadAction{
				{Title: "Send proposal", Owner: "sam", DueDate: "2026-02-10"},
			},
			Tags: []string{"acme"},
		},
	}

	proc := NewProcessor(tracker, docRepo, classifier, router, enricher, syncer,
		actionSvc, nil,
		Options{WorkDir: work, EnrichRetries: 2, Backoff: 0},
		logger)
	proc.sleep = func(context.Context, time.Duration) {}

	return &fixture{
		holding:  holding,
		vault:    vault,
		work:     work,
		docs:     docRepo,
		actions:  actionSvc,
		tracker:  tracker,
		enricher: enricher,
		proc:     proc,
	}
}

func (f *fixture) stage(t *testing.T, key, content string) watcher.Event {
	t.Helper()
	path := filepath.Join(f.holding, key)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	sum := sha256.Sum256([]byte(content))
	return watcher.Event{Key: key, Path: path, Hash: hex.EncodeToString(sum[:])}
}

func TestProcessor_HappyPathDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n\nDiscussed renewal.\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateDelivered, rec.State)

	doc, err := f.docs.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, document.TypeTranscript, doc.Type)
	require.True(t, doc.Archived)
	require.Equal(t,
		filepath.Join("Accounts", "Acme", "meetings", "2026-02-03-acme-call.md"),
		doc.Destination)

	// Delivered file carries the checklist; the staged original is gone.
	delivered, err := os.ReadFile(filepath.Join(f.vault, doc.Destination))
	require.NoError(t, err)
	items, found := actionsync.ParseBlock(string(delivered))
	require.True(t, found)
	require.Len(t, items, 1)
	require.Equal(t, "Send proposal", items[0].Title)
	require.NoFileExists(t, ev.Path)

	acts, err := f.actions.ListByDocument(ctx, ev.Key)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.True(t, acts[0].Archived)

	// The validated payload survives for audit.
	require.FileExists(t, doc.PayloadPath)
}

func TestProcessor_UnrecognizedGoesToReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.stage(t, "mystery.md", "nothing recognizable")
	require.NoError(t, f.proc.Intake(ctx, ev))

	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateNeedsReview, rec.State)
	require.NotNil(t, rec.LastError)
	require.FileExists(t, ev.Path, "document stays in staging for review")
	require.Zero(t, f.enricher.calls, "review happens before enrichment")
}

func TestProcessor_TransientFailureRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enricher.errs = []error{
		&enrich.Error{Kind: enrich.FailCrash, Err: os.ErrClosed},
	}

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateDelivered, rec.State)
	require.Equal(t, 2, f.enricher.calls)
	require.Equal(t, 1, rec.RetryCount(procstate.StepEnrich))
}

func TestProcessor_TimeoutsExhaustRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enricher.errs = []error{
		&enrich.Error{Kind: enrich.FailTimeout, Err: context.DeadlineExceeded},
		&enrich.Error{Kind: enrich.FailTimeout, Err: context.DeadlineExceeded},
	}

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateNeedsReview, rec.State)
	require.Equal(t, 2, f.enricher.calls)
	require.FileExists(t, ev.Path)
}

func TestProcessor_ValidationFailureRetriesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enricher.errs = []error{
		&enrich.Error{Kind: enrich.FailValidation, Err: os.ErrInvalid},
		&enrich.Error{Kind: enrich.FailValidation, Err: os.ErrInvalid},
		&enrich.Error{Kind: enrich.FailValidation, Err: os.ErrInvalid},
	}

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateNeedsReview, rec.State)
	require.Equal(t, 2, f.enricher.calls, "bad output gets exactly one retry")
}

func TestProcessor_DuplicateContentDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	// Same bytes under a new name.
	dup := f.stage(t, "copy-of-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, dup))

	_, err := f.tracker.Get(ctx, dup.Key)
	require.ErrorIs(t, err, procstate.ErrRecordNotFound, "duplicate never got a record")
}

func TestProcessor_NewContentUnderDeliveredKeyRedelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev1 := f.stage(t, "2026-02-03-acme-call.md", "# Call\n\nFirst version.\n")
	require.NoError(t, f.proc.Intake(ctx, ev1))

	// New content lands under the same filename after delivery.
	ev2 := f.stage(t, "2026-02-03-acme-call.md", "# Call\n\nSecond version.\n")
	require.NoError(t, f.proc.Intake(ctx, ev2))

	rec, err := f.tracker.Get(ctx, ev2.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateDelivered, rec.State)

	doc, err := f.docs.Get(ctx, ev2.Key)
	require.NoError(t, err)
	require.Equal(t, ev2.Hash, doc.ContentHash)
	require.Equal(t,
		filepath.Join("Accounts", "Acme", "meetings", "2026-02-03-acme-call-2.md"),
		doc.Destination, "second delivery never overwrites the first")
	require.FileExists(t, filepath.Join(f.vault, doc.Destination))

	// The first delivery and its actions survive under a retired key.
	retired := procstate.RetiredKey(ev1.Key, ev1.Hash)
	old, err := f.docs.Get(ctx, retired)
	require.NoError(t, err)
	require.Equal(t, ev1.Hash, old.ContentHash)
	acts, err := f.actions.ListByDocument(ctx, retired)
	require.NoError(t, err)
	require.Len(t, acts, 1)
}

func TestProcessor_SameContentSecondNameWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The first copy parks in needs_review, so its record stays active.
	ev := f.stage(t, "mystery.md", "nothing recognizable")
	require.NoError(t, f.proc.Intake(ctx, ev))

	dup := f.stage(t, "mystery-copy.md", "nothing recognizable")
	require.NoError(t, f.proc.Intake(ctx, dup))

	_, err := f.tracker.Get(ctx, dup.Key)
	require.ErrorIs(t, err, procstate.ErrRecordNotFound,
		"in-flight duplicate never got a record")
}

func TestProcessor_ValidationBudgetSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.proc.opts.EnrichRetries = 5

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	rec, err := f.tracker.Discover(ctx, ev.Key, ev.Hash)
	require.NoError(t, err)

	// Two malformed payloads were counted, then the process died before
	// the follow-up transition.
	for _, state := range []procstate.State{
		procstate.StateClassifying, procstate.StateClassified,
		procstate.StateRouting, procstate.StateRouted,
		procstate.StateEnriching, procstate.StateEnrichFailed,
	} {
		require.NoError(t, f.tracker.Transition(ctx, rec, state, ""))
	}
	rec.IncrementRetry(procstate.StepEnrichValidation)
	rec.IncrementRetry(procstate.StepEnrichValidation)
	_, err = f.tracker.IncrementRetry(ctx, rec, procstate.StepEnrich)
	require.NoError(t, err)
	_, err = f.tracker.IncrementRetry(ctx, rec, procstate.StepEnrich)
	require.NoError(t, err)

	require.NoError(t, f.proc.Process(ctx, rec))

	rec, err = f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateNeedsReview, rec.State,
		"validation budget holds across a restart even with transient budget left")
	require.Zero(t, f.enricher.calls)
}

func TestProcessor_CrashRecoveryResumesEnrichment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	// First run dies with the agent mid-flight: the failure was recorded
	// but the process never came back to retry.
	f.enricher.errs = []error{
		&enrich.Error{Kind: enrich.FailTimeout, Err: context.DeadlineExceeded},
		&enrich.Error{Kind: enrich.FailTimeout, Err: context.DeadlineExceeded},
	}
	require.NoError(t, f.proc.Intake(ctx, ev))

	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateNeedsReview, rec.State)

	// Operator requeues after fixing the agent.
	require.NoError(t, f.tracker.Transition(ctx, rec, procstate.StateEnriching, "requeued"))

	active, err := f.tracker.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, f.proc.Process(ctx, &active[0]))

	rec, err = f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	require.Equal(t, procstate.StateDelivered, rec.State)
}

func TestProcessor_DeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	// Replay the delivering step, as a crash between the rename and the
	// record update would.
	rec, err := f.tracker.Get(ctx, ev.Key)
	require.NoError(t, err)
	rec.State = procstate.StateDelivering
	require.NoError(t, f.proc.Process(ctx, rec))

	require.Equal(t, procstate.StateDelivered, rec.State)
	acts, err := f.actions.ListByDocument(ctx, ev.Key)
	require.NoError(t, err)
	require.Len(t, acts, 1, "replayed delivery must not duplicate actions")
}

func TestProcessor_ReconcileAllAppliesChecklistEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.stage(t, "2026-02-03-acme-call.md", "# Call\n")
	require.NoError(t, f.proc.Intake(ctx, ev))

	doc, err := f.docs.Get(ctx, ev.Key)
	require.NoError(t, err)
	path := filepath.Join(f.vault, doc.Destination)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(content),
		"- [ ] Send proposal", "- [x] Send proposal", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, f.proc.ReconcileAll(ctx))

	acts, err := f.actions.ListByDocument(ctx, ev.Key)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, action.StatusCompleted, acts[0].Status)
	require.Equal(t, action.OriginDocument, acts[0].ModifiedBy)
}

func TestProcessor_InFlightCoalescing(t *testing.T) {
	f := newFixture(t)

	require.False(t, f.proc.InFlight("a.md"))
	require.True(t, f.proc.acquire("a.md"))
	require.True(t, f.proc.InFlight("a.md"))
	require.False(t, f.proc.acquire("a.md"))
	f.proc.release("a.md")
	require.False(t, f.proc.InFlight("a.md"))
}
