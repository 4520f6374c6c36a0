package actionsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/document"
)

// Synchronizer merges commitments between the working database and the
// checklist block inside delivered documents.
type Synchronizer struct {
	actions *action.Service
	vault   string
	logger  *slog.Logger
	now     func() time.Time
}

// NewSynchronizer creates a synchronizer rooted at the vault.
func NewSynchronizer(actions *action.Service, vault string, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		actions: actions,
		vault:   vault,
		logger:  logger,
		now:     time.Now,
	}
}

// Annotate prepares first delivery: action rows are created from
// drafts in a single transaction (reusing rows that already exist, so
// a resumed delivery never duplicates them) and the checklist block is
// spliced into the staged content. The caller performs the rename that
// commits delivery; until then no partially-delivered action is
// visible in the filing structure.
func (s *Synchronizer) Annotate(ctx context.Context, doc *document.Document, drafts []action.Draft, staged []byte) ([]byte, []action.Action, error) {
	existing, err := s.actions.ListByDocument(ctx, doc.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("listing actions: %w", err)
	}

	acts := existing
	if len(acts) == 0 && len(drafts) > 0 {
		acts, err = s.actions.CreateBatch(ctx, doc.Key, drafts, action.OriginDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("creating actions: %w", err)
		}
	}

	annotated := SpliceBlock(string(staged), RenderBlock(acts))
	return []byte(annotated), acts, nil
}

// Reconcile resolves divergence between a delivered document's
// checklist and the database rows. The side with the later
// last-modified timestamp wins; the loser is logged with both
// competing values, never silently dropped. A missing or corrupted
// block yields no deletions: rows survive and the block is restored.
func (s *Synchronizer) Reconcile(ctx context.Context, doc *document.Document) error {
	if doc.Destination == "" {
		return fmt.Errorf("document %s has no destination", doc.Key)
	}
	path := filepath.Join(s.vault, doc.Destination)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("delivered file missing, skipping reconciliation",
				"document", doc.Key, "path", path)
			return nil
		}
		return fmt.Errorf("reading delivered document: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat delivered document: %w", err)
	}
	docTime := info.ModTime()

	rows, err := s.actions.ListByDocument(ctx, doc.Key)
	if err != nil {
		return fmt.Errorf("listing actions: %w", err)
	}

	items, found := ParseBlock(string(content))
	if !found {
		s.logger.Warn("checklist block missing or corrupted, restoring from database",
			"document", doc.Key)
		return s.rewrite(path, string(content), rows)
	}

	byID := make(map[string]Item, len(items))
	for _, item := range items {
		if item.ID != "" {
			byID[item.ID] = item
		}
	}

	rewriteNeeded := false
	for i := range rows {
		row := &rows[i]
		item, ok := byID[row.ID]
		if !ok {
			// Anchor vanished from the document. Not a deletion: the row
			// stays and the rewrite puts the line back.
			s.logger.Info("checklist line missing, restoring",
				"document", doc.Key, "action", row.ID)
			rewriteNeeded = true
			continue
		}
		delete(byID, row.ID)

		if !diverged(row, item) {
			continue
		}

		// The checklist carries no per-edit timestamp, so the file's
		// mtime stands in for the document side. Ties go to the
		// database, the authoritative store.
		if docTime.After(row.ModifiedAt) {
			s.logConflict(doc.Key, row, item, action.OriginDocument)
			applyItem(row, item)
			row.ModifiedAt = s.now()
			row.ModifiedBy = action.OriginDocument
			if err := s.actions.Apply(ctx, row); err != nil {
				return fmt.Errorf("applying checklist edit: %w", err)
			}
			rows[i] = *row
			rewriteNeeded = true // re-render refreshes the mod stamp
		} else {
			s.logConflict(doc.Key, row, item, action.OriginDatabase)
			rewriteNeeded = true
		}
	}

	// Lines the user added by hand, plus lines whose ID matches no row.
	var drafts []action.Draft
	for _, item := range items {
		if item.ID != "" {
			if _, unmatched := byID[item.ID]; !unmatched {
				continue
			}
		}
		if item.Title == "" {
			continue
		}
		drafts = append(drafts, action.Draft{
			Title:   item.Title,
			Owner:   item.Owner,
			DueDate: item.DueDate,
		})
	}
	if len(drafts) > 0 {
		created, err := s.actions.CreateBatch(ctx, doc.Key, drafts, action.OriginDocument)
		if err != nil {
			return fmt.Errorf("creating checklist actions: %w", err)
		}
		s.logger.Info("adopted checklist actions",
			"document", doc.Key, "count", len(created))
		rows = append(rows, created...)
		rewriteNeeded = true
	}

	if rewriteNeeded {
		return s.rewrite(path, string(content), rows)
	}
	return nil
}

func (s *Synchronizer) rewrite(path, content string, rows []action.Action) error {
	updated := SpliceBlock(content, RenderBlock(rows))
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("rewriting checklist: %w", err)
	}
	return nil
}

func (s *Synchronizer) logConflict(documentKey string, row *action.Action, item Item, winner action.Origin) {
	s.logger.Warn("reconciliation conflict",
		"document", documentKey,
		"action", row.ID,
		"database_value", describeRow(row),
		"document_value", describeItem(item),
		"winner", winner,
	)
}

func diverged(row *action.Action, item Item) bool {
	return row.Status != item.Status ||
		row.Title != item.Title ||
		stringValue(row.Owner) != stringValue(item.Owner) ||
		!dateEqual(row.DueDate, item.DueDate)
}

func applyItem(row *action.Action, item Item) {
	row.Status = item.Status
	row.Title = item.Title
	row.Owner = item.Owner
	row.DueDate = item.DueDate
}

func describeRow(row *action.Action) string {
	return fmt.Sprintf("%s %q owner=%s due=%s",
		row.Status, row.Title, stringValue(row.Owner), dateValue(row.DueDate))
}

func describeItem(item Item) string {
	return fmt.Sprintf("%s %q owner=%s due=%s",
		item.Status, item.Title, stringValue(item.Owner), dateValue(item.DueDate))
}

func stringValue(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

func dateValue(val *time.Time) string {
	if val == nil {
		return ""
	}
	return val.Format("2006-01-02")
}

func dateEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}
