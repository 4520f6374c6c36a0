package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/repository"
)

func testAction(id, documentKey, anchor, title string) *action.Action {
	now := time.Now()
	return &action.Action{
		ID:          id,
		DocumentKey: documentKey,
		Anchor:      anchor,
		Title:       title,
		Status:      action.StatusPending,
		Priority:    action.PriorityNormal,
		ModifiedAt:  now,
		ModifiedBy:  action.OriginDatabase,
		CreatedAt:   now,
	}
}

func TestActionRepository_CreateBatchGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	owner := "sam"
	due := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	act := testAction("a1", "doc.md", "action-1", "Send proposal")
	act.Owner = &owner
	act.DueDate = &due

	require.NoError(t, repo.CreateBatch(ctx, []*action.Action{act}))

	loaded, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "Send proposal", loaded.Title)
	require.Equal(t, action.StatusPending, loaded.Status)
	require.NotNil(t, loaded.Owner)
	require.Equal(t, "sam", *loaded.Owner)
	require.NotNil(t, loaded.DueDate)
	require.Equal(t, "2026-02-10", loaded.DueDate.Format("2006-01-02"))
}

func TestActionRepository_CreateBatchAtomic(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	require.NoError(t, repo.CreateBatch(ctx, []*action.Action{
		testAction("a1", "doc.md", "action-1", "First"),
	}))

	// Second batch reuses an ID; nothing from it may land.
	err := repo.CreateBatch(ctx, []*action.Action{
		testAction("a2", "doc.md", "action-2", "Second"),
		testAction("a1", "doc.md", "action-3", "Duplicate"),
	})
	require.ErrorIs(t, err, repository.ErrDuplicate)

	acts, err := repo.ListByDocument(ctx, "doc.md")
	require.NoError(t, err)
	require.Len(t, acts, 1)
}

func TestActionRepository_ListByDocumentOrder(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	base := time.Now()
	first := testAction("a1", "doc.md", "action-1", "First")
	first.CreatedAt = base
	second := testAction("a2", "doc.md", "action-2", "Second")
	second.CreatedAt = base
	require.NoError(t, repo.CreateBatch(ctx, []*action.Action{second, first}))

	acts, err := repo.ListByDocument(ctx, "doc.md")
	require.NoError(t, err)
	require.Len(t, acts, 2)
	require.Equal(t, "action-1", acts[0].Anchor)
	require.Equal(t, "action-2", acts[1].Anchor)
}

func TestActionRepository_ListFilters(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	pending := testAction("a1", "doc.md", "action-1", "Send proposal")
	done := testAction("a2", "doc.md", "action-2", "Review notes")
	done.Status = action.StatusCompleted
	archived := testAction("a3", "other.md", "action-1", "Old proposal")
	archived.Archived = true
	require.NoError(t, repo.CreateBatch(ctx, []*action.Action{pending, done, archived}))

	acts, err := repo.List(ctx, action.ListOptions{Statuses: []action.Status{action.StatusPending}})
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, "a1", acts[0].ID)

	acts, err = repo.List(ctx, action.ListOptions{TitleContains: "proposal", IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, acts, 2)

	acts, err = repo.List(ctx, action.ListOptions{TitleContains: "proposal"})
	require.NoError(t, err)
	require.Len(t, acts, 1)

	acts, err = repo.List(ctx, action.ListOptions{DocumentKey: "doc.md"})
	require.NoError(t, err)
	require.Len(t, acts, 2)
}

func TestActionRepository_CreateBatchRejectsMissingIdentity(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	err := repo.CreateBatch(ctx, []*action.Action{
		testAction("", "doc.md", "action-1", "No id"),
	})
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	err = repo.CreateBatch(ctx, []*action.Action{
		testAction("a1", "", "action-1", "No document"),
	})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestActionRepository_RekeyDocument(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	require.NoError(t, repo.CreateBatch(ctx, []*action.Action{
		testAction("a1", "doc.md", "action-1", "Send proposal"),
		testAction("a2", "doc.md", "action-2", "Book follow-up"),
		testAction("b1", "other.md", "action-1", "Unrelated"),
	}))

	require.NoError(t, repo.RekeyDocument(ctx, "doc.md", "doc.md@hash1"))

	moved, err := repo.ListByDocument(ctx, "doc.md@hash1")
	require.NoError(t, err)
	require.Len(t, moved, 2)

	untouched, err := repo.ListByDocument(ctx, "other.md")
	require.NoError(t, err)
	require.Len(t, untouched, 1)

	// No matching rows is not an error.
	require.NoError(t, repo.RekeyDocument(ctx, "empty.md", "empty.md@h"))
}

func TestActionRepository_UpdateAndArchive(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	act := testAction("a1", "doc.md", "action-1", "Send proposal")
	require.NoError(t, repo.CreateBatch(ctx, []*action.Action{act}))

	act.Status = action.StatusCompleted
	act.ModifiedBy = action.OriginDocument
	require.NoError(t, repo.Update(ctx, act))

	loaded, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, action.StatusCompleted, loaded.Status)
	require.Equal(t, action.OriginDocument, loaded.ModifiedBy)

	require.NoError(t, repo.ArchiveByDocument(ctx, "doc.md"))
	loaded, err = repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, loaded.Archived)

	// Archived rows stay mutable: the checklist outlives delivery.
	loaded.Status = action.StatusCancelled
	require.NoError(t, repo.Update(ctx, loaded))
}
