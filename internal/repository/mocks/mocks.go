package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/document"
	"github.com/renlowe/paradrop/internal/domain/procstate"
)

// DocumentRepository is a mock for document.Repository.
type DocumentRepository struct {
	mock.Mock
}

func (m *DocumentRepository) Create(ctx context.Context, doc *document.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *DocumentRepository) Get(ctx context.Context, key string) (*document.Document, error) {
	args := m.Called(ctx, key)
	if doc, ok := args.Get(0).(*document.Document); ok {
		return doc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DocumentRepository) GetByHash(ctx context.Context, contentHash string) (*document.Document, error) {
	args := m.Called(ctx, contentHash)
	if doc, ok := args.Get(0).(*document.Document); ok {
		return doc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DocumentRepository) Update(ctx context.Context, doc *document.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *DocumentRepository) Archive(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *DocumentRepository) Rekey(ctx context.Context, oldKey, newKey string) error {
	args := m.Called(ctx, oldKey, newKey)
	return args.Error(0)
}

func (m *DocumentRepository) ListDelivered(ctx context.Context) ([]document.Document, error) {
	args := m.Called(ctx)
	if docs, ok := args.Get(0).([]document.Document); ok {
		return docs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DocumentRepository) SearchDelivered(ctx context.Context, term string, limit int) ([]document.Document, error) {
	args := m.Called(ctx, term, limit)
	if docs, ok := args.Get(0).([]document.Document); ok {
		return docs, args.Error(1)
	}
	return nil, args.Error(1)
}

// ActionRepository is a mock for action.Repository.
type ActionRepository struct {
	mock.Mock
}

func (m *ActionRepository) CreateBatch(ctx context.Context, actions []*action.Action) error {
	args := m.Called(ctx, actions)
	return args.Error(0)
}

func (m *ActionRepository) Get(ctx context.Context, id string) (*action.Action, error) {
	args := m.Called(ctx, id)
	if act, ok := args.Get(0).(*action.Action); ok {
		return act, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActionRepository) Update(ctx context.Context, act *action.Action) error {
	args := m.Called(ctx, act)
	return args.Error(0)
}

func (m *ActionRepository) ListByDocument(ctx context.Context, documentKey string) ([]action.Action, error) {
	args := m.Called(ctx, documentKey)
	if acts, ok := args.Get(0).([]action.Action); ok {
		return acts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActionRepository) List(ctx context.Context, opts action.ListOptions) ([]action.Action, error) {
	args := m.Called(ctx, opts)
	if acts, ok := args.Get(0).([]action.Action); ok {
		return acts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ActionRepository) ArchiveByDocument(ctx context.Context, documentKey string) error {
	args := m.Called(ctx, documentKey)
	return args.Error(0)
}

func (m *ActionRepository) RekeyDocument(ctx context.Context, oldKey, newKey string) error {
	args := m.Called(ctx, oldKey, newKey)
	return args.Error(0)
}

// ProcessingRepository is a mock for procstate.Repository.
type ProcessingRepository struct {
	mock.Mock
}

func (m *ProcessingRepository) Create(ctx context.Context, rec *procstate.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *ProcessingRepository) Get(ctx context.Context, documentKey string) (*procstate.Record, error) {
	args := m.Called(ctx, documentKey)
	if rec, ok := args.Get(0).(*procstate.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProcessingRepository) GetByHash(ctx context.Context, contentHash string) (*procstate.Record, error) {
	args := m.Called(ctx, contentHash)
	if rec, ok := args.Get(0).(*procstate.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProcessingRepository) Update(ctx context.Context, rec *procstate.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *ProcessingRepository) Retire(ctx context.Context, documentKey, retiredKey string) error {
	args := m.Called(ctx, documentKey, retiredKey)
	return args.Error(0)
}

func (m *ProcessingRepository) ListActive(ctx context.Context) ([]procstate.Record, error) {
	args := m.Called(ctx)
	if recs, ok := args.Get(0).([]procstate.Record); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProcessingRepository) LogTransition(ctx context.Context, tr *procstate.Transition) error {
	args := m.Called(ctx, tr)
	return args.Error(0)
}

func (m *ProcessingRepository) ListTransitions(ctx context.Context, documentKey string, limit int) ([]procstate.Transition, error) {
	args := m.Called(ctx, documentKey, limit)
	if trs, ok := args.Get(0).([]procstate.Transition); ok {
		return trs, args.Error(1)
	}
	return nil, args.Error(1)
}
