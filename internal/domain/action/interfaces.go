package action

import "context"

// Repository defines the persistence operations the action service
// and synchronizer need. Implementations map storage errors to the
// sentinels in internal/repository.
type Repository interface {
	CreateBatch(ctx context.Context, actions []*Action) error
	Get(ctx context.Context, id string) (*Action, error)
	Update(ctx context.Context, act *Action) error
	ListByDocument(ctx context.Context, documentKey string) ([]Action, error)
	List(ctx context.Context, opts ListOptions) ([]Action, error)
	ArchiveByDocument(ctx context.Context, documentKey string) error
	RekeyDocument(ctx context.Context, oldKey, newKey string) error
}

// ListOptions filters action listings.
type ListOptions struct {
	DocumentKey     string
	Statuses        []Status
	IncludeArchived bool
	TitleContains   string
	Limit           int
	Offset          int
}
