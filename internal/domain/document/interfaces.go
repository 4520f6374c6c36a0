package document

import "context"

// Repository persists document records.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, key string) (*Document, error)
	GetByHash(ctx context.Context, contentHash string) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	Archive(ctx context.Context, key string) error
	// Rekey renames a document's key, used when a delivered key is
	// reused for new content.
	Rekey(ctx context.Context, oldKey, newKey string) error
	ListDelivered(ctx context.Context) ([]Document, error)
	// SearchDelivered matches delivered documents whose key, destination
	// or entity contains the term. Used by the classifier's research
	// fallback for prior-document lookup.
	SearchDelivered(ctx context.Context, term string, limit int) ([]Document, error)
}
