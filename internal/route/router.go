// Package route maps classified documents to canonical destinations
// inside the PARA (Projects/Areas/Resources/Archive) filing taxonomy.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/renlowe/paradrop/internal/domain/document"
)

// Sequencer hands out monotonic counters scoped per destination
// directory, used for collision suffixes.
type Sequencer interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// Router resolves destinations. It creates missing intermediate
// directories but never moves files; the move is the delivery commit
// point and belongs to the pipeline.
type Router struct {
	vault  string
	seqs   Sequencer
	logger *slog.Logger
}

// New creates a router rooted at the vault directory.
func New(vault string, seqs Sequencer, logger *slog.Logger) *Router {
	return &Router{vault: vault, seqs: seqs, logger: logger}
}

// Resolve returns the canonical destination path for a classified
// document, relative to the vault root. Priority: explicit entity
// reference, then document type default, then the generic inbox-review
// location. Existing destinations get a deterministic numeric suffix,
// never an overwrite.
func (r *Router) Resolve(ctx context.Context, doc *document.Document) (string, error) {
	dir := destinationDir(doc)
	filename := filepath.Base(doc.Key)

	absDir := filepath.Join(r.vault, dir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}

	candidate := filepath.Join(dir, filename)
	for {
		if _, err := os.Stat(filepath.Join(r.vault, candidate)); err != nil {
			if os.IsNotExist(err) {
				break
			}
			return "", fmt.Errorf("checking destination: %w", err)
		}

		seq, err := r.seqs.Next(ctx, dir)
		if err != nil {
			return "", fmt.Errorf("allocating collision suffix: %w", err)
		}
		candidate = filepath.Join(dir, suffixed(filename, seq+1))
		r.logger.Info("destination collision, suffixing",
			"document", doc.Key, "candidate", candidate)
	}

	return candidate, nil
}

// Abs returns the absolute path for a vault-relative destination.
func (r *Router) Abs(destination string) string {
	return filepath.Join(r.vault, destination)
}

func destinationDir(doc *document.Document) string {
	if doc.Entity != nil {
		return filepath.Join("Accounts", *doc.Entity, entitySubdir(doc.Type))
	}

	switch doc.Type {
	case document.TypeTranscript:
		return filepath.Join("Resources", "meetings")
	case document.TypeNote:
		return filepath.Join("Areas", "notes")
	case document.TypeReport:
		return filepath.Join("Resources", "reports")
	case document.TypeUnknown:
		return filepath.Join("Resources", "inbox-review")
	}
	// Type is a closed set; Valid() guards upstream.
	return filepath.Join("Resources", "inbox-review")
}

func entitySubdir(typ document.Type) string {
	switch typ {
	case document.TypeTranscript:
		return "meetings"
	case document.TypeNote:
		return "notes"
	case document.TypeReport:
		return "reports"
	case document.TypeUnknown:
		return "inbox"
	}
	return "inbox"
}

// suffixed inserts a counter before the extension:
// "call.md" + 2 -> "call-2.md".
func suffixed(filename string, seq int64) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	return fmt.Sprintf("%s-%d%s", base, seq, ext)
}
