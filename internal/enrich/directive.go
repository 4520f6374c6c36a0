// Package enrich turns classified documents into directives for the
// external enrichment agent and validates what the agent produces.
package enrich

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/renlowe/paradrop/internal/domain/document"
)

// Directive is the structured request handed to the enrichment
// subprocess. Context entries are file paths, never embedded content,
// which bounds directive size.
type Directive struct {
	Document     string   `yaml:"document"`
	DocumentType string   `yaml:"document_type"`
	Entity       string   `yaml:"entity,omitempty"`
	Requested    []string `yaml:"requested"`
	Context      []string `yaml:"context,omitempty"`
}

// BuildDirective describes what enrichment is wanted for a document.
func BuildDirective(doc *document.Document, contextPaths []string) Directive {
	return Directive{
		Document:     doc.StagingPath,
		DocumentType: string(doc.Type),
		Entity:       entityName(doc),
		Requested:    []string{"summary", "decisions", "actions", "tags"},
		Context:      contextPaths,
	}
}

// WriteDirective persists a directive into the work directory and
// returns its path. The file is left in place after failures so the
// invocation can be inspected and replayed by hand.
func WriteDirective(workDir string, doc *document.Document, dir Directive) (string, error) {
	data, err := yaml.Marshal(dir)
	if err != nil {
		return "", fmt.Errorf("encoding directive: %w", err)
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}

	path := filepath.Join(workDir, directiveFilename(doc.Key))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing directive: %w", err)
	}
	return path, nil
}

func directiveFilename(key string) string {
	return slug(key) + ".directive.yaml"
}

// PayloadFilename names the validated payload file for a document key.
func PayloadFilename(key string) string {
	return slug(key) + ".payload.json"
}

func slug(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return replacer.Replace(key)
}

func entityName(doc *document.Document) string {
	if doc.Entity == nil {
		return ""
	}
	return *doc.Entity
}
