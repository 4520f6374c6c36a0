package classify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/renlowe/paradrop/internal/domain/document"
)

// Entity is a known account, project, or person the metadata
// cross-reference matches against.
type Entity struct {
	Name    string
	Domains []string
	Aliases []string
}

// Metadata carries optional sender/attendee information from the
// external data source.
type Metadata struct {
	Sender    string
	Attendees []string
}

// Result is the classifier's output for one document.
type Result struct {
	Type       document.Type
	Confidence float64
	Entity     *string
	// NeedsReview is set when no rule reached the threshold and the
	// research fallback gave up (as opposed to timing out).
	NeedsReview bool
}

// Researcher attempts entity inference for unrecognized sources. The
// context carries the fallback's deadline.
type Researcher interface {
	Research(ctx context.Context, filename string, content string) (*string, error)
}

// Classifier assigns a document type, confidence, and entity by
// ordered rule evaluation: filename patterns first, then content
// heuristics, then metadata cross-reference.
type Classifier struct {
	entities        []Entity
	threshold       float64
	researchTimeout time.Duration
	researcher      Researcher
	logger          *slog.Logger
}

// New creates a classifier. researcher may be nil, in which case
// unrecognized documents go straight to review.
func New(entities []Entity, threshold float64, researchTimeout time.Duration, researcher Researcher, logger *slog.Logger) *Classifier {
	return &Classifier{
		entities:        entities,
		threshold:       threshold,
		researchTimeout: researchTimeout,
		researcher:      researcher,
		logger:          logger,
	}
}

// Classify inspects a staged document. It never blocks longer than the
// research timeout and never returns an error: on fallback timeout the
// document proceeds as unknown with low confidence.
func (c *Classifier) Classify(ctx context.Context, filename string, content []byte, meta *Metadata) Result {
	text := string(content)

	typ, confidence := classifyByFilename(filename)
	if contentType, contentConf := classifyByContent(text); contentConf > confidence {
		typ, confidence = contentType, contentConf
	}

	entity := c.matchEntity(filename, text, meta)

	if confidence >= c.threshold {
		return Result{Type: typ, Confidence: confidence, Entity: entity}
	}

	// Below threshold. An entity match alone is enough to route, just
	// with an unknown type.
	if entity != nil {
		return Result{Type: document.TypeUnknown, Confidence: confidence, Entity: entity}
	}

	return c.research(ctx, filename, text, confidence)
}

func (c *Classifier) research(ctx context.Context, filename, text string, confidence float64) Result {
	if c.researcher == nil {
		return Result{Type: document.TypeUnknown, Confidence: confidence, NeedsReview: true}
	}

	rctx, cancel := context.WithTimeout(ctx, c.researchTimeout)
	defer cancel()

	entity, err := c.researcher.Research(rctx, filename, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Bounded fallback: proceed rather than stall the pipeline.
			c.logger.Warn("research fallback timed out", "file", filename)
			return Result{Type: document.TypeUnknown, Confidence: lowConfidence}
		}
		c.logger.Warn("research fallback failed", "file", filename, "error", err)
		return Result{Type: document.TypeUnknown, Confidence: confidence, NeedsReview: true}
	}
	if entity == nil {
		return Result{Type: document.TypeUnknown, Confidence: confidence, NeedsReview: true}
	}

	c.logger.Info("research fallback inferred entity", "file", filename, "entity", *entity)
	return Result{Type: document.TypeUnknown, Confidence: lowConfidence, Entity: entity}
}

// matchEntity cross-references metadata and text against known
// entities: attendee/sender mail domains first, then name and alias
// tokens in the filename or content.
func (c *Classifier) matchEntity(filename, text string, meta *Metadata) *string {
	if meta != nil {
		addresses := append([]string{meta.Sender}, meta.Attendees...)
		for _, addr := range addresses {
			domain := mailDomain(addr)
			if domain == "" {
				continue
			}
			for i := range c.entities {
				for _, known := range c.entities[i].Domains {
					if strings.EqualFold(domain, known) {
						return &c.entities[i].Name
					}
				}
			}
		}
	}

	haystack := strings.ToLower(filename + "\n" + text)
	for i := range c.entities {
		names := append([]string{c.entities[i].Name}, c.entities[i].Aliases...)
		for _, name := range names {
			if name != "" && strings.Contains(haystack, strings.ToLower(name)) {
				return &c.entities[i].Name
			}
		}
	}
	return nil
}

func mailDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}
