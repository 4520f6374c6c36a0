package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/renlowe/paradrop/internal/domain/document"
)

var mailAddressRe = regexp.MustCompile(`[\w.+-]+@([\w-]+(?:\.[\w-]+)+)`)

// DocumentResearcher infers an entity for an unrecognized source by
// domain lookup against known entities and by searching previously
// delivered documents for the same domain tokens.
type DocumentResearcher struct {
	docs     document.Repository
	entities []Entity
}

// NewDocumentResearcher creates the default researcher.
func NewDocumentResearcher(docs document.Repository, entities []Entity) *DocumentResearcher {
	return &DocumentResearcher{docs: docs, entities: entities}
}

// Research scans the content for mail domains, first matching them
// against known entities, then against delivered documents whose
// records carry an entity. Returns nil when nothing matches.
func (r *DocumentResearcher) Research(ctx context.Context, filename, content string) (*string, error) {
	for _, domain := range extractDomains(content) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		token := domainToken(domain)
		for i := range r.entities {
			for _, known := range r.entities[i].Domains {
				if strings.EqualFold(domain, known) {
					return &r.entities[i].Name, nil
				}
			}
			if strings.EqualFold(r.entities[i].Name, token) {
				return &r.entities[i].Name, nil
			}
		}

		prior, err := r.docs.SearchDelivered(ctx, token, 5)
		if err != nil {
			return nil, fmt.Errorf("searching prior documents: %w", err)
		}
		for i := range prior {
			if prior[i].Entity != nil {
				return prior[i].Entity, nil
			}
		}
	}
	return nil, nil
}

func extractDomains(content string) []string {
	seen := make(map[string]bool)
	var domains []string
	for _, match := range mailAddressRe.FindAllStringSubmatch(content, -1) {
		domain := strings.ToLower(match[1])
		if !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	return domains
}

// domainToken strips the TLD: "acme.com" -> "acme".
func domainToken(domain string) string {
	if dot := strings.Index(domain, "."); dot > 0 {
		return domain[:dot]
	}
	return domain
}
