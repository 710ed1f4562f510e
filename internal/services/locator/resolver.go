package locator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// Resolver finds the elements described by a Locator on the current page.
// Absence is a valid result and never an error.
type Resolver struct {
	logger arbor.ILogger
}

// NewResolver creates a locator resolver
func NewResolver(logger arbor.ILogger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve returns the union of every alternative selector's matches,
// de-duplicated and in document order, then narrowed by text and limit.
// Only session failures (closed page, invalid selector, cancelled context)
// return an error.
func (r *Resolver) Resolve(ctx context.Context, page interfaces.PageSession, loc models.Locator) ([]interfaces.Element, error) {
	seen := make(map[int]bool)
	var union []interfaces.Element

	for _, selector := range loc.Selectors {
		if strings.TrimSpace(selector) == "" {
			continue
		}
		matches, err := page.QueryAll(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", loc, err)
		}
		for _, el := range matches {
			if seen[el.Ordinal()] {
				continue
			}
			seen[el.Ordinal()] = true
			union = append(union, el)
		}
	}

	sort.SliceStable(union, func(i, j int) bool {
		return union[i].Ordinal() < union[j].Ordinal()
	})

	if loc.Text != "" {
		needle := strings.ToLower(loc.Text)
		filtered := union[:0]
		for _, el := range union {
			text, err := el.Text(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", loc, err)
			}
			if strings.Contains(strings.ToLower(text), needle) {
				filtered = append(filtered, el)
			}
		}
		union = filtered
	}

	if loc.Limit > 0 && len(union) > loc.Limit {
		union = union[:loc.Limit]
	}

	r.logger.Trace().
		Str("locator", loc.String()).
		Int("matches", len(union)).
		Msg("Locator resolved")

	return union, nil
}
