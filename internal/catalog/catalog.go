package catalog

import (
	"fmt"
	"strings"

	"github.com/zombor/sub-tracker/internal/extraction"
)

// Service is a known subscription service in the reference catalog.
type Service struct {
	Name             string `json:"name"`
	Category         string `json:"category"`
	CancellationLink string `json:"cancellationLink"`
}

// MatchedItem joins a catalog service to an extracted candidate's amount.
// Category and CancellationLink are nil for candidates that did not match
// the catalog.
type MatchedItem struct {
	Name             string   `json:"name"`
	Category         *string  `json:"category"`
	CancellationLink *string  `json:"cancellationLink"`
	AmountUSD        *float64 `json:"amountUSD"`
}

// Lookup performs a case-insensitive batch lookup against the catalog.
type Lookup interface {
	// FindServices returns catalog services whose name equals any of the
	// given names, compared case-insensitively.
	FindServices(names []string) ([]Service, error)
}

// Matcher cross-references extracted candidates against the catalog.
type Matcher struct {
	lookup Lookup
}

// NewMatcher creates a Matcher backed by the given lookup.
func NewMatcher(lookup Lookup) *Matcher {
	return &Matcher{lookup: lookup}
}

// Match looks up the candidates' names in the catalog and joins each hit to
// the first candidate whose name matches case-insensitively, carrying that
// candidate's amount. Candidates are not filtered; computing the unmatched
// remainder is the caller's responsibility. An empty candidate list skips the
// lookup entirely.
func (m *Matcher) Match(items []extraction.CandidateItem) ([]MatchedItem, error) {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	if len(names) == 0 {
		return []MatchedItem{}, nil
	}

	services, err := m.lookup.FindServices(names)
	if err != nil {
		return nil, fmt.Errorf("looking up catalog services: %w", err)
	}

	matched := make([]MatchedItem, 0, len(services))
	for _, svc := range services {
		var amount *float64
		for _, item := range items {
			if strings.EqualFold(item.Name, svc.Name) {
				amount = item.AmountUSD
				break
			}
		}
		category := svc.Category
		link := svc.CancellationLink
		matched = append(matched, MatchedItem{
			Name:             svc.Name,
			Category:         &category,
			CancellationLink: &link,
			AmountUSD:        amount,
		})
	}
	return matched, nil
}
