// Package matcher links incoming line items to existing catalog entities.
// Automatic matching is threshold gated and refuses ties; manual matches are
// remembered per source feed so later imports can reuse them.
package matcher

import (
	"strings"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

const (
	// MinConfidence is the lowest score ever proposed as a match.
	MinConfidence = 0.55
	// ManualConfidence is the floor recorded for a human-chosen match.
	ManualConfidence = 0.9
	// DefaultThreshold gates automatic matches.
	DefaultThreshold = 0.8
)

// Score rates how well query names candidate, from 0 to 1.
// Identical normalized titles score 1.0 and an alternate title 0.95.
// When one normalized title is a substring of the other, the length ratio
// picks a band from 0.85 down to 0.55. Anything else scores 0.
func Score(query string, c catalog.MatchCandidate) float64 {
	q := catalog.NormalizeTitle(query)
	if q == "" {
		return 0
	}
	title := catalog.NormalizeTitle(c.Title)
	if q == title {
		return 1.0
	}
	for _, alt := range c.AltTitles {
		if catalog.NormalizeTitle(alt) == q {
			return 0.95
		}
	}

	best := containmentScore(q, title)
	for _, alt := range c.AltTitles {
		best = max(best, containmentScore(q, catalog.NormalizeTitle(alt)))
	}
	if best < MinConfidence {
		return 0
	}
	return best
}

func containmentScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if !strings.Contains(long, short) {
		return 0
	}
	ratio := float64(len(short)) / float64(len(long))
	switch {
	case ratio > 0.8:
		return 0.85
	case ratio > 0.6:
		return 0.75
	case ratio > 0.4:
		return 0.65
	default:
		return 0.55
	}
}
