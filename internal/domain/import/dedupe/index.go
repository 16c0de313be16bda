// Package dedupe flags incoming records that look like entities already in
// the catalog, or like earlier rows of the same file. Findings are warnings
// only; they never block a commit.
package dedupe

import (
	"strings"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// Index is a read-only view of the existing corpus, built once per session.
type Index struct {
	entities []catalog.ExistingEntity
	byTitle  map[string][]int
	byID     map[string][]int
	byISRC   map[string][]int
	// fuzzy holds the normalized primary title of every entity.
	fuzzy []string
}

// NewIndex builds the lookup tables over the corpus.
func NewIndex(existing []catalog.ExistingEntity) *Index {
	idx := &Index{
		entities: existing,
		byTitle:  make(map[string][]int, len(existing)),
		byID:     make(map[string][]int),
		byISRC:   make(map[string][]int),
		fuzzy:    make([]string, len(existing)),
	}
	for i, e := range existing {
		seen := map[string]bool{}
		for _, t := range append([]string{e.Title}, e.AltTitles...) {
			key := catalog.NormalizeKey(t)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			idx.byTitle[key] = append(idx.byTitle[key], i)
		}
		if id := identifierKey(e.ExternalID); id != "" {
			idx.byID[id] = append(idx.byID[id], i)
		}
		for _, code := range e.ISRCs {
			if c := identifierKey(code); c != "" {
				idx.byISRC[c] = append(idx.byISRC[c], i)
			}
		}
		idx.fuzzy[i] = catalog.NormalizeTitle(e.Title)
	}
	return idx
}

// Len is the number of indexed entities.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entities)
}

// Entity returns the indexed entity at position i.
func (idx *Index) Entity(i int) catalog.ExistingEntity {
	return idx.entities[i]
}

func (idx *Index) titleHits(title string) []int {
	return idx.byTitle[catalog.NormalizeKey(title)]
}

func (idx *Index) idHits(id string) []int {
	return idx.byID[identifierKey(id)]
}

func (idx *Index) isrcHits(code string) []int {
	return idx.byISRC[identifierKey(code)]
}

// identifierKey compares ISWC, ISRC and reference codes ignoring case and
// punctuation.
func identifierKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return -1
		}
	}, id)
}
