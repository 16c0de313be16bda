package dedupe

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// DefaultSimilarityThreshold is the minimum Similarity score for a
// near-duplicate title warning.
const DefaultSimilarityThreshold = 80

// Intra-file comparison is owner independent.
var uuidZero = uuid.Nil

// Detector annotates validation results with duplicate warnings.
type Detector struct {
	threshold int
}

// NewDetector creates a detector. A threshold outside 1..100 uses the default.
func NewDetector(similarityThreshold int) *Detector {
	if similarityThreshold <= 0 || similarityThreshold > 100 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	return &Detector{threshold: similarityThreshold}
}

// Annotate appends duplicate warnings to results, which must be parallel to
// records. Both the corpus and earlier rows of the same file are checked.
// Errors are never added.
func (d *Detector) Annotate(records []catalog.Record, results []catalog.ValidationResult, idx *Index) {
	for i := range records {
		if i >= len(results) {
			return
		}
		rec := &records[i]
		res := &results[i]

		if idx.Len() > 0 {
			d.againstCorpus(rec, res, idx)
		}
		d.againstEarlierRows(records[:i], rec, res)
	}
}

func (d *Detector) againstCorpus(rec *catalog.Record, res *catalog.ValidationResult, idx *Index) {
	exact := false

	for _, i := range idx.idHits(rec.ExternalID) {
		e := idx.Entity(i)
		if e.Kind != rec.Kind {
			continue
		}
		exact = true
		if catalog.NormalizeKey(e.Title) != catalog.NormalizeKey(rec.Title) && !hasAltTitle(e, rec.Title) {
			warn(res, "same identifier across different titles: %s is %q (id %s) in the catalog", rec.ExternalID, e.Title, e.ID)
			continue
		}
		d.classifyTitleHit(rec, res, e)
	}

	for _, i := range idx.titleHits(rec.Title) {
		e := idx.Entity(i)
		if e.Kind != rec.Kind || (rec.ExternalID != "" && identifierKey(e.ExternalID) == identifierKey(rec.ExternalID)) {
			continue
		}
		exact = true
		d.classifyTitleHit(rec, res, e)
	}

	for _, r := range rec.Recordings {
		if r.ISRC == "" {
			continue
		}
		for _, i := range idx.isrcHits(r.ISRC) {
			e := idx.Entity(i)
			if catalog.NormalizeKey(e.Title) == catalog.NormalizeKey(rec.Title) || hasAltTitle(e, rec.Title) {
				continue
			}
			exact = true
			warn(res, "same identifier across different titles: ISRC %s belongs to %q (id %s)", r.ISRC, e.Title, e.ID)
		}
	}

	if exact || rec.Kind == catalog.KindRoyalty {
		return
	}
	d.nearDuplicate(rec, res, idx)
}

// classifyTitleHit compares sub-entities of a record and an existing entity
// sharing its title or identifier.
func (d *Detector) classifyTitleHit(rec *catalog.Record, res *catalog.ValidationResult, e catalog.ExistingEntity) {
	if rec.Kind != catalog.KindWork || sameSplits(rec.Writers, e.Writers) {
		warn(res, "exact duplicate of existing %s %q (id %s)", e.Kind, e.Title, e.ID)
		return
	}
	warn(res, "same title different splits as existing %s %q (id %s)", e.Kind, e.Title, e.ID)
}

func (d *Detector) nearDuplicate(rec *catalog.Record, res *catalog.ValidationResult, idx *Index) {
	query := catalog.NormalizeTitle(rec.Title)
	if query == "" {
		return
	}
	best, bestScore := -1, 0
	for i, title := range idx.fuzzy {
		if idx.Entity(i).Kind != rec.Kind || !lengthCompatible(query, title, d.threshold) {
			continue
		}
		if score := Similarity(query, title); score >= d.threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return
	}
	e := idx.Entity(best)
	warn(res, "similar title to existing %s %q (id %s, %d%% similar)", e.Kind, e.Title, e.ID, bestScore)
}

// againstEarlierRows flags a row repeating an earlier row of the same file.
func (d *Detector) againstEarlierRows(earlier []catalog.Record, rec *catalog.Record, res *catalog.ValidationResult) {
	title := catalog.NormalizeKey(rec.Title)
	for i := len(earlier) - 1; i >= 0; i-- {
		prev := earlier[i]
		if prev.Kind != rec.Kind {
			continue
		}
		if rec.Kind == catalog.KindRoyalty {
			if prev.IdempotencyKey(uuidZero) == rec.IdempotencyKey(uuidZero) {
				warn(res, "exact duplicate of row %d in this file", prev.RowNumber)
				return
			}
			continue
		}
		sameID := rec.ExternalID != "" && identifierKey(prev.ExternalID) == identifierKey(rec.ExternalID)
		sameTitle := title != "" && catalog.NormalizeKey(prev.Title) == title
		switch {
		case sameID && !sameTitle:
			warn(res, "same identifier across different titles: %s is also used by row %d", rec.ExternalID, prev.RowNumber)
			return
		case sameTitle && sameSplits(rec.Writers, prev.Writers):
			warn(res, "exact duplicate of row %d in this file", prev.RowNumber)
			return
		case sameTitle && rec.Kind == catalog.KindWork:
			warn(res, "same title different splits as row %d in this file", prev.RowNumber)
			return
		}
	}
}

func warn(res *catalog.ValidationResult, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !res.HasWarning(msg) {
		res.Warnings = append(res.Warnings, msg)
	}
}

func hasAltTitle(e catalog.ExistingEntity, title string) bool {
	key := catalog.NormalizeKey(title)
	return slices.ContainsFunc(e.AltTitles, func(alt string) bool {
		return catalog.NormalizeKey(alt) == key
	})
}

// sameSplits compares writer sets by normalized name and percentage,
// independent of order.
func sameSplits(a, b []catalog.Share) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(splitSignature(a), splitSignature(b))
}

func splitSignature(shares []catalog.Share) []string {
	sig := make([]string, len(shares))
	for i, s := range shares {
		pct := "-"
		if s.HasPercent {
			pct = s.Percent.StringFixed(2)
		}
		sig[i] = catalog.NormalizeParty(s.Name) + "=" + pct
	}
	slices.Sort(sig)
	return sig
}

// Summary counts rows that carry at least one duplicate warning.
func Summary(results []catalog.ValidationResult) int {
	n := 0
	for _, r := range results {
		if slices.ContainsFunc(r.Warnings, isDuplicateWarning) {
			n++
		}
	}
	return n
}

func isDuplicateWarning(w string) bool {
	for _, prefix := range []string{"exact duplicate", "same title different splits", "same identifier across different titles", "similar title"} {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}
