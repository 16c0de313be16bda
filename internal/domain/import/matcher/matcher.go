package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// indexThreshold is the candidate count above which AutoMatch narrows
// candidates through a CandidateIndex before scoring.
const indexThreshold = 64

// Matcher scores records against candidates and remembers manual choices.
type Matcher struct {
	logger *slog.Logger
	cache  catalog.MatchCache
	owner  uuid.UUID
	now    func() time.Time
}

// New creates a matcher without a match cache.
func New(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger, now: time.Now}
}

// WithCache remembers manual matches for owner in cache.
func (m *Matcher) WithCache(owner uuid.UUID, cache catalog.MatchCache) *Matcher {
	m.owner = owner
	m.cache = cache
	return m
}

// Key is the cache key of a record within a source format.
func Key(format catalog.FormatID, rec catalog.Record) catalog.MatchKey {
	return catalog.MatchKey{
		Format: format,
		Title:  catalog.NormalizeTitle(rec.Title),
		Party:  catalog.NormalizeParty(rec.Counterparty),
	}
}

// AutoMatch proposes at most one candidate per record. A remembered match
// for the same feed wins when its candidate is still present. Otherwise the
// single best candidate is taken when it scores at or above threshold; ties
// at the top stay unmatched. Results are parallel to records.
func (m *Matcher) AutoMatch(ctx context.Context, format catalog.FormatID, records []catalog.Record, candidates []catalog.MatchCandidate, threshold float64) []catalog.MatchResult {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	threshold = max(threshold, MinConfidence)

	byID := make(map[string]catalog.MatchCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var index *CandidateIndex
	if len(candidates) > indexThreshold {
		idx, err := NewCandidateIndex(candidates)
		if err != nil {
			m.logger.Warn("candidate index unavailable, scoring every candidate", "error", err)
		} else {
			index = idx
			defer index.Close()
		}
	}

	results := make([]catalog.MatchResult, len(records))
	for i, rec := range records {
		if cached, ok := m.cached(ctx, format, rec, byID); ok {
			results[i] = cached
			continue
		}

		pool := candidates
		if index != nil {
			narrowed, err := index.Lookup(rec.Title)
			if err != nil {
				m.logger.Warn("candidate lookup failed", "row", rec.RowNumber, "error", err)
			} else {
				pool = narrowed
			}
		}
		results[i] = best(rec, pool, threshold)
	}
	return results
}

func best(rec catalog.Record, pool []catalog.MatchCandidate, threshold float64) catalog.MatchResult {
	res := catalog.MatchResult{RowNumber: rec.RowNumber}

	top := 0.0
	var winners []catalog.MatchCandidate
	for _, c := range pool {
		s := Score(rec.Title, c)
		switch {
		case s == 0:
			continue
		case s > top:
			top = s
			winners = []catalog.MatchCandidate{c}
		case s == top:
			winners = append(winners, c)
		}
	}

	switch {
	case len(winners) == 0:
		res.Reason = "no candidate"
	case top < threshold:
		res.Confidence = top
		res.Reason = fmt.Sprintf("best candidate %q scored %.2f, below %.2f", winners[0].Title, top, threshold)
	case len(winners) > 1:
		res.Confidence = top
		res.Reason = fmt.Sprintf("%d candidates tied at %.2f", len(winners), top)
	default:
		res.CandidateID = winners[0].ID
		res.Confidence = top
		res.Method = catalog.MatchAuto
	}
	return res
}

func (m *Matcher) cached(ctx context.Context, format catalog.FormatID, rec catalog.Record, byID map[string]catalog.MatchCandidate) (catalog.MatchResult, bool) {
	if m.cache == nil {
		return catalog.MatchResult{}, false
	}
	hit, err := m.cache.Lookup(ctx, m.owner, Key(format, rec))
	if err != nil {
		m.logger.Warn("match cache lookup failed", "row", rec.RowNumber, "error", err)
		return catalog.MatchResult{}, false
	}
	if hit == nil {
		return catalog.MatchResult{}, false
	}
	if _, ok := byID[hit.CandidateID]; !ok {
		return catalog.MatchResult{}, false
	}
	return catalog.MatchResult{
		RowNumber:   rec.RowNumber,
		CandidateID: hit.CandidateID,
		Confidence:  hit.Confidence,
		Method:      catalog.MatchCached,
		Reason:      "previously matched",
	}, true
}

// ManualMatch records a human choice. The confidence is never below
// ManualConfidence. The choice is saved to the cache; a failed save is
// logged and does not undo the match.
func (m *Matcher) ManualMatch(ctx context.Context, format catalog.FormatID, rec catalog.Record, candidate catalog.MatchCandidate) catalog.MatchResult {
	res := catalog.MatchResult{
		RowNumber:   rec.RowNumber,
		CandidateID: candidate.ID,
		Confidence:  max(ManualConfidence, Score(rec.Title, candidate)),
		Method:      catalog.MatchManual,
	}

	if m.cache != nil {
		err := m.cache.Save(ctx, m.owner, Key(format, rec), catalog.CachedMatch{
			CandidateID: candidate.ID,
			Confidence:  res.Confidence,
			Method:      catalog.MatchManual,
			UpdatedAt:   m.now(),
		})
		if err != nil {
			m.logger.Warn("failed to remember manual match", "row", rec.RowNumber, "candidate", candidate.ID, "error", err)
		}
	}
	return res
}

// Apply attaches results to the records with the same row number.
func Apply(records []catalog.Record, results []catalog.MatchResult) {
	byRow := make(map[int]catalog.MatchResult, len(results))
	for _, r := range results {
		byRow[r.RowNumber] = r
	}
	for i := range records {
		if r, ok := byRow[records[i].RowNumber]; ok {
			match := r
			records[i].Match = &match
		}
	}
}
