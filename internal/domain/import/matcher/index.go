package matcher

import (
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

const (
	titleAnalyzer = "catalog_title_trigram"
	partyAnalyzer = "catalog_party"
	trigramFilter = "catalog_trigram"
	gramSize      = 3
)

// candidateDocument is the indexed form of a candidate.
type candidateDocument struct {
	Position     string   `json:"position"`
	Titles       []string `json:"titles"`
	Counterparty string   `json:"counterparty"`
}

// CandidateIndex narrows a large candidate set to those sharing at least one
// title trigram with a query. When one title contains the other, the shorter
// one's trigrams all occur in the longer, so the narrowing never drops a
// candidate Score rates above zero. Titles shorter than a trigram always pass.
type CandidateIndex struct {
	index      bleve.Index
	mu         sync.RWMutex
	candidates []catalog.MatchCandidate
	short      []int
}

// NewCandidateIndex builds an in-memory index over candidates.
func NewCandidateIndex(candidates []catalog.MatchCandidate) (*CandidateIndex, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create candidate index: %w", err)
	}

	ci := &CandidateIndex{index: index, candidates: candidates}

	batch := index.NewBatch()
	for i, c := range candidates {
		titles := []string{catalog.NormalizeTitle(c.Title)}
		for _, alt := range c.AltTitles {
			titles = append(titles, catalog.NormalizeTitle(alt))
		}
		for _, t := range titles {
			if t != "" && utf8.RuneCountInString(t) < gramSize {
				ci.short = append(ci.short, i)
				break
			}
		}
		doc := candidateDocument{
			Position:     strconv.Itoa(i),
			Titles:       titles,
			Counterparty: catalog.NormalizeParty(c.Counterparty),
		}
		if err := batch.Index(doc.Position, doc); err != nil {
			return nil, fmt.Errorf("failed to index candidate %s: %w", c.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to execute batch index: %w", err)
	}
	return ci, nil
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomTokenFilter(trigramFilter, map[string]any{
		"type": ngram.Name,
		"min":  float64(gramSize),
		"max":  float64(gramSize),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register trigram filter: %w", err)
	}
	// The whole title is one token so trigrams also span word boundaries.
	err = indexMapping.AddCustomAnalyzer(titleAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name, trigramFilter},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register title analyzer: %w", err)
	}
	err = indexMapping.AddCustomAnalyzer(partyAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register party analyzer: %w", err)
	}

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = titleAnalyzer

	partyFieldMapping := bleve.NewTextFieldMapping()
	partyFieldMapping.Analyzer = partyAnalyzer

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("position", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("titles", titleFieldMapping)
	docMapping.AddFieldMappingsAt("counterparty", partyFieldMapping)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = partyAnalyzer
	return indexMapping, nil
}

// Lookup returns the candidates sharing a title trigram with title plus
// those with a title too short to index. A query shorter than a trigram
// returns every candidate.
func (ci *CandidateIndex) Lookup(title string) ([]catalog.MatchCandidate, error) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	normalized := catalog.NormalizeTitle(title)
	if normalized == "" || len(ci.candidates) == 0 {
		return nil, nil
	}
	if utf8.RuneCountInString(normalized) < gramSize {
		return ci.candidates, nil
	}

	query := bleve.NewMatchQuery(normalized)
	query.SetField("titles")

	req := bleve.NewSearchRequest(query)
	req.Size = len(ci.candidates)

	res, err := ci.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}

	seen := make(map[int]bool, len(res.Hits)+len(ci.short))
	out := make([]catalog.MatchCandidate, 0, len(res.Hits)+len(ci.short))
	for _, hit := range res.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil || pos < 0 || pos >= len(ci.candidates) || seen[pos] {
			continue
		}
		seen[pos] = true
		out = append(out, ci.candidates[pos])
	}
	for _, pos := range ci.short {
		if !seen[pos] {
			out = append(out, ci.candidates[pos])
		}
	}
	return out, nil
}

// Len is the number of indexed candidates.
func (ci *CandidateIndex) Len() int {
	return len(ci.candidates)
}

// Close releases the index.
func (ci *CandidateIndex) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.index != nil {
		return ci.index.Close()
	}
	return nil
}
