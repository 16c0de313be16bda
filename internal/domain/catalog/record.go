// Package catalog defines the canonical import model shared by every stage of
// the catalog import pipeline: raw rows, mapped records, validation results,
// match results and commit reports.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the type of catalog entity a row describes.
type Kind string

const (
	KindWork     Kind = "work"
	KindContract Kind = "contract"
	KindRoyalty  Kind = "royalty"
)

// FormatID identifies a source format (a mapping table plus its header signature).
type FormatID string

// FieldMapping maps canonical field names to source column labels.
type FieldMapping map[string]string

// Clone returns a copy of the mapping.
func (m FieldMapping) Clone() FieldMapping {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// RawRow is one non-blank data row of a source file. Columns is shared between
// all rows of a table and is never mutated after parsing.
type RawRow struct {
	RowNumber int
	Columns   []string
	Values    []string
}

// Get returns the trimmed cell under the exact column label. Empty cells are
// reported as absent.
func (r RawRow) Get(label string) (string, bool) {
	for i, col := range r.Columns {
		if col == label {
			return r.at(i)
		}
	}
	return "", false
}

// Lookup tries each synonym in order against the column labels, ignoring case,
// and returns the first present value together with the column it came from.
func (r RawRow) Lookup(synonyms ...string) (value, column string, ok bool) {
	for _, syn := range synonyms {
		for i, col := range r.Columns {
			if !strings.EqualFold(strings.TrimSpace(col), strings.TrimSpace(syn)) {
				continue
			}
			if v, present := r.at(i); present {
				return v, col, true
			}
		}
	}
	return "", "", false
}

func (r RawRow) at(i int) (string, bool) {
	if i < 0 || i >= len(r.Values) {
		return "", false
	}
	v := strings.TrimSpace(r.Values[i])
	return v, v != ""
}

// Share is one entry of a split group (writers or publishers).
type Share struct {
	Name       string          `json:"name"`
	IPI        string          `json:"ipi,omitempty"`
	Role       string          `json:"role,omitempty"`
	Percent    decimal.Decimal `json:"percent"`
	HasPercent bool            `json:"has_percent"`
}

// Recording is a sound recording attached to a work.
type Recording struct {
	Title       string `json:"title"`
	ISRC        string `json:"isrc,omitempty"`
	Artist      string `json:"artist,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
}

// FieldIssue records a value that could not be coerced while mapping.
type FieldIssue struct {
	Field   string
	Column  string
	Value   string
	Message string
}

// Record is the canonical, format-independent shape of an imported row.
// Dates are ISO (YYYY-MM-DD) strings; empty means absent.
type Record struct {
	RowNumber int
	Kind      Kind
	Format    FormatID

	Title        string
	AltTitles    []string
	Counterparty string
	Category     string
	ExternalID   string
	Territory    string

	StartDate       string
	EndDate         string
	PostTermEndDate string
	PostTermMonths  *int

	Amount   *decimal.Decimal
	Currency string
	Units    *int64
	Period   string

	Writers    []Share
	Publishers []Share
	Recordings []Recording

	Extra  map[string]string
	Issues []FieldIssue
	Match  *MatchResult
}

// Clone returns a deep copy so later stages can derive values without
// touching the caller's record.
func (r Record) Clone() Record {
	out := r
	out.AltTitles = slices.Clone(r.AltTitles)
	out.Writers = slices.Clone(r.Writers)
	out.Publishers = slices.Clone(r.Publishers)
	out.Recordings = slices.Clone(r.Recordings)
	out.Issues = slices.Clone(r.Issues)
	if r.Extra != nil {
		out.Extra = maps.Clone(r.Extra)
	}
	if r.PostTermMonths != nil {
		v := *r.PostTermMonths
		out.PostTermMonths = &v
	}
	if r.Amount != nil {
		v := *r.Amount
		out.Amount = &v
	}
	if r.Units != nil {
		v := *r.Units
		out.Units = &v
	}
	if r.Match != nil {
		m := *r.Match
		out.Match = &m
	}
	return out
}

// DisplayTitle is the label used in reports.
func (r Record) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return "row " + strconv.Itoa(r.RowNumber)
}

// Fields flattens the scalar parts of the record into the column set stored
// on the parent entity. Used for existence comparison and partial updates.
func (r Record) Fields() map[string]string {
	f := map[string]string{
		"title":        r.Title,
		"counterparty": r.Counterparty,
		"category":     r.Category,
		"external_id":  r.ExternalID,
		"territory":    r.Territory,
		"start_date":   r.StartDate,
		"end_date":     r.EndDate,
		"post_term":    r.PostTermEndDate,
		"currency":     r.Currency,
		"period":       r.Period,
	}
	if len(r.AltTitles) > 0 {
		f["alt_titles"] = strings.Join(r.AltTitles, "; ")
	}
	if r.Amount != nil {
		f["amount"] = r.Amount.String()
	}
	if r.Units != nil {
		f["units"] = strconv.FormatInt(*r.Units, 10)
	}
	if r.Kind == KindRoyalty && r.Match != nil && r.Match.Matched() {
		f["work_id"] = r.Match.CandidateID
	}
	for k, v := range f {
		if v == "" {
			delete(f, k)
		}
	}
	return f
}

// IdempotencyKey is the store-side uniqueness backstop for a record within an
// owner scope. Identifier-bearing records key on the identifier, the rest on
// normalized title and counterparty.
func (r Record) IdempotencyKey(owner uuid.UUID) string {
	parts := []string{owner.String(), string(r.Kind)}
	if r.ExternalID != "" {
		parts = append(parts, "id", strings.ToUpper(strings.TrimSpace(r.ExternalID)))
	} else {
		parts = append(parts, "title", NormalizeKey(r.Title), NormalizeKey(r.Counterparty))
	}
	if r.Kind == KindRoyalty && r.ExternalID == "" {
		parts = append(parts, r.Period, strings.ToUpper(r.Territory))
		if r.Amount != nil {
			parts = append(parts, r.Amount.String())
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// SplitGroups returns the percentage split groups carried by the record.
func (r Record) SplitGroups() map[string][]Share {
	groups := make(map[string][]Share, 2)
	if len(r.Writers) > 0 {
		groups["writers"] = r.Writers
	}
	if len(r.Publishers) > 0 {
		groups["publishers"] = r.Publishers
	}
	return groups
}
