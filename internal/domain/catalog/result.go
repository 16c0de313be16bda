package catalog

import (
	"fmt"
	"slices"
	"time"
)

// ValidationResult holds the blocking errors and advisory warnings for one record.
type ValidationResult struct {
	RowNumber int      `json:"row_number"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
}

// Valid reports whether the record is eligible for commit.
func (v ValidationResult) Valid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) AddError(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) AddWarning(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// HasWarning reports whether an identical warning was already recorded.
func (v ValidationResult) HasWarning(msg string) bool {
	return slices.Contains(v.Warnings, msg)
}

// MatchMethod records how a match was chosen.
type MatchMethod string

const (
	MatchAuto   MatchMethod = "auto"
	MatchManual MatchMethod = "manual"
	MatchCached MatchMethod = "cached"
)

// MatchCandidate is an existing catalog entity a line item may refer to.
type MatchCandidate struct {
	ID           string
	Title        string
	AltTitles    []string
	Counterparty string
}

// MatchResult is the outcome of matching one record. An empty CandidateID
// means unmatched; the record proceeds as a new entity.
type MatchResult struct {
	RowNumber   int         `json:"row_number"`
	CandidateID string      `json:"candidate_id,omitempty"`
	Confidence  float64     `json:"confidence"`
	Method      MatchMethod `json:"method,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

func (m MatchResult) Matched() bool {
	return m.CandidateID != ""
}

// MatchKey scopes a remembered match to a source format and normalized names.
type MatchKey struct {
	Format FormatID
	Title  string
	Party  string
}

// CachedMatch is a previously accepted match.
type CachedMatch struct {
	CandidateID string
	Confidence  float64
	Method      MatchMethod
	UpdatedAt   time.Time
}
