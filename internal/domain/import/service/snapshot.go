package service

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
)

// MappedRow is one line of the mapped snapshot of a session.
type MappedRow struct {
	Row          int    `csv:"row"`
	Kind         string `csv:"kind"`
	Title        string `csv:"title"`
	AltTitles    string `csv:"alt_titles"`
	Counterparty string `csv:"counterparty"`
	Category     string `csv:"category"`
	ExternalID   string `csv:"external_id"`
	Territory    string `csv:"territory"`
	StartDate    string `csv:"start_date"`
	EndDate      string `csv:"end_date"`
	PostTermEnd  string `csv:"post_term_end_date"`
	Amount       string `csv:"amount"`
	Currency     string `csv:"currency"`
	Units        string `csv:"units"`
	Period       string `csv:"period"`
	Writers      string `csv:"writers"`
	Publishers   string `csv:"publishers"`
	ISRCs        string `csv:"isrcs"`
	Valid        bool   `csv:"valid"`
	Errors       string `csv:"errors"`
	Warnings     string `csv:"warnings"`
	MatchID      string `csv:"match_id"`
	MatchScore   string `csv:"match_confidence"`
	MatchMethod  string `csv:"match_method"`
}

// MappedRows flattens the session records together with their validation
// and match results.
func MappedRows(sess *Session) []MappedRow {
	results := make(map[int]catalog.ValidationResult, len(sess.Results))
	for _, r := range sess.Results {
		results[r.RowNumber] = r
	}

	rows := make([]MappedRow, 0, len(sess.Records))
	for _, rec := range sess.Records {
		row := MappedRow{
			Row:          rec.RowNumber,
			Kind:         string(rec.Kind),
			Title:        rec.Title,
			AltTitles:    strings.Join(rec.AltTitles, "; "),
			Counterparty: rec.Counterparty,
			Category:     rec.Category,
			ExternalID:   rec.ExternalID,
			Territory:    rec.Territory,
			StartDate:    rec.StartDate,
			EndDate:      rec.EndDate,
			PostTermEnd:  rec.PostTermEndDate,
			Currency:     rec.Currency,
			Period:       rec.Period,
			Writers:      formatShares(rec.Writers),
			Publishers:   formatShares(rec.Publishers),
		}
		if rec.Amount != nil {
			row.Amount = rec.Amount.String()
		}
		if rec.Units != nil {
			row.Units = strconv.FormatInt(*rec.Units, 10)
		}
		isrcs := make([]string, 0, len(rec.Recordings))
		for _, r := range rec.Recordings {
			if r.ISRC != "" {
				isrcs = append(isrcs, r.ISRC)
			}
		}
		row.ISRCs = strings.Join(isrcs, "; ")

		if res, ok := results[rec.RowNumber]; ok {
			row.Valid = res.Valid()
			row.Errors = strings.Join(res.Errors, "; ")
			row.Warnings = strings.Join(res.Warnings, "; ")
		}
		if rec.Match != nil && rec.Match.Matched() {
			row.MatchID = rec.Match.CandidateID
			row.MatchScore = strconv.FormatFloat(rec.Match.Confidence, 'f', 2, 64)
			row.MatchMethod = string(rec.Match.Method)
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteMappedSnapshot writes the mapped snapshot of a session as CSV.
func WriteMappedSnapshot(w io.Writer, sess *Session) error {
	rows := MappedRows(sess)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write mapped snapshot: %w", err)
	}
	return nil
}

// WriteRawSnapshot writes the table as read, before mapping, as CSV: the
// source row number followed by every header column. Spreadsheet uploads get
// a plain-text copy of the sheet that was read.
func WriteRawSnapshot(w io.Writer, table *reader.Table) error {
	out := gocsv.DefaultCSVWriter(w)
	header := append([]string{"row"}, table.Headers...)
	if err := out.Write(header); err != nil {
		return fmt.Errorf("write raw snapshot: %w", err)
	}
	for _, row := range table.Rows {
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(row.RowNumber))
		for _, h := range table.Headers {
			v, _ := row.Get(h)
			record = append(record, v)
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("write raw snapshot: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("write raw snapshot: %w", err)
	}
	return nil
}

func formatShares(shares []catalog.Share) string {
	parts := make([]string, 0, len(shares))
	for _, s := range shares {
		if s.HasPercent {
			parts = append(parts, fmt.Sprintf("%s (%s%%)", s.Name, s.Percent.String()))
		} else {
			parts = append(parts, s.Name)
		}
	}
	return strings.Join(parts, "; ")
}

// Failure stages.
const (
	StageValidation = "validation"
	StageCommit     = "commit"
)

// FailureRow is one row that was not imported, either rejected by
// validation or failed during commit.
type FailureRow struct {
	Row      int    `csv:"row"`
	Title    string `csv:"title"`
	Stage    string `csv:"stage"`
	Reason   string `csv:"reason"`
	Attempts int    `csv:"attempts"`
}

// Failures lists the rows of a session that were not imported, ordered by row.
func Failures(sess *Session) []FailureRow {
	var out []FailureRow
	for i, res := range sess.Results {
		if res.Valid() || i >= len(sess.Records) {
			continue
		}
		out = append(out, FailureRow{
			Row:    res.RowNumber,
			Title:  sess.Records[i].DisplayTitle(),
			Stage:  StageValidation,
			Reason: strings.Join(res.Errors, "; "),
		})
	}
	if sess.Report != nil {
		for _, o := range sess.Report.Failed {
			out = append(out, FailureRow{
				Row:      o.RowNumber,
				Title:    o.Title,
				Stage:    StageCommit,
				Reason:   o.Reason,
				Attempts: o.Attempts,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// WriteFailures writes failure rows as CSV.
func WriteFailures(w io.Writer, rows []FailureRow) error {
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write failures: %w", err)
	}
	return nil
}

// ReadFailureRows returns the row numbers of a failure export that failed at
// commit time, so the same file can be resubmitted for just those rows.
func ReadFailureRows(r io.Reader) ([]int, error) {
	var rows []FailureRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("read failure export: %w", err)
	}
	out := make([]int, 0, len(rows))
	for _, row := range rows {
		if row.Stage == StageCommit {
			out = append(out, row.Row)
		}
	}
	return out, nil
}
