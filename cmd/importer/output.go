package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	importservice "github.com/FACorreiaa/catalog-importer/internal/domain/import/service"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    60,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func printSession(out io.Writer, sess *importservice.Session, verbose bool) {
	sum := sess.Summary()
	fmt.Fprintf(out, "File:     %s (%s)\n", sess.Filename, sess.Table.Kind)
	if sess.Table.Sheet != "" {
		fmt.Fprintf(out, "Sheet:    %s\n", sess.Table.Sheet)
	}
	fmt.Fprintf(out, "Format:   %s (%s)\n", sess.Format, sess.Kind)
	fmt.Fprintf(out, "Rows:     %d (%d valid, %d with errors)\n", sum.Rows, sum.Valid, sum.Invalid)
	fmt.Fprintf(out, "Warnings: %d (%d possible duplicates)\n", sum.Warnings, sum.Duplicates)
	if sess.Kind == catalog.KindRoyalty {
		fmt.Fprintf(out, "Matched:  %d of %d line items\n", sum.Matched, sum.Rows)
	}
	if len(sess.Unused) > 0 {
		fmt.Fprintf(out, "Unused columns (kept as extra data): %s\n", strings.Join(sess.Unused, ", "))
	}
	if len(sess.Unmapped) > 0 {
		fmt.Fprintf(out, "Unmapped required fields: %s\n", strings.Join(sess.Unmapped, ", "))
		fmt.Fprintf(out, "Available columns: %s\n", strings.Join(sess.Table.Headers, ", "))
		fmt.Fprintln(out, "Assign them with --map field=column.")
		return
	}

	matches := make(map[int]catalog.MatchResult, len(sess.Matches))
	for _, m := range sess.Matches {
		matches[m.RowNumber] = m
	}

	var rows [][]string
	for i, res := range sess.Results {
		if !verbose && len(res.Errors) == 0 && len(res.Warnings) == 0 {
			continue
		}
		status := "ok"
		if !res.Valid() {
			status = "error"
		}
		notes := append(append([]string{}, res.Errors...), res.Warnings...)
		match := ""
		if m, ok := matches[res.RowNumber]; ok {
			match = describeMatch(m)
		}
		rows = append(rows, []string{
			strconv.Itoa(res.RowNumber),
			sess.Records[i].DisplayTitle(),
			status,
			strings.Join(notes, "\n"),
			match,
		})
	}
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Row", "Title", "Status", "Notes", "Match"},
		rows,
		[]columnAlignment{alignRight},
	))
}

func describeMatch(m catalog.MatchResult) string {
	if !m.Matched() {
		return m.Reason
	}
	return fmt.Sprintf("%s (%.2f, %s)", m.CandidateID, m.Confidence, m.Method)
}

func printReport(out io.Writer, report *catalog.BatchReport) {
	fmt.Fprintf(out, "Committed %d records: %d created, %d updated, %d skipped, %d failed\n",
		report.Total, report.CreatedCount, report.UpdatedCount, report.SkippedCount, report.FailedCount)
	if len(report.Failed) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.Failed))
	for _, o := range report.Failed {
		rows = append(rows, []string{strconv.Itoa(o.RowNumber), o.Title, o.Reason, strconv.Itoa(o.Attempts)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Row", "Title", "Reason", "Attempts"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
	))
}
