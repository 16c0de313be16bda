// Package reader turns uploaded CSV/TSV and XLSX files into ordered raw rows.
// Blank rows are dropped, cells are trimmed, and every row keeps the line
// number a user sees when opening the file.
package reader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/sniffer"
)

// FileKind is the container format of an upload.
type FileKind string

const (
	KindDelimited   FileKind = "delimited"
	KindSpreadsheet FileKind = "spreadsheet"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte("\xD0\xCF\x11\xE0")
)

// Options overrides detection.
type Options struct {
	// HeaderRow is a 0-based header line (or sheet row) index. Set to -1 to auto-detect.
	HeaderRow int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
	// Sheet selects a worksheet by name; empty picks one.
	Sheet string
}

// DefaultOptions detects header row, delimiter and sheet.
func DefaultOptions() Options {
	return Options{HeaderRow: -1}
}

// Table is a parsed file.
type Table struct {
	Kind        FileKind
	Headers     []string
	Rows        []catalog.RawRow
	Sheet       string
	Delimiter   rune
	HeaderLine  int
	Fingerprint string
	BlankRows   int
}

// Column returns every present value of a column, in row order.
func (t *Table) Column(label string) []string {
	var out []string
	for _, r := range t.Rows {
		if v, ok := r.Get(label); ok {
			out = append(out, v)
		}
	}
	return out
}

// HasColumn reports whether label is one of the headers, ignoring case.
func (t *Table) HasColumn(label string) bool {
	for _, h := range t.Headers {
		if strings.EqualFold(h, strings.TrimSpace(label)) {
			return true
		}
	}
	return false
}

// Read parses an upload with default options.
func Read(filename string, r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &catalog.ParseError{Message: "could not read upload", Err: err}
	}
	return ReadBytes(filename, data, DefaultOptions())
}

// ReadBytes parses an upload already held in memory.
func ReadBytes(filename string, data []byte, opts Options) (*Table, error) {
	kind, err := DetectKind(filename, data)
	if err != nil {
		return nil, err
	}
	if kind == KindSpreadsheet {
		return readSpreadsheet(data, opts)
	}
	return readDelimited(data, opts)
}

// DetectKind decides how to parse a file from its extension, falling back to
// its leading bytes when the extension is missing or unknown.
func DetectKind(filename string, data []byte) (FileKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv", ".tsv", ".txt":
		return KindDelimited, nil
	case ".xlsx", ".xlsm":
		return KindSpreadsheet, nil
	case ".xls":
		return "", &catalog.ParseError{Message: "legacy .xls workbooks are not supported, save as .xlsx or .csv"}
	case "", ".dat":
	default:
		return "", &catalog.ParseError{Message: fmt.Sprintf("unsupported file type %q", ext)}
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return KindSpreadsheet, nil
	case bytes.HasPrefix(data, oleMagic):
		return "", &catalog.ParseError{Message: "legacy .xls workbooks are not supported, save as .xlsx or .csv"}
	case bytes.IndexByte(data, 0) >= 0:
		return "", &catalog.ParseError{Message: "file content is binary and not a supported format"}
	}
	return KindDelimited, nil
}

func readDelimited(raw []byte, opts Options) (*Table, error) {
	data := sniffer.Decode(raw)

	cfg, err := sniffer.DetectConfigWithOptions(data, &sniffer.DetectOptions{
		HeaderRowIndex: opts.HeaderRow,
		Delimiter:      opts.Delimiter,
	})
	if err != nil {
		return nil, &catalog.ParseError{Message: "no header row", Err: err}
	}

	headers := normalizeHeaders(cfg.Headers)
	if headers == nil {
		return nil, &catalog.ParseError{Row: cfg.SkipLines + 1, Message: "header row is empty"}
	}

	table := &Table{
		Kind:        KindDelimited,
		Headers:     headers,
		Delimiter:   cfg.Delimiter,
		HeaderLine:  cfg.SkipLines + 1,
		Fingerprint: cfg.Fingerprint,
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = cfg.Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &catalog.ParseError{Row: perr.Line, Message: "malformed delimited row", Err: perr.Err}
			}
			return nil, &catalog.ParseError{Message: "malformed delimited row", Err: err}
		}
		if len(record) == 0 {
			continue
		}
		line, _ := r.FieldPos(0)
		if line <= table.HeaderLine {
			continue
		}
		table.appendRow(line, record)
	}
	return table, nil
}

// appendRow trims cells, pads short rows and drops rows with no content.
func (t *Table) appendRow(rowNumber int, cells []string) {
	values := make([]string, len(t.Headers))
	blank := true
	for i := range values {
		if i < len(cells) {
			values[i] = strings.TrimSpace(cells[i])
			if values[i] != "" {
				blank = false
			}
		}
	}
	if blank {
		t.BlankRows++
		return
	}
	t.Rows = append(t.Rows, catalog.RawRow{
		RowNumber: rowNumber,
		Columns:   t.Headers,
		Values:    values,
	})
}

// normalizeHeaders trims labels, names unlabeled columns and drops trailing
// unlabeled columns. Returns nil when no label is present.
func normalizeHeaders(raw []string) []string {
	last := -1
	for i, h := range raw {
		if strings.TrimSpace(h) != "" {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	headers := make([]string, last+1)
	for i := range headers {
		h := strings.TrimSpace(strings.TrimPrefix(raw[i], "\uFEFF"))
		if h == "" {
			h = "Column " + strconv.Itoa(i+1)
		}
		headers[i] = h
	}
	return headers
}
