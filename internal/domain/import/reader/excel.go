package reader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/sniffer"
)

// Sheet names tried before falling back to the first visible sheet.
var preferredSheets = []string{
	"works", "catalog", "catalogue", "songs", "import",
	"contracts", "royalties", "statement", "data", "sheet1",
}

func readSpreadsheet(data []byte, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &catalog.ParseError{Message: "failed to open workbook", Err: err}
	}
	defer f.Close()

	sheet, err := pickSheet(f, opts.Sheet)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &catalog.ParseError{Message: fmt.Sprintf("failed to read sheet %s", sheet), Err: err}
	}

	headerIdx := opts.HeaderRow
	if headerIdx < 0 {
		headerIdx, err = sniffer.FindHeaderIndex(rows)
		if err != nil {
			return nil, &catalog.ParseError{Message: "no header row in sheet " + sheet, Err: err}
		}
	}
	if headerIdx >= len(rows) {
		return nil, &catalog.ParseError{Row: headerIdx + 1, Message: "no header row in sheet " + sheet}
	}

	headers := normalizeHeaders(rows[headerIdx])
	if headers == nil {
		return nil, &catalog.ParseError{Row: headerIdx + 1, Message: "header row is empty"}
	}

	table := &Table{
		Kind:        KindSpreadsheet,
		Headers:     headers,
		Sheet:       sheet,
		HeaderLine:  headerIdx + 1,
		Fingerprint: sniffer.Fingerprint(headers),
	}
	for i := headerIdx + 1; i < len(rows); i++ {
		// Sheet rows are 1-indexed.
		table.appendRow(i+1, rows[i])
	}
	return table, nil
}

func pickSheet(f *excelize.File, requested string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", &catalog.ParseError{Message: "workbook has no sheets"}
	}

	if requested != "" {
		for _, s := range sheets {
			if strings.EqualFold(s, requested) {
				return s, nil
			}
		}
		return "", &catalog.ParseError{Message: fmt.Sprintf("sheet %q not found", requested)}
	}

	for _, preferred := range preferredSheets {
		for _, s := range sheets {
			if strings.EqualFold(strings.TrimSpace(s), preferred) {
				return s, nil
			}
		}
	}

	for _, s := range sheets {
		if visible, err := f.GetSheetVisible(s); err == nil && visible {
			return s, nil
		}
	}
	return sheets[0], nil
}
