package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/validator"
)

// TemplateKind is the container of a downloadable template.
type TemplateKind string

const (
	TemplateCSV  TemplateKind = "csv"
	TemplateXLSX TemplateKind = "xlsx"
)

// templateSlots is the number of numbered writer/publisher columns offered.
const templateSlots = 3

var sheetNames = map[catalog.Kind]string{
	catalog.KindWork:     "Works",
	catalog.KindContract: "Contracts",
	catalog.KindRoyalty:  "Royalties",
}

// exampleValues fills the sample row of a template, keyed by canonical field.
var exampleValues = map[string]string{
	mapping.FieldTitle:           "Example Song",
	mapping.FieldAltTitles:       "Example Song (Radio Edit)",
	mapping.FieldCounterparty:    "Example Publishing",
	mapping.FieldTerritory:       "WW",
	mapping.FieldStartDate:       "2024-01-01",
	mapping.FieldEndDate:         "2026-12-31",
	mapping.FieldPostTermMonths:  "24",
	mapping.FieldAmount:          "125.50",
	mapping.FieldCurrency:        "USD",
	mapping.FieldUnits:           "1000",
	mapping.FieldPeriod:          "2024-Q1",
	mapping.FieldWriters:         "Jane Doe; John Roe",
	mapping.FieldWriterShares:    "50; 50",
	mapping.FieldPublishers:      "Example Publishing",
	mapping.FieldPublisherShares: "100",
	mapping.FieldISRC:            "USABC2400001",
	mapping.FieldRecordingTitle:  "Example Song",
	mapping.FieldArtist:          "Example Artist",
	mapping.FieldReleaseDate:     "2024-03-01",
}

var exampleIDs = map[catalog.Kind]string{
	catalog.KindWork:     "T-123.456.789-0",
	catalog.KindContract: "CTR-0001",
	catalog.KindRoyalty:  "LINE-0001",
}

// Template writes an empty import template for a source format, with one
// example row. A template re-read by the importer detects as its own format.
func (s *ImportService) Template(w io.Writer, formatID catalog.FormatID, kind TemplateKind) error {
	if formatID == "" {
		formatID = s.mapper.Registry().Default()
	}
	format, ok := s.mapper.Registry().Format(formatID)
	if !ok {
		return &catalog.MappingError{Format: formatID, UnknownFields: []string{"format " + string(formatID)}}
	}
	return WriteTemplate(w, format, kind)
}

// WriteTemplate writes the template of format as CSV or XLSX.
func WriteTemplate(w io.Writer, format mapping.Format, kind TemplateKind) error {
	cols := format.TemplateColumns(templateSlots)
	headers := make([]string, len(cols))
	example := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = headerLabel(c.Label)
		example[i] = exampleValue(format.Kind, c.Field)
	}

	switch kind {
	case TemplateCSV, "":
		return writeCSVTemplate(w, headers, example)
	case TemplateXLSX:
		return writeXLSXTemplate(w, sheetNames[format.Kind], headers, example)
	default:
		return fmt.Errorf("unsupported template kind %q", kind)
	}
}

func exampleValue(kind catalog.Kind, field string) string {
	switch field {
	case mapping.FieldExternalID:
		return exampleIDs[kind]
	case mapping.FieldCategory:
		if cats := validator.Categories[kind]; len(cats) > 0 {
			return cats[0]
		}
		return ""
	}
	if v, ok := exampleValues[field]; ok {
		return v
	}
	// Indexed columns: only the first slot carries an example.
	group, rest, ok := strings.Cut(field, ".")
	if !ok {
		return ""
	}
	n, sub, ok := strings.Cut(rest, ".")
	if !ok || n != "1" {
		return ""
	}
	switch sub {
	case "name":
		if group == mapping.GroupPublishers {
			return "Example Publishing"
		}
		return "Jane Doe"
	case "percent":
		return "100"
	case "role":
		if group == mapping.GroupWriters {
			return "CA"
		}
	}
	return ""
}

var acronyms = map[string]bool{"id": true, "ipi": true, "isrc": true, "iswc": true, "dsp": true}

// headerLabel title-cases a source name, keeping identifier acronyms upper case.
func headerLabel(label string) string {
	words := strings.Fields(cases.Title(language.English).String(label))
	for i, w := range words {
		if acronyms[strings.ToLower(w)] {
			words[i] = strings.ToUpper(w)
		}
	}
	return strings.Join(words, " ")
}

func writeCSVTemplate(w io.Writer, headers, example []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write template header: %w", err)
	}
	if err := cw.Write(example); err != nil {
		return fmt.Errorf("write template example: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSXTemplate(w io.Writer, sheet string, headers, example []string) error {
	if sheet == "" {
		sheet = "Import"
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name template sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", toRow(headers)); err != nil {
		return fmt.Errorf("write template header: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A2", toRow(example)); err != nil {
		return fmt.Errorf("write template example: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style template header: %w", err)
	}
	last, err := excelize.ColumnNumberToName(max(len(headers), 1))
	if err != nil {
		return fmt.Errorf("template width: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", last, 22); err != nil {
		return fmt.Errorf("template width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write template workbook: %w", err)
	}
	return nil
}

func toRow(values []string) *[]any {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	return &row
}
