package mapping

import (
	"sort"
	"strconv"
	"strings"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/sniffer"
)

// Result is the output of one mapping run.
type Result struct {
	Format   catalog.FormatID
	Kind     catalog.Kind
	Records  []catalog.Record
	Mapping  catalog.FieldMapping
	Unmapped []string
	// Unused lists source columns that no canonical field reads; their values
	// are kept in Record.Extra.
	Unused []string
}

// MappingError returns the actionable error for required fields that have no
// source column, or nil.
func (r *Result) MappingError() error {
	if len(r.Unmapped) == 0 {
		return nil
	}
	return &catalog.MappingError{Format: r.Format, Unmapped: r.Unmapped}
}

// Mapper applies format tables to parsed tables.
type Mapper struct {
	registry *Registry
}

// NewMapper creates a mapper over the given registry.
func NewMapper(registry *Registry) *Mapper {
	return &Mapper{registry: registry}
}

// Registry exposes the format registry.
func (m *Mapper) Registry() *Registry {
	return m.registry
}

// DetectFormat picks the format for a table from its headers.
func (m *Mapper) DetectFormat(headers []string) catalog.FormatID {
	return m.registry.DetectFormat(headers)
}

// Resolve computes the effective field mapping for a table. Automatic choices
// come from the format table; override entries replace them field by field,
// and an empty override value removes a field. Override columns must exist
// in the table.
func (m *Mapper) Resolve(table *reader.Table, formatID catalog.FormatID, override catalog.FieldMapping) (catalog.FieldMapping, []string, error) {
	format, ok := m.registry.Format(formatID)
	if !ok {
		return nil, nil, &catalog.MappingError{Format: formatID, UnknownFields: []string{"format " + string(formatID)}}
	}

	columns := make(map[string]string, len(table.Headers))
	for _, h := range table.Headers {
		key := normalizeHeader(h)
		if _, dup := columns[key]; !dup {
			columns[key] = h
		}
	}

	mapping := catalog.FieldMapping{}
	for field, synonyms := range format.Fields {
		for _, syn := range synonyms {
			if col, ok := columns[syn]; ok {
				mapping[field] = col
				break
			}
		}
	}
	for group, spec := range format.Indexed {
		for n := 1; n <= spec.Max; n++ {
			for sub, patterns := range spec.Fields {
				for _, p := range patterns {
					if col, ok := columns[strings.ReplaceAll(p, "{n}", strconv.Itoa(n))]; ok {
						mapping[IndexedKey(group, n, sub)] = col
						break
					}
				}
			}
		}
	}

	if len(override) > 0 {
		mErr := &catalog.MappingError{Format: formatID, UnknownColumns: map[string]string{}}
		for field, col := range override {
			if !IsCanonicalField(field) {
				mErr.UnknownFields = append(mErr.UnknownFields, field)
				continue
			}
			if strings.TrimSpace(col) == "" {
				delete(mapping, field)
				continue
			}
			resolved, ok := columns[normalizeHeader(col)]
			if !ok {
				mErr.UnknownColumns[field] = col
				continue
			}
			mapping[field] = resolved
		}
		if len(mErr.UnknownFields) > 0 || len(mErr.UnknownColumns) > 0 {
			sort.Strings(mErr.UnknownFields)
			return nil, nil, mErr
		}
	}

	return mapping, unmappedRequired(format, mapping), nil
}

func unmappedRequired(format Format, mapping catalog.FieldMapping) []string {
	var unmapped []string
	for _, field := range format.Required {
		if _, ok := mapping[field]; ok {
			continue
		}
		if field == FieldWriters || field == FieldPublishers {
			if _, ok := mapping[IndexedKey(field, 1, "name")]; ok {
				continue
			}
		}
		unmapped = append(unmapped, field)
	}
	sort.Strings(unmapped)
	return unmapped
}

// Map converts every raw row into a canonical record. The table is never
// modified, so mapping the same table with the same override always yields
// identical records.
func (m *Mapper) Map(table *reader.Table, formatID catalog.FormatID, override catalog.FieldMapping) (*Result, error) {
	mapping, unmapped, err := m.Resolve(table, formatID, override)
	if err != nil {
		return nil, err
	}
	format, _ := m.registry.Format(formatID)

	used := make(map[string]bool, len(mapping))
	for _, col := range mapping {
		used[col] = true
	}
	var unused []string
	for _, h := range table.Headers {
		if !used[h] {
			unused = append(unused, h)
		}
	}

	conv := newConverter(table, mapping)
	records := make([]catalog.Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		records = append(records, conv.record(row, format, unused))
	}

	return &Result{
		Format:   format.ID,
		Kind:     format.Kind,
		Records:  records,
		Mapping:  mapping,
		Unmapped: unmapped,
		Unused:   unused,
	}, nil
}

// converter holds per-table coercion settings.
type converter struct {
	mapping  catalog.FieldMapping
	european bool
	dayFirst bool
}

func newConverter(table *reader.Table, mapping catalog.FieldMapping) *converter {
	var numeric, dates []string
	for field, col := range mapping {
		switch {
		case field == FieldAmount, field == FieldWriterShares, field == FieldPublisherShares,
			strings.HasSuffix(field, ".percent"):
			numeric = append(numeric, table.Column(col)...)
		case field == FieldStartDate, field == FieldEndDate, field == FieldPostTermEndDate, field == FieldReleaseDate:
			dates = append(dates, table.Column(col)...)
		}
	}
	return &converter{
		mapping:  mapping,
		european: sniffer.ProbeNumbers(numeric).European,
		dayFirst: probeDayFirst(dates),
	}
}

func (c *converter) value(row catalog.RawRow, field string) (string, string, bool) {
	col, ok := c.mapping[field]
	if !ok {
		return "", "", false
	}
	v, present := row.Get(col)
	return v, col, present
}

func (c *converter) record(row catalog.RawRow, format Format, unused []string) catalog.Record {
	rec := catalog.Record{
		RowNumber: row.RowNumber,
		Kind:      format.Kind,
		Format:    format.ID,
	}

	for _, field := range scalarFields {
		v, col, ok := c.value(row, field)
		if !ok {
			v, ok = format.Defaults[field]
			col = "default"
		}
		if ok {
			c.applyScalar(&rec, field, col, v)
		}
	}

	c.applyLists(&rec, row)
	c.applyIndexed(&rec, row, format)
	c.applyRecordings(&rec, row)

	for field, col := range c.mapping {
		if name, ok := strings.CutPrefix(field, extraPrefix); ok {
			if v, present := row.Get(col); present {
				setExtra(&rec, name, v)
			}
		}
	}
	for _, col := range unused {
		if v, present := row.Get(col); present {
			setExtra(&rec, col, v)
		}
	}
	return rec
}

func setExtra(rec *catalog.Record, key, value string) {
	if rec.Extra == nil {
		rec.Extra = map[string]string{}
	}
	rec.Extra[key] = value
}

func issue(rec *catalog.Record, field, column, value, msg string) {
	rec.Issues = append(rec.Issues, catalog.FieldIssue{Field: field, Column: column, Value: value, Message: msg})
}

func (c *converter) applyScalar(rec *catalog.Record, field, col, v string) {
	switch field {
	case FieldTitle:
		rec.Title = v
	case FieldAltTitles:
		rec.AltTitles = splitList(v)
	case FieldCounterparty:
		rec.Counterparty = v
	case FieldCategory:
		rec.Category = v
	case FieldExternalID:
		rec.ExternalID = strings.ToUpper(v)
	case FieldTerritory:
		rec.Territory = v
	case FieldCurrency:
		rec.Currency = strings.ToUpper(v)
	case FieldStartDate, FieldEndDate, FieldPostTermEndDate:
		iso, err := parseDate(v, c.dayFirst)
		if err != nil {
			issue(rec, field, col, v, "invalid date")
			return
		}
		switch field {
		case FieldStartDate:
			rec.StartDate = iso
		case FieldEndDate:
			rec.EndDate = iso
		default:
			rec.PostTermEndDate = iso
		}
	case FieldPostTermMonths:
		n, err := parseInt(v, c.european)
		if err != nil {
			issue(rec, field, col, v, "invalid number of months")
			return
		}
		months := int(n)
		rec.PostTermMonths = &months
	case FieldAmount:
		d, err := parseDecimal(v, c.european)
		if err != nil {
			issue(rec, field, col, v, "invalid amount")
			return
		}
		rec.Amount = &d
	case FieldUnits:
		n, err := parseInt(v, c.european)
		if err != nil {
			issue(rec, field, col, v, "invalid unit count")
			return
		}
		rec.Units = &n
	case FieldPeriod:
		p, err := parsePeriod(v)
		if err != nil {
			issue(rec, field, col, v, "unrecognized period")
			return
		}
		rec.Period = p
	}
}

// applyLists reads split groups packed into one cell, with optional separate
// share cells matched by position.
func (c *converter) applyLists(rec *catalog.Record, row catalog.RawRow) {
	if v, col, ok := c.value(row, FieldWriters); ok {
		shares, _, _ := c.value(row, FieldWriterShares)
		rec.Writers = c.parseShareList(rec, FieldWriters, col, v, shares)
	}
	if v, col, ok := c.value(row, FieldPublishers); ok {
		shares, _, _ := c.value(row, FieldPublisherShares)
		rec.Publishers = c.parseShareList(rec, FieldPublishers, col, v, shares)
	}
}

func (c *converter) parseShareList(rec *catalog.Record, field, col, names, sharesCell string) []catalog.Share {
	shares := parseNamedShares(splitList(names), c.european, func(value string) {
		issue(rec, field, col, value, "invalid share percentage")
	})
	if sharesCell == "" {
		return shares
	}
	pcts := splitList(sharesCell)
	if len(pcts) != len(shares) {
		issue(rec, field, col, sharesCell, "share count does not match the number of names")
		return shares
	}
	for i, p := range pcts {
		d, err := parseDecimal(p, c.european)
		if err != nil {
			issue(rec, field, col, p, "invalid share percentage")
			continue
		}
		shares[i].Percent = d
		shares[i].HasPercent = true
	}
	return shares
}

// applyIndexed reads numbered columns (Writer 1, Writer 1 %, ...). Indexed
// entries are appended after any list-cell entries.
func (c *converter) applyIndexed(rec *catalog.Record, row catalog.RawRow, format Format) {
	for _, group := range []string{GroupWriters, GroupPublishers} {
		for n := 1; n <= maxIndexed; n++ {
			name, _, hasName := c.value(row, IndexedKey(group, n, "name"))
			pct, pctCol, hasPct := c.value(row, IndexedKey(group, n, "percent"))
			if !hasName {
				if hasPct {
					issue(rec, group, pctCol, pct, "share given without a name")
				}
				continue
			}
			share := catalog.Share{Name: name}
			share.IPI, _, _ = c.value(row, IndexedKey(group, n, "ipi"))
			share.Role, _, _ = c.value(row, IndexedKey(group, n, "role"))
			if hasPct {
				d, err := parseDecimal(pct, c.european)
				if err != nil {
					issue(rec, group, pctCol, pct, "invalid share percentage")
				} else {
					share.Percent = d
					share.HasPercent = true
				}
			}
			if group == GroupWriters {
				rec.Writers = append(rec.Writers, share)
			} else {
				rec.Publishers = append(rec.Publishers, share)
			}
		}
	}
}

func (c *converter) applyRecordings(rec *catalog.Record, row catalog.RawRow) {
	isrcs, _, _ := c.value(row, FieldISRC)
	title, _, _ := c.value(row, FieldRecordingTitle)
	artist, _, _ := c.value(row, FieldArtist)
	released, relCol, hasReleased := c.value(row, FieldReleaseDate)

	codes := splitList(isrcs)
	if len(codes) == 0 && title == "" {
		return
	}
	if len(codes) == 0 {
		codes = []string{""}
	}

	releaseISO := ""
	if hasReleased {
		iso, err := parseDate(released, c.dayFirst)
		if err != nil {
			issue(rec, FieldReleaseDate, relCol, released, "invalid date")
		} else {
			releaseISO = iso
		}
	}

	for i, code := range codes {
		r := catalog.Recording{ISRC: normalizeISRC(code), Artist: artist, ReleaseDate: releaseISO}
		if i == 0 {
			r.Title = title
		}
		if r.Title == "" {
			r.Title = rec.Title
		}
		rec.Recordings = append(rec.Recordings, r)
	}
}
