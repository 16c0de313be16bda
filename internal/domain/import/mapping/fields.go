package mapping

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Canonical field names accepted in format tables and override tables.
const (
	FieldTitle           = "title"
	FieldAltTitles       = "alt_titles"
	FieldCounterparty    = "counterparty"
	FieldCategory        = "category"
	FieldExternalID      = "external_id"
	FieldTerritory       = "territory"
	FieldStartDate       = "start_date"
	FieldEndDate         = "end_date"
	FieldPostTermMonths  = "post_term_months"
	FieldPostTermEndDate = "post_term_end_date"
	FieldAmount          = "amount"
	FieldCurrency        = "currency"
	FieldUnits           = "units"
	FieldPeriod          = "period"
	FieldWriters         = "writers"
	FieldWriterShares    = "writer_shares"
	FieldPublishers      = "publishers"
	FieldPublisherShares = "publisher_shares"
	FieldISRC            = "isrc"
	FieldRecordingTitle  = "recording_title"
	FieldArtist          = "artist"
	FieldReleaseDate     = "release_date"

	GroupWriters    = "writers"
	GroupPublishers = "publishers"

	// extraPrefix routes any column into Record.Extra: "extra.<name>".
	extraPrefix = "extra."
)

var scalarFields = []string{
	FieldTitle, FieldAltTitles, FieldCounterparty, FieldCategory, FieldExternalID,
	FieldTerritory, FieldStartDate, FieldEndDate, FieldPostTermMonths, FieldPostTermEndDate,
	FieldAmount, FieldCurrency, FieldUnits, FieldPeriod,
	FieldWriters, FieldWriterShares, FieldPublishers, FieldPublisherShares,
	FieldISRC, FieldRecordingTitle, FieldArtist, FieldReleaseDate,
}

var indexedSubfields = []string{"name", "percent", "ipi", "role"}

// maxIndexed bounds indexed override keys when a format declares no group.
const maxIndexed = 10

func isScalarField(name string) bool {
	return slices.Contains(scalarFields, name)
}

// IndexedKey is the canonical name of one indexed column: "writers.2.percent".
func IndexedKey(group string, n int, sub string) string {
	return fmt.Sprintf("%s.%d.%s", group, n, sub)
}

// parseIndexedKey splits "writers.2.percent".
func parseIndexedKey(key string) (group string, n int, sub string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 {
		return "", 0, "", false
	}
	if parts[0] != GroupWriters && parts[0] != GroupPublishers {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 || n > maxIndexed {
		return "", 0, "", false
	}
	if !slices.Contains(indexedSubfields, parts[2]) {
		return "", 0, "", false
	}
	return parts[0], n, parts[2], true
}

// IsCanonicalField reports whether key may appear in an override table.
func IsCanonicalField(key string) bool {
	if isScalarField(key) {
		return true
	}
	if strings.HasPrefix(key, extraPrefix) && len(key) > len(extraPrefix) {
		return true
	}
	_, _, _, ok := parseIndexedKey(key)
	return ok
}

// TemplateColumn is one header of a downloadable template.
type TemplateColumn struct {
	// Field is a canonical field name or an indexed key.
	Field string
	Label string
}

// TemplateColumns lists the template headers of a format in canonical field
// order, using the first source name of each field. Indexed groups get
// slots numbered columns when the format has no list cell for the group.
func (f Format) TemplateColumns(slots int) []TemplateColumn {
	var cols []TemplateColumn
	for _, field := range scalarFields {
		names := f.Fields[field]
		if len(names) == 0 {
			continue
		}
		cols = append(cols, TemplateColumn{Field: field, Label: names[0]})
	}
	for _, group := range []string{GroupWriters, GroupPublishers} {
		spec, ok := f.Indexed[group]
		if !ok || len(f.Fields[group]) > 0 {
			continue
		}
		for n := 1; n <= min(slots, spec.Max); n++ {
			for _, sub := range indexedSubfields {
				patterns := spec.Fields[sub]
				if len(patterns) == 0 {
					continue
				}
				cols = append(cols, TemplateColumn{
					Field: IndexedKey(group, n, sub),
					Label: strings.ReplaceAll(patterns[0], "{n}", strconv.Itoa(n)),
				})
			}
		}
	}
	return cols
}
