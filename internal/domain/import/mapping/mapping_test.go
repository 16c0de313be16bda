package mapping

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	return NewMapper(reg)
}

func readCSV(t *testing.T, content string) *reader.Table {
	t.Helper()
	table, err := reader.Read("upload.csv", strings.NewReader(content))
	require.NoError(t, err)
	return table
}

// =============================================================================
// Format detection
// =============================================================================

func TestRegistry_DetectFormat(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers []string
		want    catalog.FormatID
	}{
		{
			name:    "standard template",
			headers: []string{"Title", "Writers", "Writer Shares", "ISWC"},
			want:    "standard_template",
		},
		{
			name:    "publisher export with indexed writers",
			headers: []string{"Work Title", "Work Code", "Writer 1", "Writer 1 Share", "Writer 1 IPI"},
			want:    "publisher_export",
		},
		{
			name:    "contract register",
			headers: []string{"Contract Ref", "Contract Title", "Licensee", "Start Date", "End Date"},
			want:    "contract_register",
		},
		{
			name:    "royalty statement ignores case and spacing",
			headers: []string{"SONG TITLE", "Net  Amount", "statement period", "Payor"},
			want:    "royalty_statement",
		},
		{
			name:    "unknown headers fall back to default",
			headers: []string{"Foo", "Bar"},
			want:    "standard_template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.DetectFormat(tt.headers))
		})
	}
}

func TestRegistry_Load(t *testing.T) {
	t.Run("custom format replaces by id", func(t *testing.T) {
		reg, err := NewRegistry()
		require.NoError(t, err)

		err = reg.Load([]byte(`
formats:
  - id: royalty_statement
    kind: royalty
    signature: [track, gross]
    min_signature_hits: 2
    required: [title]
    fields:
      title: [Track]
      amount: [Gross]
`))
		require.NoError(t, err)

		f, ok := reg.Format("royalty_statement")
		require.True(t, ok)
		assert.Equal(t, []string{"track"}, f.Fields["title"])
		assert.Equal(t, catalog.FormatID("royalty_statement"), reg.DetectFormat([]string{"Track", "Gross"}))
		assert.Len(t, reg.Formats(), 4)
	})

	t.Run("rejects unknown canonical field", func(t *testing.T) {
		reg, err := NewRegistry()
		require.NoError(t, err)

		err = reg.Load([]byte(`
formats:
  - id: broken
    kind: work
    fields:
      title: [Title]
      colour: [Colour]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "colour")
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		reg, err := NewRegistry()
		require.NoError(t, err)

		err = reg.Load([]byte("formats:\n  - id: x\n    kind: album\n    fields:\n      title: [Title]\n"))
		require.Error(t, err)
	})
}

// =============================================================================
// Mapping
// =============================================================================

func TestMapper_Map_StandardTemplate(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Title,Writers,ISWC,Category,Mood\n"+
		"Blue Moon,Jane Doe (50%); John Roe (50%),t-123.456.789-0,original,calm\n"+
		"Red Sky,Ann Poe 100%,,,\n")

	result, err := m.Map(table, m.DetectFormat(table.Headers), nil)

	require.NoError(t, err)
	assert.NoError(t, result.MappingError())
	assert.Equal(t, catalog.KindWork, result.Kind)
	assert.Equal(t, []string{"Mood"}, result.Unused)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, 2, first.RowNumber)
	assert.Equal(t, "Blue Moon", first.Title)
	assert.Equal(t, "T-123.456.789-0", first.ExternalID)
	assert.Equal(t, "original", first.Category)
	assert.Equal(t, "calm", first.Extra["Mood"])
	require.Len(t, first.Writers, 2)
	assert.Equal(t, "Jane Doe", first.Writers[0].Name)
	assert.True(t, first.Writers[0].HasPercent)
	assert.True(t, decimal.NewFromInt(50).Equal(first.Writers[0].Percent))
	assert.Empty(t, first.Issues)

	second := result.Records[1]
	require.Len(t, second.Writers, 1)
	assert.Equal(t, "Ann Poe", second.Writers[0].Name)
	assert.True(t, decimal.NewFromInt(100).Equal(second.Writers[0].Percent))
}

func TestMapper_Map_IndexedWriters(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Work Title,Work Code,Writer 1,Writer 1 Share,Writer 1 IPI,Writer 2,Writer 2 Share,Publisher 1\n"+
		"Blue Moon,W-1,Jane Doe,60,00123456789,John Roe,40,Acme Songs\n"+
		"Red Sky,W-2,Ann Poe,100,,,30,\n")

	format := m.DetectFormat(table.Headers)
	require.Equal(t, catalog.FormatID("publisher_export"), format)

	result, err := m.Map(table, format, nil)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	require.Len(t, first.Writers, 2)
	assert.Equal(t, "00123456789", first.Writers[0].IPI)
	assert.True(t, decimal.NewFromInt(40).Equal(first.Writers[1].Percent))
	require.Len(t, first.Publishers, 1)
	assert.Equal(t, "Acme Songs", first.Publishers[0].Name)
	assert.False(t, first.Publishers[0].HasPercent)

	second := result.Records[1]
	require.Len(t, second.Writers, 1)
	require.Len(t, second.Issues, 1)
	assert.Equal(t, "share given without a name", second.Issues[0].Message)
	assert.Equal(t, "Writer 2 Share", second.Issues[0].Column)
}

func TestMapper_Map_Royalty(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Song Title;Net Amount;Statement Period;Payor;Units;Sale Date\n"+
		"Blue Moon;1.234,50;2024 Q1;Spotify;1.200;31/01/2024\n"+
		"Red Sky;12,00;03/2024;Apple;12;\n"+
		"Green Day;abc;sometime;Apple;;\n")

	result, err := m.Map(table, m.DetectFormat(table.Headers), nil)

	require.NoError(t, err)
	assert.Equal(t, catalog.KindRoyalty, result.Kind)
	require.Len(t, result.Records, 3)

	first := result.Records[0]
	require.NotNil(t, first.Amount)
	assert.Equal(t, "1234.5", first.Amount.String())
	assert.Equal(t, "USD", first.Currency, "format default currency applies")
	assert.Equal(t, "2024-Q1", first.Period)
	assert.Equal(t, "Spotify", first.Counterparty)
	require.NotNil(t, first.Units)
	assert.Equal(t, int64(1200), *first.Units)

	assert.Equal(t, "2024-03", result.Records[1].Period)

	bad := result.Records[2]
	assert.Nil(t, bad.Amount)
	fields := make([]string, 0, len(bad.Issues))
	for _, is := range bad.Issues {
		fields = append(fields, is.Field)
	}
	assert.ElementsMatch(t, []string{FieldAmount, FieldPeriod}, fields)
}

func TestMapper_Map_ContractDates(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Contract Ref,Contract Title,Licensee,Start Date,End Date,Post-Term Months\n"+
		"C-1,Admin Deal,Acme Music,25/12/2020,2023-12-31,6\n"+
		"C-2,Sync Deal,Film Co,01/02/2021,not a date,x\n")

	result, err := m.Map(table, m.DetectFormat(table.Headers), nil)

	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, "2020-12-25", first.StartDate)
	assert.Equal(t, "2023-12-31", first.EndDate)
	require.NotNil(t, first.PostTermMonths)
	assert.Equal(t, 6, *first.PostTermMonths)

	second := result.Records[1]
	assert.Equal(t, "2021-02-01", second.StartDate, "day-first detected from other rows")
	assert.Len(t, second.Issues, 2)
}

func TestMapper_Map_UnmappedRequired(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Title,ISWC\nBlue Moon,T-1\n")

	result, err := m.Map(table, "standard_template", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{FieldWriters}, result.Unmapped)

	var mErr *catalog.MappingError
	require.True(t, errors.As(result.MappingError(), &mErr))
	assert.Equal(t, []string{FieldWriters}, mErr.Unmapped)
}

// =============================================================================
// Overrides
// =============================================================================

func TestMapper_Overrides(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Name,Authors,Label,Notes\nBlue Moon,Jane Doe (100%),Acme,first\n")

	t.Run("override maps columns and routes extras", func(t *testing.T) {
		result, err := m.Map(table, "standard_template", catalog.FieldMapping{
			FieldWriters:       "authors",
			FieldCounterparty:  "Label",
			"extra.annotation": "Notes",
		})

		require.NoError(t, err)
		assert.Empty(t, result.Unmapped)
		rec := result.Records[0]
		assert.Equal(t, "Blue Moon", rec.Title)
		assert.Equal(t, "Acme", rec.Counterparty)
		require.Len(t, rec.Writers, 1)
		assert.Equal(t, "first", rec.Extra["annotation"])
		assert.Equal(t, "Authors", result.Mapping[FieldWriters])
	})

	t.Run("empty value unmaps a field", func(t *testing.T) {
		result, err := m.Map(table, "standard_template", catalog.FieldMapping{FieldTitle: ""})

		require.NoError(t, err)
		assert.Empty(t, result.Records[0].Title)
		assert.Equal(t, "Blue Moon", result.Records[0].Extra["Name"])
	})

	t.Run("unknown column and field are rejected", func(t *testing.T) {
		_, err := m.Map(table, "standard_template", catalog.FieldMapping{
			FieldWriters: "Composers",
			"colour":     "Notes",
		})

		var mErr *catalog.MappingError
		require.True(t, errors.As(err, &mErr))
		assert.Equal(t, "Composers", mErr.UnknownColumns[FieldWriters])
		assert.Equal(t, []string{"colour"}, mErr.UnknownFields)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := m.Map(table, "nope", nil)
		require.Error(t, err)
	})
}

func TestMapper_Idempotent(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Title,Writers,Writer Shares,Release Date,ISRC\n"+
		"Blue Moon,Jane Doe; John Roe,50;50,2020-01-01,USAB12000001 / USAB12000002\n")

	first, err := m.Map(table, "standard_template", nil)
	require.NoError(t, err)
	again, err := m.Map(table, "standard_template", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Records, again.Records)

	reapplied, err := m.Map(table, "standard_template", first.Mapping)
	require.NoError(t, err)
	assert.Equal(t, first.Records, reapplied.Records)
	assert.Equal(t, first.Mapping, reapplied.Mapping)

	rec := first.Records[0]
	require.Len(t, rec.Recordings, 2)
	assert.Equal(t, "USAB12000002", rec.Recordings[1].ISRC)
	assert.Equal(t, "Blue Moon", rec.Recordings[1].Title)
	assert.Equal(t, "2020-01-01", rec.Recordings[0].ReleaseDate)
}

func TestMapper_ShareCountMismatch(t *testing.T) {
	m := newTestMapper(t)
	table := readCSV(t, "Title,Writers,Writer Shares\nBlue Moon,Jane Doe; John Roe,100\n")

	result, err := m.Map(table, "standard_template", nil)

	require.NoError(t, err)
	rec := result.Records[0]
	require.Len(t, rec.Issues, 1)
	assert.Contains(t, rec.Issues[0].Message, "does not match")
	assert.False(t, rec.Writers[0].HasPercent)
}

// =============================================================================
// Coercion helpers
// =============================================================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		in       string
		dayFirst bool
		want     string
		wantErr  bool
	}{
		{in: "2024-03-05", want: "2024-03-05"},
		{in: "03/05/2024", want: "2024-03-05"},
		{in: "03/05/2024", dayFirst: true, want: "2024-05-03"},
		{in: "5.3.2024", want: "2024-03-05"},
		{in: "5-Mar-2024", want: "2024-03-05"},
		{in: "March 5, 2024", want: "2024-03-05"},
		{in: "45356", want: "2024-03-05"},
		{in: "20240305", want: "2024-03-05"},
		{in: "13/13/2024", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in, tt.dayFirst)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePeriod(t *testing.T) {
	tests := map[string]string{
		"2024":     "2024",
		"2024-3":   "2024-03",
		"202403":   "2024-03",
		"03/2024":  "2024-03",
		"Q2 2024":  "2024-Q2",
		"2024q4":   "2024-Q4",
		"2024 H1":  "2024-H1",
		"Mar 2024": "2024-03",
	}
	for in, want := range tests {
		got, err := parsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parsePeriod("2024-13")
	assert.Error(t, err)
}

func TestProbeDayFirst(t *testing.T) {
	assert.False(t, probeDayFirst(nil))
	assert.True(t, probeDayFirst([]string{"01/02/2024", "25/02/2024"}))
	assert.False(t, probeDayFirst([]string{"02/25/2024"}))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList("  "))
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a; b | c"))
}
