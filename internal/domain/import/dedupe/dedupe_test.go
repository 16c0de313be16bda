package dedupe

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/validator"
)

func share(name string, pct int64) catalog.Share {
	return catalog.Share{Name: name, Percent: decimal.NewFromInt(pct), HasPercent: true}
}

func corpus() []catalog.ExistingEntity {
	return []catalog.ExistingEntity{
		{
			ID:         "w-1",
			Kind:       catalog.KindWork,
			Title:      "Blue Moon",
			AltTitles:  []string{"Lune Bleue"},
			ExternalID: "T-123.456.789-0",
			Writers:    []catalog.Share{share("Jane Doe", 50), share("John Roe", 50)},
			ISRCs:      []string{"USAB12000001"},
		},
		{
			ID:      "w-2",
			Kind:    catalog.KindWork,
			Title:   "Midnight Train To Georgia",
			Writers: []catalog.Share{share("Ann Poe", 100)},
		},
		{
			ID:         "c-1",
			Kind:       catalog.KindContract,
			Title:      "Blue Moon",
			ExternalID: "C-1",
		},
	}
}

func annotate(t *testing.T, records ...catalog.Record) []catalog.ValidationResult {
	t.Helper()
	results := make([]catalog.ValidationResult, len(records))
	for i, r := range records {
		results[i] = catalog.ValidationResult{RowNumber: r.RowNumber}
	}
	NewDetector(0).Annotate(records, results, NewIndex(corpus()))
	return results
}

// =============================================================================
// Corpus comparison
// =============================================================================

func TestAnnotate_Corpus(t *testing.T) {
	tests := []struct {
		name   string
		record catalog.Record
		want   []string
	}{
		{
			name: "identical title and splits",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindWork, Title: "BLUE MOON",
				Writers: []catalog.Share{share("john roe", 50), share("Jane Doe", 50)}},
			want: []string{`exact duplicate of existing work "Blue Moon" (id w-1)`},
		},
		{
			name: "alternate title with different splits",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindWork, Title: "Lune Bleue",
				Writers: []catalog.Share{share("Jane Doe", 100)}},
			want: []string{`same title different splits as existing work "Blue Moon" (id w-1)`},
		},
		{
			name: "identifier on another title",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindWork, Title: "Red Sky",
				ExternalID: "t1234567890"},
			want: []string{`same identifier across different titles: t1234567890 is "Blue Moon" (id w-1) in the catalog`},
		},
		{
			name: "isrc on another title",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindWork, Title: "Red Sky",
				Recordings: []catalog.Recording{{ISRC: "USAB12000001"}}},
			want: []string{`same identifier across different titles: ISRC USAB12000001 belongs to "Blue Moon" (id w-1)`},
		},
		{
			name: "near duplicate title",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindWork, Title: "Midnight Train to Georgia (Live)",
				Writers: []catalog.Share{share("Ann Poe", 100)}},
			want: []string{`similar title to existing work "Midnight Train To Georgia" (id w-2, 100% similar)`},
		},
		{
			name: "other kinds are not compared",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindContract, Title: "Blue Moon", ExternalID: "C-1"},
			want:   []string{`exact duplicate of existing contract "Blue Moon" (id c-1)`},
		},
		{
			name:   "unrelated title",
			record: catalog.Record{RowNumber: 2, Kind: catalog.KindWork, Title: "Completely Different"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := annotate(t, tt.record)
			assert.Equal(t, tt.want, results[0].Warnings)
			assert.Empty(t, results[0].Errors)
		})
	}
}

func TestAnnotate_IsAdvisory(t *testing.T) {
	v := validator.New()
	records := []catalog.Record{{
		RowNumber:    2,
		Kind:         catalog.KindWork,
		Title:        "Blue Moon",
		Counterparty: "Acme Songs",
		Writers:      []catalog.Share{share("Jane Doe", 50), share("John Roe", 50)},
	}}

	results := v.ValidateAll(records)
	NewDetector(80).Annotate(records, results, NewIndex(corpus()))
	valid, _ := validator.Partition(records, results)

	require.Len(t, valid, 1)
	assert.Equal(t, 1, Summary(results))
}

// =============================================================================
// Rows of the same file
// =============================================================================

func TestAnnotate_IntraFile(t *testing.T) {
	records := []catalog.Record{
		{RowNumber: 2, Kind: catalog.KindWork, Title: "Sunrise", ExternalID: "T-1", Writers: []catalog.Share{share("A", 100)}},
		{RowNumber: 3, Kind: catalog.KindWork, Title: "sunrise", Writers: []catalog.Share{share("A", 100)}},
		{RowNumber: 4, Kind: catalog.KindWork, Title: "Sunrise", Writers: []catalog.Share{share("B", 100)}},
		{RowNumber: 5, Kind: catalog.KindWork, Title: "Sunset", ExternalID: "T-1"},
	}
	results := make([]catalog.ValidationResult, len(records))

	NewDetector(80).Annotate(records, results, nil)

	assert.Empty(t, results[0].Warnings)
	assert.Equal(t, []string{"exact duplicate of row 2 in this file"}, results[1].Warnings)
	assert.Equal(t, []string{"same title different splits as row 3 in this file"}, results[2].Warnings)
	assert.Equal(t, []string{"same identifier across different titles: T-1 is also used by row 2"}, results[3].Warnings)
}

func TestAnnotate_RoyaltyLines(t *testing.T) {
	amount := decimal.RequireFromString("1.50")
	line := catalog.Record{RowNumber: 2, Kind: catalog.KindRoyalty, Title: "Blue Moon", Counterparty: "Spotify", Period: "2024-Q1", Amount: &amount}
	again := line
	again.RowNumber = 3
	other := line
	other.RowNumber = 4
	other.Period = "2024-Q2"

	records := []catalog.Record{line, again, other}
	results := make([]catalog.ValidationResult, len(records))
	NewDetector(80).Annotate(records, results, NewIndex(corpus()))

	assert.Empty(t, results[0].Warnings)
	assert.Equal(t, []string{"exact duplicate of row 2 in this file"}, results[1].Warnings)
	assert.Empty(t, results[2].Warnings)
}

// =============================================================================
// Similarity
// =============================================================================

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  int
		max  int
	}{
		{"blue moon", "blue moon", 100, 100},
		{"blue moon", "blue moon again", 85, 90},
		{"yesterday", "yesteday", 85, 95},
		{"blue moon", "red sky", 0, 50},
		{"", "anything", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestLengthCompatible(t *testing.T) {
	assert.True(t, lengthCompatible("love", "love me tender baby", 80))
	assert.False(t, lengthCompatible("a", "a very long title indeed", 90))
	assert.False(t, lengthCompatible("", "", 80))
}

func BenchmarkAnnotate(b *testing.B) {
	gen := catalog.NewTestDataGeneratorWithSeed(42)
	existing := gen.Corpus(gen.Works(2000))
	incoming := gen.Works(200)
	idx := NewIndex(existing)
	d := NewDetector(80)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		results := make([]catalog.ValidationResult, len(incoming))
		d.Annotate(incoming, results, idx)
	}
}
