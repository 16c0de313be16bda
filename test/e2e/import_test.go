// Package e2etest runs sample catalog files through the import pipeline
// without a database.
package e2etest

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/dedupe"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/matcher"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/service"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/sniffer"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/validator"
)

const testDataDir = "testdata"

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(testDataDir, name))
	if os.IsNotExist(err) {
		t.Skipf("Test data file not found: %s", name)
	}
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data
}

func newMapper(t *testing.T) *mapping.Mapper {
	t.Helper()
	reg, err := mapping.NewRegistry()
	require.NoError(t, err)
	return mapping.NewMapper(reg)
}

func byTitle(records []catalog.Record, results []catalog.ValidationResult) map[string][]catalog.ValidationResult {
	out := make(map[string][]catalog.ValidationResult)
	for i, rec := range records {
		out[rec.Title] = append(out[rec.Title], results[i])
	}
	return out
}

// TestPublisherExport covers a semicolon separated export with a preamble,
// European decimals and indexed writer columns.
func TestPublisherExport(t *testing.T) {
	data := readFixture(t, "publisher_export.csv")

	t.Run("DetectConfig", func(t *testing.T) {
		config, err := sniffer.DetectConfig(data)
		require.NoError(t, err)
		assert.Equal(t, ';', config.Delimiter, "Expected semicolon delimiter")
		assert.Contains(t, config.Headers, "Work Title")
	})

	table, err := reader.ReadBytes("publisher_export.csv", data, reader.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)

	m := newMapper(t)
	format := m.DetectFormat(table.Headers)
	require.Equal(t, catalog.FormatID("publisher_export"), format)

	result, err := m.Map(table, format, nil)
	require.NoError(t, err)
	require.NoError(t, result.MappingError())
	require.Len(t, result.Records, 4)

	t.Run("MapsEuropeanShares", func(t *testing.T) {
		first := result.Records[0]
		require.Len(t, first.Writers, 2)
		assert.True(t, decimal.RequireFromString("62.5").Equal(first.Writers[0].Percent))
		assert.Equal(t, "00123456789", first.Writers[0].IPI)
		require.Len(t, first.Publishers, 1)
		assert.Equal(t, "Acme Songs", first.Publishers[0].Name)
	})

	results := validator.New().ValidateAll(result.Records)
	dedupe.NewDetector(0).Annotate(result.Records, results, dedupe.NewIndex(nil))
	rows := byTitle(result.Records, results)

	t.Run("Validate", func(t *testing.T) {
		assert.True(t, rows["Red Sky"][0].Valid())

		over := rows["Over The Top"][0]
		require.False(t, over.Valid())
		assert.Contains(t, over.Errors[0], "exceeds 100%")

		valid, invalid := validator.Partition(result.Records, results)
		assert.Len(t, valid, 3)
		assert.Len(t, invalid, 1)
	})

	t.Run("FlagsRepeatedRow", func(t *testing.T) {
		require.Len(t, rows["Blue Moon"], 2)
		assert.Empty(t, rows["Blue Moon"][0].Warnings, "first occurrence is clean")
		assert.NotEmpty(t, rows["Blue Moon"][1].Warnings)
		assert.True(t, rows["Blue Moon"][1].Valid(), "duplicates only warn")
		assert.Equal(t, 1, dedupe.Summary(results))
	})
}

// TestRoyaltyStatement maps a statement and matches its lines to known works.
func TestRoyaltyStatement(t *testing.T) {
	data := readFixture(t, "royalty_statement.csv")

	table, err := reader.ReadBytes("royalty_statement.csv", data, reader.DefaultOptions())
	require.NoError(t, err)

	m := newMapper(t)
	result, err := m.Map(table, m.DetectFormat(table.Headers), nil)
	require.NoError(t, err)
	assert.Equal(t, catalog.KindRoyalty, result.Kind)
	require.Len(t, result.Records, 3)

	results := validator.New().ValidateAll(result.Records)
	for _, r := range results {
		assert.True(t, r.Valid(), "row %d: %v", r.RowNumber, r.Errors)
	}

	first := result.Records[0]
	require.NotNil(t, first.Amount)
	assert.Equal(t, "12.5", first.Amount.String())
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "2024-Q1", first.Period)

	corpus := []catalog.MatchCandidate{
		{ID: "w1", Title: "Blue Moon", Counterparty: "Acme Songs"},
		{ID: "w2", Title: "Red Sky", Counterparty: "Acme Songs"},
	}
	mt := matcher.New(slog.New(slog.DiscardHandler))
	matches := mt.AutoMatch(context.Background(), result.Format, result.Records, corpus, 0)
	require.Len(t, matches, 3)

	assert.Equal(t, "w1", matches[0].CandidateID)
	assert.Equal(t, "w2", matches[1].CandidateID)
	assert.False(t, matches[2].Matched())

	matcher.Apply(result.Records, matches)
	require.NotNil(t, result.Records[0].Match)
	assert.Equal(t, "w1", result.Records[0].Fields()["work_id"])
}

// TestTemplates writes every built-in template as a workbook and reads it
// back through the pipeline.
func TestTemplates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping template round trip in short mode")
	}

	m := newMapper(t)
	for _, format := range m.Registry().Formats() {
		t.Run(string(format.ID), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, service.WriteTemplate(&buf, format, service.TemplateXLSX))

			table, err := reader.ReadBytes("template.xlsx", buf.Bytes(), reader.DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, reader.KindSpreadsheet, table.Kind)

			result, err := m.Map(table, m.DetectFormat(table.Headers), nil)
			require.NoError(t, err)
			assert.Equal(t, format.ID, result.Format)
			assert.Empty(t, result.Unmapped)

			for _, r := range validator.New().ValidateAll(result.Records) {
				assert.Empty(t, r.Errors)
			}
		})
	}
}
