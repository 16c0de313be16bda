package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TestDataGenerator produces realistic catalog records and corpora for tests
// and load checks.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a reproducible generator.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// ============================================================================
// Works
// ============================================================================

// SongTitle returns a plausible song title.
func (g *TestDataGenerator) SongTitle() string {
	words := g.faker.Number(1, 4)
	parts := make([]string, 0, words)
	for range words {
		w := g.faker.Word()
		parts = append(parts, strings.ToUpper(w[:1])+w[1:])
	}
	return strings.Join(parts, " ")
}

// ISWC returns a syntactically valid ISWC (T-123.456.789-0).
func (g *TestDataGenerator) ISWC() string {
	d := g.faker.DigitN(10)
	return fmt.Sprintf("T-%s.%s.%s-%s", d[0:3], d[3:6], d[6:9], d[9:10])
}

// ISRC returns a syntactically valid ISRC (CC-XXX-YY-NNNNN, undashed).
func (g *TestDataGenerator) ISRC() string {
	return strings.ToUpper(g.faker.LetterN(2)) + strings.ToUpper(g.faker.LetterN(3)) +
		g.faker.DigitN(2) + g.faker.DigitN(5)
}

// Writers returns n writer shares summing to exactly 100.
func (g *TestDataGenerator) Writers(n int) []Share {
	if n <= 0 {
		return nil
	}
	shares := make([]Share, 0, n)
	remaining := decimal.NewFromInt(100)
	for i := range n {
		pct := remaining
		if i < n-1 {
			pct = remaining.Div(decimal.NewFromInt(int64(n - i))).Round(2)
		}
		remaining = remaining.Sub(pct)
		shares = append(shares, Share{
			Name:       g.faker.Name(),
			IPI:        g.faker.DigitN(11),
			Role:       "CA",
			Percent:    pct,
			HasPercent: true,
		})
	}
	return shares
}

// Work generates a valid work record at the given row.
func (g *TestDataGenerator) Work(rowNumber int) Record {
	writers := g.Writers(g.faker.Number(1, 3))
	return Record{
		RowNumber:    rowNumber,
		Kind:         KindWork,
		Format:       "standard_template",
		Title:        g.SongTitle(),
		Counterparty: writers[0].Name,
		Category:     "original",
		ExternalID:   g.ISWC(),
		Writers:      writers,
		Recordings: []Recording{{
			Title:  g.SongTitle(),
			ISRC:   g.ISRC(),
			Artist: g.faker.Name(),
		}},
	}
}

// Works generates count work records numbered from row 2.
func (g *TestDataGenerator) Works(count int) []Record {
	out := make([]Record, 0, count)
	for i := range count {
		out = append(out, g.Work(i+2))
	}
	return out
}

// Royalty generates a royalty line item for the given work title.
func (g *TestDataGenerator) Royalty(rowNumber int, title string) Record {
	amount := decimal.NewFromFloat(g.faker.Float64Range(0.01, 5000)).Round(2)
	units := int64(g.faker.Number(1, 100000))
	start := g.faker.DateRange(time.Now().AddDate(-2, 0, 0), time.Now())
	return Record{
		RowNumber:    rowNumber,
		Kind:         KindRoyalty,
		Format:       "royalty_statement",
		Title:        title,
		Counterparty: g.faker.Company(),
		Category:     g.faker.RandomString([]string{"performance", "mechanical", "sync", "print", "digital"}),
		Territory:    g.faker.CountryAbr(),
		Amount:       &amount,
		Currency:     "USD",
		Units:        &units,
		Period:       start.Format("2006-01"),
	}
}

// Corpus returns existing catalog entities built from records.
func (g *TestDataGenerator) Corpus(records []Record) []ExistingEntity {
	out := make([]ExistingEntity, 0, len(records))
	for _, r := range records {
		var isrcs []string
		for _, rec := range r.Recordings {
			isrcs = append(isrcs, rec.ISRC)
		}
		out = append(out, ExistingEntity{
			ID:           uuid.NewString(),
			Kind:         r.Kind,
			Title:        r.Title,
			AltTitles:    r.AltTitles,
			Counterparty: r.Counterparty,
			ExternalID:   r.ExternalID,
			Writers:      r.Writers,
			ISRCs:        isrcs,
		})
	}
	return out
}
