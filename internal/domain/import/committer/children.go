package committer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/pkg/money"
)

// Children lists the sub-entities written after a record's parent row:
// writer and publisher shares and recordings for works, and for royalty lines
// the amount allocated across the writer shares in minor units.
func Children(rec catalog.Record) ([]catalog.Child, error) {
	var out []catalog.Child
	for _, w := range rec.Writers {
		out = append(out, shareChild(catalog.ChildWriter, w))
	}
	for _, p := range rec.Publishers {
		out = append(out, shareChild(catalog.ChildPublisher, p))
	}
	for _, r := range rec.Recordings {
		title := r.Title
		if title == "" {
			title = rec.Title
		}
		out = append(out, catalog.Child{
			Type:        catalog.ChildRecording,
			Name:        r.Artist,
			Title:       title,
			ISRC:        r.ISRC,
			ReleaseDate: r.ReleaseDate,
		})
	}

	if rec.Kind != catalog.KindRoyalty || rec.Amount == nil || len(rec.Writers) == 0 {
		return out, nil
	}
	allocations, err := allocate(rec)
	if err != nil {
		return nil, err
	}
	return append(out, allocations...), nil
}

// ChildrenDigest is an order-independent signature of a sub-entity set.
// Empty sets have no digest.
func ChildrenDigest(children []catalog.Child) string {
	if len(children) == 0 {
		return ""
	}
	lines := make([]string, len(children))
	for i, c := range children {
		lines[i] = strings.Join([]string{
			string(c.Type),
			catalog.NormalizeKey(c.Name),
			strings.TrimSpace(c.IPI),
			strings.ToLower(strings.TrimSpace(c.Role)),
			c.Percent.String(),
			catalog.NormalizeKey(c.Title),
			strings.ToUpper(strings.TrimSpace(c.ISRC)),
			c.ReleaseDate,
			strconv.FormatInt(c.AmountMinor, 10),
			c.Currency,
		}, "\x1f")
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func shareChild(t catalog.ChildType, s catalog.Share) catalog.Child {
	return catalog.Child{
		Type:    t,
		Name:    s.Name,
		IPI:     s.IPI,
		Role:    s.Role,
		Percent: s.Percent,
	}
}

func allocate(rec catalog.Record) ([]catalog.Child, error) {
	total, err := money.NewFromDecimal(*rec.Amount, rec.Currency)
	if err != nil {
		return nil, fmt.Errorf("royalty amount: %w", err)
	}

	percents := make([]decimal.Decimal, len(rec.Writers))
	for i, w := range rec.Writers {
		percents[i] = w.Percent
	}
	parts, err := total.AllocateShares(percents)
	if err != nil {
		return nil, fmt.Errorf("allocate royalty: %w", err)
	}

	out := make([]catalog.Child, 0, len(parts))
	for i, part := range parts {
		out = append(out, catalog.Child{
			Type:        catalog.ChildAllocation,
			Name:        rec.Writers[i].Name,
			Percent:     rec.Writers[i].Percent,
			AmountMinor: part.Amount(),
			Currency:    part.Currency(),
		})
	}
	return out, nil
}
