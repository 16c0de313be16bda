package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/pkg/money"
)

var errUnparsable = errors.New("unparsable value")

// Layouts tried in order before the ambiguous slash forms.
var fixedDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"20060102",
	"2-Jan-2006",
	"2-Jan-06",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
}

var (
	monthFirstLayouts = []string{"1/2/2006", "1/2/06", "1-2-2006"}
	dayFirstLayouts   = []string{"2/1/2006", "2/1/06", "2-1-2006"}
	dottedLayouts     = []string{"2.1.2006", "2.1.06"}

	slashDate = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2}|\d{4})$`)
	serialNum = regexp.MustCompile(`^\d{5}(\.\d+)?$`)

	periodMonth   = regexp.MustCompile(`^(\d{4})[-/.]?(\d{1,2})$`)
	periodMonthUS = regexp.MustCompile(`^(\d{1,2})[-/.](\d{4})$`)
	periodQuarter = regexp.MustCompile(`^(\d{4})\s*[-/ ]?\s*[qQ]([1-4])$`)
	periodQFirst  = regexp.MustCompile(`^[qQ]([1-4])\s*[-/ ]?\s*(\d{4})$`)
	periodHalf    = regexp.MustCompile(`^(\d{4})\s*[-/ ]?\s*[hH]([12])$`)
	periodYear    = regexp.MustCompile(`^(\d{4})$`)

	// "Name (50%)", "Name (50)", "Name 50%", "Name - 50%".
	shareParens = regexp.MustCompile(`^(.*?)\s*\(\s*(\d+(?:[.,]\d+)?)\s*%?\s*\)$`)
	sharePct    = regexp.MustCompile(`^(.*?)[\s\-:]+(\d+(?:[.,]\d+)?)\s*%$`)

	isrcClean = regexp.MustCompile(`[\s\-]`)
)

// probeDayFirst looks for a slash date whose first component cannot be a
// month. Without such evidence dates are read month first.
func probeDayFirst(samples []string) bool {
	for _, s := range samples {
		m := slashDate.FindStringSubmatch(strings.TrimSpace(s))
		if m == nil {
			continue
		}
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		if first > 12 && second <= 12 {
			return true
		}
		if second > 12 && first <= 12 {
			return false
		}
	}
	return false
}

// parseDate returns the ISO form of a date cell.
func parseDate(raw string, dayFirst bool) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errUnparsable
	}

	if serialNum.MatchString(s) {
		serial, err := strconv.ParseFloat(s, 64)
		if err == nil && serial >= 20000 && serial <= 80000 {
			t, err := excelize.ExcelDateToTime(serial, false)
			if err == nil {
				return t.Format(time.DateOnly), nil
			}
		}
	}

	for _, layout := range fixedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}

	layouts := monthFirstLayouts
	if dayFirst {
		layouts = dayFirstLayouts
	}
	layouts = append(append([]string{}, layouts...), dottedLayouts...)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}
	return "", fmt.Errorf("%w: date %q", errUnparsable, raw)
}

func parseDecimal(raw string, european bool) (decimal.Decimal, error) {
	return money.ParseDecimal(raw, european)
}

// parseInt accepts whole numbers written with thousands separators.
func parseInt(raw string, european bool) (int64, error) {
	d, err := money.ParseDecimal(raw, european)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q is not a whole number", errUnparsable, raw)
	}
	return d.IntPart(), nil
}

// parsePeriod normalizes statement periods to YYYY, YYYY-MM, YYYY-Qn or YYYY-Hn.
func parsePeriod(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if m := periodQuarter.FindStringSubmatch(s); m != nil {
		return m[1] + "-Q" + m[2], nil
	}
	if m := periodQFirst.FindStringSubmatch(s); m != nil {
		return m[2] + "-Q" + m[1], nil
	}
	if m := periodHalf.FindStringSubmatch(s); m != nil {
		return m[1] + "-H" + m[2], nil
	}
	if m := periodYear.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if m := periodMonth.FindStringSubmatch(s); m != nil {
		return formatMonth(m[1], m[2])
	}
	if m := periodMonthUS.FindStringSubmatch(s); m != nil {
		return formatMonth(m[2], m[1])
	}
	for _, layout := range []string{"Jan 2006", "January 2006", "Jan-2006", "Jan-06"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01"), nil
		}
	}
	return "", fmt.Errorf("%w: period %q", errUnparsable, raw)
}

func formatMonth(year, month string) (string, error) {
	m, _ := strconv.Atoi(month)
	if m < 1 || m > 12 {
		return "", fmt.Errorf("%w: month %s", errUnparsable, month)
	}
	return fmt.Sprintf("%s-%02d", year, m), nil
}

// splitList splits a multi-value cell on ';', '|' or '/' and drops blanks.
func splitList(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	parts := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ';' || r == '|' || r == '/' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseNamedShares reads entries such as "Jane Doe (50%)". Entries without a
// percentage keep HasPercent false.
func parseNamedShares(entries []string, european bool, bad func(string)) []catalog.Share {
	shares := make([]catalog.Share, 0, len(entries))
	for _, e := range entries {
		m := shareParens.FindStringSubmatch(e)
		if m == nil {
			m = sharePct.FindStringSubmatch(e)
		}
		if m == nil || strings.TrimSpace(m[1]) == "" {
			shares = append(shares, catalog.Share{Name: e})
			continue
		}
		d, err := parseDecimal(m[2], european || strings.Contains(m[2], ","))
		if err != nil {
			bad(e)
			shares = append(shares, catalog.Share{Name: strings.TrimSpace(m[1])})
			continue
		}
		shares = append(shares, catalog.Share{
			Name:       strings.TrimSpace(m[1]),
			Percent:    d,
			HasPercent: true,
		})
	}
	return shares
}

func normalizeISRC(code string) string {
	return strings.ToUpper(isrcClean.ReplaceAllString(code, ""))
}
