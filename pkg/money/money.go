// Package money provides currency-safe royalty amounts held in integer minor
// units, with ISO-4217 validation and share allocation.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	JPY = "JPY"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidAmount   = errors.New("invalid amount")
)

var hundred = decimal.NewFromInt(100)

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units.
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{m: money.New(amountMinor, currencyCode)}
}

// IsKnownCurrency reports whether code is an ISO-4217 currency go-money knows.
func IsKnownCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code != "" && money.GetCurrency(code) != nil
}

// NewFromDecimal converts a decimal amount into minor units of the currency,
// rounding half away from zero. Unknown currencies are rejected.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) (*Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	currency := money.GetCurrency(code)
	if currency == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, currencyCode)
	}
	multiplier := decimal.New(1, int32(currency.Fraction))
	return New(amount.Mul(multiplier).Round(0).IntPart(), code), nil
}

// ParseDecimal parses an amount as written in a statement: currency symbols,
// spaces and thousands separators are dropped. european selects 1.234,56.
// A trailing minus and accounting parentheses mark negatives.
func ParseDecimal(raw string, european bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}

	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	for _, sym := range []string{"US$", "$", "€", "£", "¥", "%"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	if european {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w %q", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// NewFromString parses a string amount in the given currency.
func NewFromString(amount string, currencyCode string, europeanFormat bool) (*Money, error) {
	d, err := ParseDecimal(amount, europeanFormat)
	if err != nil {
		return nil, err
	}
	return NewFromDecimal(d, currencyCode)
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// Add adds two Money values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}
	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	return m.ToDecimal().StringFixed(m.fraction())
}

// ToDecimal converts to decimal.Decimal for precise calculations
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -m.fraction())
}

func (m *Money) fraction() int32 {
	if m == nil || m.m == nil {
		return 2
	}
	return int32(m.m.Currency().Fraction)
}

// AllocateShares splits the amount across ownership percentages. When the
// shares total exactly 100 the whole amount is distributed without loss;
// otherwise each share receives its percentage and the remainder stays
// unallocated.
func (m *Money) AllocateShares(percents []decimal.Decimal) ([]*Money, error) {
	if m == nil || m.m == nil {
		return nil, errors.New("cannot allocate nil money")
	}
	if len(percents) == 0 {
		return nil, nil
	}

	total := decimal.Zero
	for _, p := range percents {
		if p.IsNegative() {
			return nil, fmt.Errorf("negative share %s", p)
		}
		total = total.Add(p)
	}

	result := make([]*Money, len(percents))
	if total.Equal(hundred) {
		ratios := make([]int, len(percents))
		for i, p := range percents {
			// basis points keep two decimals of precision
			ratios[i] = int(p.Mul(hundred).Round(0).IntPart())
		}
		parts, err := m.m.Allocate(ratios...)
		if err != nil {
			return nil, err
		}
		for i, p := range parts {
			result[i] = &Money{m: p}
		}
		return result, nil
	}

	amount := decimal.NewFromInt(m.m.Amount())
	for i, p := range percents {
		minor := amount.Mul(p).Div(hundred).Round(0).IntPart()
		result[i] = New(minor, m.Currency())
	}
	return result, nil
}
