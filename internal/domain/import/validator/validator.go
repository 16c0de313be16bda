// Package validator applies per-record rules to mapped catalog records.
// Every rule runs, so a row reports all of its problems at once.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.NewFromFloat(0.1)

	isrcPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}\d{7}$`)
	iswcPattern = regexp.MustCompile(`^T-?\d{3}\.?\d{3}\.?\d{3}-?\d$`)
)

// Categories accepted per record kind. The first entry is the default.
var Categories = map[catalog.Kind][]string{
	catalog.KindWork:     {"original", "arrangement", "adaptation", "public_domain", "translation"},
	catalog.KindContract: {"administration", "co_publishing", "publishing", "sub_publishing", "license", "sync", "recording"},
	catalog.KindRoyalty:  {"other", "performance", "mechanical", "sync", "print", "digital"},
}

// shape is the structural view of a record checked by validator/v10.
type shape struct {
	Title          string          `json:"title" validate:"required"`
	Counterparty   string          `json:"counterparty" validate:"required"`
	Currency       string          `json:"currency" validate:"omitempty,iso4217"`
	Units          *int64          `json:"units" validate:"omitempty,gte=0"`
	PostTermMonths *int            `json:"post_term_months" validate:"omitempty,gte=0,lte=600"`
	Writers        []shareShape    `json:"writers" validate:"dive"`
	Publishers     []shareShape    `json:"publishers" validate:"dive"`
	Recordings     []recordingItem `json:"recordings" validate:"dive"`
}

type shareShape struct {
	Name    string          `json:"name" validate:"required"`
	Percent decimal.Decimal `json:"percent" validate:"gte=0"`
}

type recordingItem struct {
	ISRC string `json:"isrc" validate:"omitempty,isrc"`
}

// Validator checks mapped records.
type Validator struct {
	v *validator.Validate
}

// New creates a validator with the catalog rules registered.
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Percentages are decimals; compare them as floats for gte/lte.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("isrc", func(fl validator.FieldLevel) bool {
		return isrcPattern.MatchString(fl.Field().String())
	})

	return &Validator{v: v}
}

// Validate derives missing values on rec and returns its errors and warnings.
// Derivations are never reported as failures.
func (v *Validator) Validate(rec *catalog.Record) catalog.ValidationResult {
	res := catalog.ValidationResult{RowNumber: rec.RowNumber}

	derive(rec)

	v.checkStructure(rec, &res)
	checkCategory(rec, &res)
	checkIssues(rec, &res)
	checkKindSpecific(rec, &res)
	checkSplits(rec, &res)
	checkFormats(rec, &res)

	return res
}

// ValidateAll validates every record in place, preserving order.
func (v *Validator) ValidateAll(records []catalog.Record) []catalog.ValidationResult {
	results := make([]catalog.ValidationResult, len(records))
	for i := range records {
		results[i] = v.Validate(&records[i])
	}
	return results
}

// Partition splits records into those eligible for commit and those with errors.
func Partition(records []catalog.Record, results []catalog.ValidationResult) (valid, invalid []catalog.Record) {
	for i, rec := range records {
		if i < len(results) && !results[i].Valid() {
			invalid = append(invalid, rec)
			continue
		}
		valid = append(valid, rec)
	}
	return valid, invalid
}

func derive(rec *catalog.Record) {
	if rec.Counterparty == "" && rec.Kind == catalog.KindWork {
		switch {
		case len(rec.Publishers) > 0:
			rec.Counterparty = rec.Publishers[0].Name
		case len(rec.Writers) > 0:
			rec.Counterparty = rec.Writers[0].Name
		}
	}

	if rec.Category == "" {
		if cats := Categories[rec.Kind]; len(cats) > 0 {
			rec.Category = cats[0]
		}
	} else {
		rec.Category = normalizeCategory(rec.Category)
	}

	if rec.PostTermEndDate == "" && rec.EndDate != "" && rec.PostTermMonths != nil && *rec.PostTermMonths >= 0 {
		if end, err := time.Parse(time.DateOnly, rec.EndDate); err == nil {
			rec.PostTermEndDate = end.AddDate(0, *rec.PostTermMonths, 0).Format(time.DateOnly)
		}
	}
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.NewReplacer("-", "_", " ", "_").Replace(c)
	return c
}

func (v *Validator) checkStructure(rec *catalog.Record, res *catalog.ValidationResult) {
	s := shape{
		Title:          rec.Title,
		Counterparty:   rec.Counterparty,
		Currency:       rec.Currency,
		Units:          rec.Units,
		PostTermMonths: rec.PostTermMonths,
	}
	for _, w := range rec.Writers {
		s.Writers = append(s.Writers, shareShape{Name: w.Name, Percent: w.Percent})
	}
	for _, p := range rec.Publishers {
		s.Publishers = append(s.Publishers, shareShape{Name: p.Name, Percent: p.Percent})
	}
	for _, r := range rec.Recordings {
		if r.ISRC != "" {
			s.Recordings = append(s.Recordings, recordingItem{ISRC: r.ISRC})
		}
	}

	err := v.v.Struct(s)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		res.AddError("%v", err)
		return
	}
	for _, e := range fieldErrs {
		res.AddError("%s %s", fieldPath(e), friendlyMessage(e))
	}
}

// fieldPath renders "writers[1].percent" from the validator namespace.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "iso4217":
		return fmt.Sprintf("has unknown currency %q", e.Value())
	case "isrc":
		return fmt.Sprintf("%q is not a valid ISRC", e.Value())
	case "gte":
		if e.Param() == "0" {
			return "must not be negative"
		}
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

func checkCategory(rec *catalog.Record, res *catalog.ValidationResult) {
	allowed := Categories[rec.Kind]
	if rec.Category == "" || len(allowed) == 0 {
		return
	}
	if !slices.Contains(allowed, rec.Category) {
		sorted := slices.Clone(allowed)
		slices.Sort(sorted)
		res.AddError("category %q must be one of: %s", rec.Category, strings.Join(sorted, ", "))
	}
}

func checkIssues(rec *catalog.Record, res *catalog.ValidationResult) {
	for _, is := range rec.Issues {
		col := is.Column
		if col == "" {
			col = is.Field
		}
		res.AddError("%s: %s (%q)", col, is.Message, is.Value)
	}
}

func checkKindSpecific(rec *catalog.Record, res *catalog.ValidationResult) {
	switch rec.Kind {
	case catalog.KindRoyalty:
		if rec.Amount == nil && !hasIssue(rec, "amount") {
			res.AddError("amount is required")
		}
	case catalog.KindContract:
		if rec.StartDate != "" && rec.EndDate != "" && rec.EndDate < rec.StartDate {
			res.AddWarning("end date %s is before start date %s", rec.EndDate, rec.StartDate)
		}
	}
}

func hasIssue(rec *catalog.Record, field string) bool {
	for _, is := range rec.Issues {
		if is.Field == field {
			return true
		}
	}
	return false
}

// checkSplits enforces the per-group ownership total. Over 100% plus the
// rounding tolerance is an error; partial or missing splits only warn.
func checkSplits(rec *catalog.Record, res *catalog.ValidationResult) {
	groups := rec.SplitGroups()
	if rec.Kind == catalog.KindWork && len(rec.Writers) == 0 {
		res.AddWarning("writers missing: splits may not total 100%%")
	}

	for _, name := range []string{"writers", "publishers"} {
		shares, ok := groups[name]
		if !ok {
			continue
		}
		total := decimal.Zero
		missing := 0
		for _, s := range shares {
			if !s.HasPercent {
				missing++
				continue
			}
			total = total.Add(s.Percent)
		}
		switch {
		case total.GreaterThan(hundred.Add(tolerance)):
			res.AddError("%s total %s%% exceeds 100%%", name, total.String())
		case missing == len(shares):
			res.AddWarning("%s have no percentages: splits may not total 100%%", name)
		case missing > 0 || total.LessThan(hundred):
			res.AddWarning("%s total %s%%: splits may not total 100%%", name, total.String())
		}
	}
}

func checkFormats(rec *catalog.Record, res *catalog.ValidationResult) {
	if rec.Kind == catalog.KindWork && rec.ExternalID != "" && !iswcPattern.MatchString(rec.ExternalID) {
		res.AddWarning("external id %q does not look like an ISWC", rec.ExternalID)
	}
}
