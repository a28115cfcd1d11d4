package reference

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CanonicalParameter declares a canonical name and its standard unit.
type CanonicalParameter struct {
	CanonicalName string `json:"canonical_name" yaml:"canonical_name"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	StandardUnit  string `json:"standard_unit" yaml:"standard_unit"`
}

// CanonicalMapping maps a source-specific name variant to a canonical name.
type CanonicalMapping struct {
	VariantName   string  `json:"variant_name" yaml:"variant_name"`
	CanonicalName string  `json:"canonical_name" yaml:"canonical_name"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
}

// ConversionRule converts a source unit to a target unit for one parameter.
type ConversionRule struct {
	CanonicalName string          `json:"canonical_name"`
	SourceUnit    string          `json:"source_unit"`
	TargetUnit    string          `json:"target_unit"`
	Factor        decimal.Decimal `json:"factor"`
	Confidence    float64         `json:"confidence"`
}

// ReferenceRange is a candidate normal range, optionally constrained by
// patient age and gender.
type ReferenceRange struct {
	CanonicalName string  `json:"canonical_name" yaml:"canonical_name"`
	StandardUnit  string  `json:"standard_unit" yaml:"standard_unit"`
	RangeMin      float64 `json:"range_min" yaml:"range_min"`
	RangeMax      float64 `json:"range_max" yaml:"range_max"`
	AgeMin        *int    `json:"age_min,omitempty" yaml:"age_min,omitempty"`
	AgeMax        *int    `json:"age_max,omitempty" yaml:"age_max,omitempty"`
	Gender        *string `json:"gender,omitempty" yaml:"gender,omitempty"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
}

// Constraints returns the number of non-null demographic constraints.
func (r *ReferenceRange) Constraints() int {
	n := 0
	if r.AgeMin != nil {
		n++
	}
	if r.AgeMax != nil {
		n++
	}
	if r.Gender != nil {
		n++
	}
	return n
}

// InteractionRule names a medication known to interfere with a parameter.
type InteractionRule struct {
	CanonicalName  string `json:"canonical_name" yaml:"canonical_name"`
	MedicationTerm string `json:"medication_term" yaml:"medication_term"`
	Note           string `json:"note" yaml:"note"`
}

// NormalizeName trims, lower-cases and collapses inner whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeUnit is the comparison key for unit strings.
func NormalizeUnit(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SameUnit reports whether two unit strings denote the same unit.
func SameUnit(a, b string) bool {
	return NormalizeUnit(a) == NormalizeUnit(b)
}
