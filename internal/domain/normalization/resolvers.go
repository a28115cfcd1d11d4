package normalization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/labreview/labreview/internal/domain/reference"
	"github.com/labreview/labreview/pkg/labmodels"
)

// conversionPlaces is the fixed rounding applied to converted values.
const conversionPlaces = 6

// storeErr keeps only infrastructure failures; everything else is a miss.
func storeErr(err error) error {
	if errors.Is(err, labmodels.ErrLookupStoreUnavailable) {
		return err
	}
	return nil
}

// NameResolver maps a raw parameter name to its canonical name.
type NameResolver struct {
	store reference.Store
}

func NewNameResolver(store reference.Store) *NameResolver {
	return &NameResolver{store: store}
}

// Resolve picks the highest-confidence mapping for the normalized name; ties
// go to the lexicographically smallest canonical name.
func (r *NameResolver) Resolve(ctx context.Context, rawName string) (Outcome[NameMatch], error) {
	name := reference.NormalizeName(rawName)
	if name == "" {
		return Unresolved[NameMatch]{Reason: ReasonNoMapping}, nil
	}

	candidates, err := r.store.ResolveName(ctx, name)
	if err != nil {
		if e := storeErr(err); e != nil {
			return nil, fmt.Errorf("resolve name %q: %w", name, e)
		}
		return Unresolved[NameMatch]{Reason: ReasonNoMapping}, nil
	}
	if len(candidates) == 0 {
		return Unresolved[NameMatch]{Reason: ReasonNoMapping}, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence ||
			(c.Confidence == best.Confidence && c.CanonicalName < best.CanonicalName) {
			best = c
		}
	}
	return Resolved[NameMatch]{
		Value:      NameMatch{CanonicalName: best.CanonicalName, VariantName: best.VariantName},
		Confidence: clamp01(best.Confidence),
	}, nil
}

// UnitConverter expresses a value in its canonical parameter's standard unit.
type UnitConverter struct {
	store reference.Store
}

func NewUnitConverter(store reference.Store) *UnitConverter {
	return &UnitConverter{store: store}
}

// Convert returns the converted value. A unit already equal to the standard
// unit converts with factor 1 and confidence 1 without consulting the rules.
func (c *UnitConverter) Convert(ctx context.Context, canonical string, value decimal.Decimal, sourceUnit string) (Outcome[Conversion], error) {
	if strings.TrimSpace(sourceUnit) == "" {
		return Unresolved[Conversion]{Reason: ReasonMissingUnit}, nil
	}

	standard, err := c.store.StandardUnit(ctx, canonical)
	if err != nil {
		if e := storeErr(err); e != nil {
			return nil, fmt.Errorf("standard unit %s: %w", canonical, e)
		}
		return Unresolved[Conversion]{Reason: ReasonNoStandardUnit}, nil
	}
	if strings.TrimSpace(standard) == "" {
		return Unresolved[Conversion]{Reason: ReasonNoStandardUnit}, nil
	}

	if reference.SameUnit(sourceUnit, standard) {
		return Resolved[Conversion]{
			Value:      Conversion{Value: value, StandardUnit: standard, Factor: decimal.NewFromInt(1)},
			Confidence: 1,
		}, nil
	}

	rule, err := c.store.ResolveUnit(ctx, canonical, sourceUnit, standard)
	if err != nil {
		if e := storeErr(err); e != nil {
			return nil, fmt.Errorf("resolve unit %s: %w", canonical, e)
		}
		return Unresolved[Conversion]{Reason: ReasonNoConversion}, nil
	}

	return Resolved[Conversion]{
		Value: Conversion{
			Value:        value.Mul(rule.Factor).Round(conversionPlaces),
			StandardUnit: standard,
			Factor:       rule.Factor,
		},
		Confidence: clamp01(rule.Confidence),
	}, nil
}

// RangeResolver selects the reference range that best fits a patient.
type RangeResolver struct {
	store reference.Store
}

func NewRangeResolver(store reference.Store) *RangeResolver {
	return &RangeResolver{store: store}
}

// Resolve filters the candidate ranges to those whose every non-null
// constraint is satisfied, then prefers more constraints, a narrower age
// span, higher confidence and finally the lower range_min.
func (r *RangeResolver) Resolve(ctx context.Context, canonical, standardUnit string, patient labmodels.PatientContext) (Outcome[RangeMatch], error) {
	candidates, err := r.store.ResolveRanges(ctx, canonical, standardUnit)
	if err != nil {
		if e := storeErr(err); e != nil {
			return nil, fmt.Errorf("resolve ranges %s: %w", canonical, e)
		}
		return Unresolved[RangeMatch]{Reason: ReasonNoRange}, nil
	}
	if len(candidates) == 0 {
		return Unresolved[RangeMatch]{Reason: ReasonNoRange}, nil
	}

	var fit []reference.ReferenceRange
	for _, c := range candidates {
		if satisfies(c, patient) {
			fit = append(fit, c)
		}
	}
	if len(fit) == 0 {
		return Unresolved[RangeMatch]{Reason: ReasonNoMatchingRange}, nil
	}

	sort.SliceStable(fit, func(i, j int) bool {
		a, b := fit[i], fit[j]
		if a.Constraints() != b.Constraints() {
			return a.Constraints() > b.Constraints()
		}
		if sa, sb := ageSpan(a), ageSpan(b); sa != sb {
			return sa < sb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.RangeMin < b.RangeMin
	})

	best := fit[0]
	return Resolved[RangeMatch]{Value: RangeMatch{Range: best}, Confidence: clamp01(best.Confidence)}, nil
}

func satisfies(r reference.ReferenceRange, p labmodels.PatientContext) bool {
	if r.AgeMin != nil && (p.Age == nil || *p.Age < *r.AgeMin) {
		return false
	}
	if r.AgeMax != nil && (p.Age == nil || *p.Age > *r.AgeMax) {
		return false
	}
	if r.Gender != nil && (p.Gender == nil || !strings.EqualFold(strings.TrimSpace(*p.Gender), strings.TrimSpace(*r.Gender))) {
		return false
	}
	return true
}

func ageSpan(r reference.ReferenceRange) int {
	if r.AgeMin == nil || r.AgeMax == nil {
		return math.MaxInt
	}
	return *r.AgeMax - *r.AgeMin
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
