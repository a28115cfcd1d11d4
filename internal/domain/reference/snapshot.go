package reference

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/labreview/labreview/pkg/labmodels"
)

// ConversionEntry is the serialized form of a ConversionRule. Factor is kept
// as a decimal string so no precision is lost on load.
type ConversionEntry struct {
	CanonicalName string  `yaml:"canonical_name"`
	SourceUnit    string  `yaml:"source_unit"`
	TargetUnit    string  `yaml:"target_unit"`
	Factor        string  `yaml:"factor"`
	Confidence    float64 `yaml:"confidence"`
}

// Data is the full content of the reference tables.
type Data struct {
	Parameters   []CanonicalParameter `yaml:"parameters"`
	Mappings     []CanonicalMapping   `yaml:"mappings"`
	Conversions  []ConversionEntry    `yaml:"conversions"`
	Ranges       []ReferenceRange     `yaml:"ranges"`
	Interactions []InteractionRule    `yaml:"interactions"`
}

type conversionKey struct {
	canonical, source, target string
}

type rangeKey struct {
	canonical, unit string
}

// Snapshot is an immutable in-memory Store. A batch resolved against one
// Snapshot sees a single consistent version of the reference data.
type Snapshot struct {
	units        map[string]string
	mappings     map[string][]CanonicalMapping
	conversions  map[conversionKey]ConversionRule
	ranges       map[rangeKey][]ReferenceRange
	interactions map[string][]InteractionRule
}

var _ Store = (*Snapshot)(nil)

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

// NewSnapshot indexes data, rejecting malformed rows.
func NewSnapshot(data Data) (*Snapshot, error) {
	s := &Snapshot{
		units:        make(map[string]string, len(data.Parameters)),
		mappings:     make(map[string][]CanonicalMapping),
		conversions:  make(map[conversionKey]ConversionRule),
		ranges:       make(map[rangeKey][]ReferenceRange),
		interactions: make(map[string][]InteractionRule),
	}

	for _, p := range data.Parameters {
		if p.CanonicalName == "" {
			return nil, fmt.Errorf("canonical parameter with empty name")
		}
		s.units[p.CanonicalName] = p.StandardUnit
	}

	for _, m := range data.Mappings {
		if !validConfidence(m.Confidence) {
			return nil, fmt.Errorf("mapping %q: confidence %v out of range", m.VariantName, m.Confidence)
		}
		key := NormalizeName(m.VariantName)
		s.mappings[key] = append(s.mappings[key], m)
	}
	for key := range s.mappings {
		sortMappings(s.mappings[key])
	}

	for _, c := range data.Conversions {
		factor, err := decimal.NewFromString(c.Factor)
		if err != nil {
			return nil, fmt.Errorf("conversion %s %s->%s: factor %q: %w", c.CanonicalName, c.SourceUnit, c.TargetUnit, c.Factor, err)
		}
		if !factor.IsPositive() {
			return nil, fmt.Errorf("conversion %s %s->%s: factor must be positive", c.CanonicalName, c.SourceUnit, c.TargetUnit)
		}
		if !validConfidence(c.Confidence) {
			return nil, fmt.Errorf("conversion %s %s->%s: confidence %v out of range", c.CanonicalName, c.SourceUnit, c.TargetUnit, c.Confidence)
		}
		key := conversionKey{c.CanonicalName, NormalizeUnit(c.SourceUnit), NormalizeUnit(c.TargetUnit)}
		if prev, dup := s.conversions[key]; dup && prev.Confidence >= c.Confidence {
			continue
		}
		s.conversions[key] = ConversionRule{
			CanonicalName: c.CanonicalName,
			SourceUnit:    c.SourceUnit,
			TargetUnit:    c.TargetUnit,
			Factor:        factor,
			Confidence:    c.Confidence,
		}
	}

	for _, r := range data.Ranges {
		if r.RangeMin >= r.RangeMax {
			return nil, fmt.Errorf("range %s [%v, %v]: min must be below max", r.CanonicalName, r.RangeMin, r.RangeMax)
		}
		if !validConfidence(r.Confidence) {
			return nil, fmt.Errorf("range %s: confidence %v out of range", r.CanonicalName, r.Confidence)
		}
		key := rangeKey{r.CanonicalName, NormalizeUnit(r.StandardUnit)}
		s.ranges[key] = append(s.ranges[key], r)
	}

	for _, i := range data.Interactions {
		s.interactions[i.CanonicalName] = append(s.interactions[i.CanonicalName], i)
	}

	return s, nil
}

func sortMappings(ms []CanonicalMapping) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Confidence != ms[j].Confidence {
			return ms[i].Confidence > ms[j].Confidence
		}
		return ms[i].CanonicalName < ms[j].CanonicalName
	})
}

// LoadYAML decodes a reference seed document.
func LoadYAML(r io.Reader) (*Snapshot, error) {
	var data Data
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode reference yaml: %w", err)
	}
	return NewSnapshot(data)
}

// LoadYAMLFile opens path and calls LoadYAML.
func LoadYAMLFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference file: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

func (s *Snapshot) ResolveName(_ context.Context, variant string) ([]CanonicalMapping, error) {
	ms := s.mappings[NormalizeName(variant)]
	out := make([]CanonicalMapping, len(ms))
	copy(out, ms)
	return out, nil
}

func (s *Snapshot) StandardUnit(_ context.Context, canonical string) (string, error) {
	unit, ok := s.units[canonical]
	if !ok {
		return "", fmt.Errorf("standard unit for %s: %w", canonical, labmodels.ErrConversionNotFound)
	}
	return unit, nil
}

func (s *Snapshot) ResolveUnit(_ context.Context, canonical, sourceUnit, targetUnit string) (*ConversionRule, error) {
	rule, ok := s.conversions[conversionKey{canonical, NormalizeUnit(sourceUnit), NormalizeUnit(targetUnit)}]
	if !ok {
		return nil, fmt.Errorf("%s %s->%s: %w", canonical, sourceUnit, targetUnit, labmodels.ErrConversionNotFound)
	}
	return &rule, nil
}

func (s *Snapshot) ResolveRanges(_ context.Context, canonical, standardUnit string) ([]ReferenceRange, error) {
	rs := s.ranges[rangeKey{canonical, NormalizeUnit(standardUnit)}]
	out := make([]ReferenceRange, len(rs))
	copy(out, rs)
	return out, nil
}

func (s *Snapshot) Interactions(_ context.Context, canonical string) ([]InteractionRule, error) {
	is := s.interactions[canonical]
	out := make([]InteractionRule, len(is))
	copy(out, is)
	return out, nil
}

// Canonicals returns the known canonical names in sorted order.
func (s *Snapshot) Canonicals() []string {
	out := make([]string, 0, len(s.units))
	for name := range s.units {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
