package normalization

import (
	"context"
	"testing"
	"time"

	"github.com/labreview/labreview/internal/domain/reference"
	"github.com/labreview/labreview/pkg/labmodels"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func testData() reference.Data {
	return reference.Data{
		Parameters: []reference.CanonicalParameter{
			{CanonicalName: "glucose_fasting", DisplayName: "Fasting Blood Glucose", StandardUnit: "mmol/L"},
			{CanonicalName: "hemoglobin", DisplayName: "Hemoglobin", StandardUnit: "g/dL"},
			{CanonicalName: "hemoglobin_a1c", DisplayName: "Hemoglobin A1c", StandardUnit: "%"},
			{CanonicalName: "creatinine", DisplayName: "Creatinine", StandardUnit: "mg/dL"},
		},
		Mappings: []reference.CanonicalMapping{
			{VariantName: "blood glucose", CanonicalName: "glucose_fasting", Confidence: 0.9},
			{VariantName: "hemoglobin", CanonicalName: "hemoglobin", Confidence: 1.0},
			{VariantName: "hba1c", CanonicalName: "hemoglobin_a1c", Confidence: 1.0},
			{VariantName: "creat", CanonicalName: "creatinine", Confidence: 0.4},
		},
		Conversions: []reference.ConversionEntry{
			{CanonicalName: "glucose_fasting", SourceUnit: "mg/dL", TargetUnit: "mmol/L", Factor: "0.0555", Confidence: 1.0},
			{CanonicalName: "hemoglobin", SourceUnit: "g/L", TargetUnit: "g/dL", Factor: "0.1", Confidence: 1.0},
			{CanonicalName: "creatinine", SourceUnit: "umol/L", TargetUnit: "mg/dL", Factor: "0.01131", Confidence: 0.5},
		},
		Ranges: []reference.ReferenceRange{
			{CanonicalName: "glucose_fasting", StandardUnit: "mmol/L", RangeMin: 3.9, RangeMax: 5.6, Confidence: 1.0},
			{CanonicalName: "hemoglobin", StandardUnit: "g/dL", RangeMin: 12.0, RangeMax: 17.5, Confidence: 0.8},
			{CanonicalName: "hemoglobin", StandardUnit: "g/dL", RangeMin: 13.5, RangeMax: 17.5, AgeMin: intPtr(18), Gender: strPtr("male"), Confidence: 1.0},
			{CanonicalName: "hemoglobin", StandardUnit: "g/dL", RangeMin: 11.0, RangeMax: 15.5, AgeMin: intPtr(0), AgeMax: intPtr(17), Confidence: 0.9},
			{CanonicalName: "hemoglobin_a1c", StandardUnit: "%", RangeMin: 4.0, RangeMax: 5.6, Confidence: 1.0},
			{CanonicalName: "creatinine", StandardUnit: "mg/dL", RangeMin: 0.6, RangeMax: 1.3, Confidence: 0.5},
		},
	}
}

func testSnapshot(t *testing.T) *reference.Snapshot {
	t.Helper()
	s, err := reference.NewSnapshot(testData())
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return s
}

func testRaw(name, value, unit string) labmodels.RawParameter {
	return labmodels.RawParameter{
		SourceParameterID: "p-1",
		UserID:            "user-1",
		Name:              name,
		Value:             value,
		Unit:              unit,
		ObservedAt:        time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		Source:            labmodels.SourceReport,
	}
}

// downStore fails every lookup as an unreachable backend would.
type downStore struct{}

func (downStore) ResolveName(context.Context, string) ([]reference.CanonicalMapping, error) {
	return nil, labmodels.ErrLookupStoreUnavailable
}
func (downStore) StandardUnit(context.Context, string) (string, error) {
	return "", labmodels.ErrLookupStoreUnavailable
}
func (downStore) ResolveUnit(context.Context, string, string, string) (*reference.ConversionRule, error) {
	return nil, labmodels.ErrLookupStoreUnavailable
}
func (downStore) ResolveRanges(context.Context, string, string) ([]reference.ReferenceRange, error) {
	return nil, labmodels.ErrLookupStoreUnavailable
}
func (downStore) Interactions(context.Context, string) ([]reference.InteractionRule, error) {
	return nil, labmodels.ErrLookupStoreUnavailable
}
