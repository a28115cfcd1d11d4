package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labreview/labreview/internal/domain/reference"
	"github.com/labreview/labreview/pkg/labmodels"
)

func f64(v float64) *float64 { return &v }

func param(value float64, min, max *float64) *labmodels.NormalizedParameter {
	return &labmodels.NormalizedParameter{
		ID:                uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		UserID:            "user-1",
		CanonicalName:     "glucose_fasting",
		NormalizedValue:   value,
		StandardUnit:      "mg/dL",
		ReferenceRangeMin: min,
		ReferenceRangeMax: max,
	}
}

func trend(dir labmodels.Direction, points int, rel float64) *labmodels.Trend {
	t := &labmodels.Trend{CanonicalName: "glucose_fasting", Direction: dir, RelativeChange: rel}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < points; i++ {
		t.DataPoints = append(t.DataPoints, labmodels.DataPoint{ObservedAt: base.AddDate(0, i, 0)})
	}
	return t
}

func TestDetectMismatch(t *testing.T) {
	tests := []struct {
		name     string
		p        *labmodels.NormalizedParameter
		status   labmodels.MismatchStatus
		severity float64
	}{
		{"no range", param(117, nil, nil), labmodels.MismatchIndeterminate, 0},
		{"high", param(117, f64(70), f64(100)), labmodels.MismatchHigh, 0.566667},
		{"low", param(55, f64(70), f64(100)), labmodels.MismatchLow, 0.5},
		{"in range", param(85, f64(70), f64(100)), labmodels.MismatchInRange, 0},
		{"at lower bound", param(70, f64(70), f64(100)), labmodels.MismatchInRange, 0},
		{"at upper bound", param(100, f64(70), f64(100)), labmodels.MismatchInRange, 0},
		{"zero width", param(5, f64(4), f64(4)), labmodels.MismatchHigh, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DetectMismatch(tt.p)
			if m.Status != tt.status {
				t.Errorf("status = %s, want %s", m.Status, tt.status)
			}
			if m.Severity != tt.severity {
				t.Errorf("severity = %v, want %v", m.Severity, tt.severity)
			}
			if tt.status == labmodels.MismatchIndeterminate && m.ReferenceRange != nil {
				t.Error("indeterminate mismatch must not carry a range")
			}
		})
	}
}

func TestClassify_Rules(t *testing.T) {
	c := NewClassifier(0)
	inRange := labmodels.Mismatch{Status: labmodels.MismatchInRange, Value: 95, ReferenceRange: &labmodels.Range{Min: 70, Max: 100}}
	high := labmodels.Mismatch{Status: labmodels.MismatchHigh, Value: 117, ReferenceRange: &labmodels.Range{Min: 70, Max: 100}}
	low := labmodels.Mismatch{Status: labmodels.MismatchLow, Value: 60, ReferenceRange: &labmodels.Range{Min: 70, Max: 100}}

	tests := []struct {
		name      string
		in        Input
		level     labmodels.RiskLevel
		rule      int
		rationale string
	}{
		{"critical wins", Input{Critical: true, Mismatch: inRange}, labmodels.RiskCritical, 1, RationaleCritical},
		{"high worsening", Input{Mismatch: high, Trend: trend(labmodels.DirectionIncreasing, 3, 0.4)}, labmodels.RiskHigh, 2, RationaleWorseningTrend},
		{"low worsening", Input{Mismatch: low, Trend: trend(labmodels.DirectionDecreasing, 4, -0.3)}, labmodels.RiskHigh, 2, RationaleWorseningTrend},
		{"high worsening with two points", Input{Mismatch: high, Trend: trend(labmodels.DirectionIncreasing, 2, 0.4)}, labmodels.RiskModerate, 3, RationaleOutOfRange},
		{"high improving", Input{Mismatch: high, Trend: trend(labmodels.DirectionDecreasing, 5, -0.4)}, labmodels.RiskModerate, 3, RationaleOutOfRange},
		{"high without trend", Input{Mismatch: high}, labmodels.RiskModerate, 3, RationaleOutOfRange},
		{"in range rising fast near max", Input{Mismatch: inRange, Trend: trend(labmodels.DirectionIncreasing, 2, 0.3)}, labmodels.RiskModerate, 4, RationaleRapidChange},
		{"in range rising slowly", Input{Mismatch: inRange, Trend: trend(labmodels.DirectionIncreasing, 2, 0.1)}, labmodels.RiskLow, 5, RationaleNoConcern},
		{"in range falling away from max", Input{Mismatch: inRange, Trend: trend(labmodels.DirectionDecreasing, 2, -0.5)}, labmodels.RiskLow, 5, RationaleNoConcern},
		{"in range stable", Input{Mismatch: inRange, Trend: trend(labmodels.DirectionStable, 4, 0.01)}, labmodels.RiskLow, 5, RationaleNoConcern},
		{"indeterminate", Input{Mismatch: labmodels.Mismatch{Status: labmodels.MismatchIndeterminate}}, labmodels.RiskLow, 5, RationaleInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Parameter = param(tt.in.Mismatch.Value, nil, nil)
			f := c.Classify(tt.in)
			if f.RiskLevel != tt.level || f.Rule != tt.rule {
				t.Errorf("got %s (rule %d), want %s (rule %d)", f.RiskLevel, f.Rule, tt.level, tt.rule)
			}
			if f.Rationale != tt.rationale {
				t.Errorf("rationale = %q", f.Rationale)
			}
			if f.ContributingMismatch == nil {
				t.Error("expected contributing mismatch")
			}
			if f.NormalizedParameterID != tt.in.Parameter.ID || f.UserID != "user-1" {
				t.Errorf("flag not linked to parameter: %+v", f)
			}
		})
	}
}

func TestClassify_DeterministicID(t *testing.T) {
	c := NewClassifier(0.25)
	in := Input{Parameter: param(117, f64(70), f64(100)), Mismatch: labmodels.Mismatch{Status: labmodels.MismatchHigh}}
	a, b := c.Classify(in), c.Classify(in)
	if a.ID != b.ID || a.ID == uuid.Nil {
		t.Errorf("expected equal non-nil IDs, got %s and %s", a.ID, b.ID)
	}
}

// Every combination of rule inputs: high and critical always require approval.
func TestClassify_EscalatedRequiresApproval(t *testing.T) {
	c := NewClassifier(0.25)
	statuses := []labmodels.MismatchStatus{labmodels.MismatchLow, labmodels.MismatchHigh, labmodels.MismatchInRange, labmodels.MismatchIndeterminate}
	directions := []labmodels.Direction{labmodels.DirectionIncreasing, labmodels.DirectionDecreasing, labmodels.DirectionStable}
	values := []float64{50, 71, 85, 99, 130}

	for _, critical := range []bool{false, true} {
		for _, st := range statuses {
			for _, v := range values {
				for _, dir := range directions {
					for points := 0; points <= 5; points++ {
						for _, rel := range []float64{-0.6, -0.1, 0, 0.1, 0.6} {
							in := Input{
								Parameter: param(v, f64(70), f64(100)),
								Critical:  critical,
								Mismatch:  labmodels.Mismatch{Status: st, Value: v, ReferenceRange: &labmodels.Range{Min: 70, Max: 100}},
							}
							if points > 0 {
								in.Trend = trend(dir, points, rel)
							}
							f := c.Classify(in)
							if f.RiskLevel.Escalated() && !f.RequiresHumanApproval {
								t.Fatalf("%s flag without approval for %+v", f.RiskLevel, in)
							}
							if f.Rule < 1 || f.Rule > 5 || f.Rationale == "" {
								t.Fatalf("incomplete flag %+v", f)
							}
						}
					}
				}
			}
		}
	}
}

func FuzzClassify(f *testing.F) {
	f.Add(true, uint8(0), uint8(0), uint8(3), 0.3, 117.0)
	f.Add(false, uint8(1), uint8(0), uint8(4), 0.5, 130.0)
	f.Add(false, uint8(2), uint8(1), uint8(2), -0.4, 72.0)
	f.Fuzz(func(t *testing.T, critical bool, status, dir, points uint8, rel, value float64) {
		statuses := []labmodels.MismatchStatus{labmodels.MismatchLow, labmodels.MismatchHigh, labmodels.MismatchInRange, labmodels.MismatchIndeterminate}
		directions := []labmodels.Direction{labmodels.DirectionIncreasing, labmodels.DirectionDecreasing, labmodels.DirectionStable}
		in := Input{
			Critical: critical,
			Mismatch: labmodels.Mismatch{
				Status:         statuses[int(status)%len(statuses)],
				Value:          value,
				ReferenceRange: &labmodels.Range{Min: 70, Max: 100},
			},
			Trend: trend(directions[int(dir)%len(directions)], int(points%10), rel),
		}
		flag := NewClassifier(0.25).Classify(in)
		if flag.RiskLevel.Escalated() && !flag.RequiresHumanApproval {
			t.Fatalf("%s flag without approval", flag.RiskLevel)
		}
	})
}

func interactionStore(t *testing.T) *reference.Snapshot {
	t.Helper()
	s, err := reference.NewSnapshot(reference.Data{
		Parameters: []reference.CanonicalParameter{
			{CanonicalName: "glucose_fasting", DisplayName: "Fasting Glucose", StandardUnit: "mmol/L"},
			{CanonicalName: "tsh", DisplayName: "TSH", StandardUnit: "mIU/L"},
		},
		Interactions: []reference.InteractionRule{
			{CanonicalName: "glucose_fasting", MedicationTerm: "prednisone", Note: "raises glucose"},
			{CanonicalName: "tsh", MedicationTerm: "biotin", Note: "assay interference"},
		},
	})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return s
}

func TestInteractionDetector(t *testing.T) {
	d := NewInteractionDetector(interactionStore(t))
	tests := []struct {
		canonical, meds string
		want            int
	}{
		{"glucose_fasting", "Prednisone 10mg daily", 1},
		{"glucose_fasting", "metformin, PREDNISONE", 1},
		{"glucose_fasting", "methylprednisoneX", 0},
		{"glucose_fasting", "", 0},
		{"tsh", "biotin supplement", 1},
		{"tsh", "prednisone", 0},
	}
	for _, tt := range tests {
		hits, err := d.Detect(context.Background(), tt.canonical, tt.meds)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(hits) != tt.want {
			t.Errorf("Detect(%q, %q) = %d hits, want %d", tt.canonical, tt.meds, len(hits), tt.want)
		}
	}
}
