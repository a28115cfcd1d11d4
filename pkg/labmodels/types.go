package labmodels

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies where a raw reading came from.
type Source string

const (
	SourceReport Source = "report"
	SourceManual Source = "manual"
)

// Operation names one audited normalization step.
type Operation string

const (
	OpValueValidation  Operation = "value_validation"
	OpNameMapping      Operation = "name_mapping"
	OpUnitConversion   Operation = "unit_conversion"
	OpRangeAlignment   Operation = "range_alignment"
	OpConfidenceReview Operation = "confidence_review"
)

// StepStatus is the outcome recorded for an audited step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepFlagged StepStatus = "flagged"
)

// MismatchStatus is the comparison of a value against its reference range.
type MismatchStatus string

const (
	MismatchLow           MismatchStatus = "low"
	MismatchHigh          MismatchStatus = "high"
	MismatchInRange       MismatchStatus = "in_range"
	MismatchIndeterminate MismatchStatus = "indeterminate"
)

// OutOfRange reports whether the status is low or high.
func (s MismatchStatus) OutOfRange() bool {
	return s == MismatchLow || s == MismatchHigh
}

// Direction of a trend over its window.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// RiskLevel is a non-diagnostic severity classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Escalated reports whether the level always requires human approval.
func (l RiskLevel) Escalated() bool {
	return l == RiskHigh || l == RiskCritical
}

// GateResult is the terminal outcome of the review gate.
type GateResult string

const (
	GateAutoDeliver   GateResult = "auto_deliver"
	GateHoldForReview GateResult = "hold_for_review"
)

// ParameterStatus mirrors the normalization status kept on the upstream record.
type ParameterStatus string

const (
	StatusNormalized ParameterStatus = "normalized"
	StatusFlagged    ParameterStatus = "flagged"
	StatusRejected   ParameterStatus = "rejected"
)

// RawParameter is a reading as handed over by the extraction collaborator.
type RawParameter struct {
	SourceParameterID string    `json:"source_parameter_id" validate:"required,max=100"`
	UserID            string    `json:"user_id" validate:"required,max=100"`
	Name              string    `json:"name" validate:"required,max=200"`
	Value             string    `json:"value" validate:"required,max=64"`
	Unit              string    `json:"unit" validate:"max=32"`
	ObservedAt        time.Time `json:"observed_at" validate:"required"`
	Source            Source    `json:"source" validate:"required,oneof=report manual"`
	// Critical is set upstream when the reading falls in an emergency or
	// physiologically implausible range.
	Critical bool `json:"critical,omitempty"`
}

// PatientContext is the optional demographic and medication context of a batch.
type PatientContext struct {
	Age                    *int    `json:"age,omitempty" validate:"omitempty,min=0,max=150"`
	Gender                 *string `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	CurrentMedicationsText string  `json:"current_medications_text,omitempty" validate:"max=4000"`
}

// Range is a closed numeric interval in a parameter's standard unit.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Width returns Max - Min.
func (r Range) Width() float64 {
	return r.Max - r.Min
}

// NormalizedParameter is the immutable result of normalizing a RawParameter.
type NormalizedParameter struct {
	ID                      uuid.UUID `json:"id"`
	OriginalParameterID     string    `json:"original_parameter_id"`
	UserID                  string    `json:"user_id"`
	CanonicalName           string    `json:"canonical_name"`
	OriginalValue           float64   `json:"original_value"`
	OriginalUnit            string    `json:"original_unit"`
	NormalizedValue         float64   `json:"normalized_value"`
	StandardUnit            string    `json:"standard_unit"`
	ConversionFactor        float64   `json:"conversion_factor"`
	ReferenceRangeMin       *float64  `json:"reference_range_min,omitempty"`
	ReferenceRangeMax       *float64  `json:"reference_range_max,omitempty"`
	NormalizationConfidence float64   `json:"normalization_confidence"`
	FlaggedForReview        bool      `json:"flagged_for_review"`
	ObservedAt              time.Time `json:"observed_at"`
	NameConfidence          float64   `json:"name_confidence"`
	UnitConfidence          float64   `json:"unit_confidence"`
	RangeConfidence         float64   `json:"range_confidence"`
}

// ReferenceRange returns the aligned range, or nil when none was resolved.
func (p *NormalizedParameter) ReferenceRange() *Range {
	if p.ReferenceRangeMin == nil || p.ReferenceRangeMax == nil {
		return nil
	}
	return &Range{Min: *p.ReferenceRangeMin, Max: *p.ReferenceRangeMax}
}

// AuditEntry records one attempted normalization step. Entries are append-only.
type AuditEntry struct {
	ID          uuid.UUID  `json:"id"`
	ParameterID string     `json:"parameter_id"`
	Sequence    int        `json:"sequence"`
	Operation   Operation  `json:"operation"`
	Status      StepStatus `json:"status"`
	Before      string     `json:"before,omitempty"`
	After       string     `json:"after,omitempty"`
	Reason      string     `json:"failure_reason,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Mismatch compares a normalized value to its reference range.
type Mismatch struct {
	CanonicalName  string         `json:"canonical_name"`
	Status         MismatchStatus `json:"status"`
	Value          float64        `json:"value"`
	ReferenceRange *Range         `json:"reference_range,omitempty"`
	// Severity is |value - nearest bound| / range width; zero when in range.
	Severity float64 `json:"severity"`
}

// DataPoint is one observation inside a trend window.
type DataPoint struct {
	ParameterID string    `json:"parameter_id"`
	ObservedAt  time.Time `json:"observed_at"`
	Value       float64   `json:"value"`
}

// Trend is an immutable snapshot computed over a window of observations.
type Trend struct {
	CanonicalName  string      `json:"canonical_name"`
	Direction      Direction   `json:"direction"`
	Slope          float64     `json:"slope_per_day"`
	RelativeChange float64     `json:"relative_change"`
	Confidence     float64     `json:"confidence"`
	RSquared       float64     `json:"r_squared"`
	DataPoints     []DataPoint `json:"data_points"`
	WindowStart    time.Time   `json:"window_start"`
	WindowEnd      time.Time   `json:"window_end"`
}

// RiskFlag is the non-diagnostic classification of one normalized parameter.
type RiskFlag struct {
	ID                    uuid.UUID `json:"id"`
	NormalizedParameterID uuid.UUID `json:"normalized_parameter_id"`
	UserID                string    `json:"user_id"`
	CanonicalName         string    `json:"canonical_name"`
	RiskLevel             RiskLevel `json:"risk_level"`
	Rule                  int       `json:"rule"`
	Rationale             string    `json:"rationale"`
	ContributingMismatch  *Mismatch `json:"contributing_mismatch,omitempty"`
	ContributingTrend     *Trend    `json:"contributing_trend,omitempty"`
	RequiresHumanApproval bool      `json:"requires_human_approval"`
}

// ReviewDecision is the gate outcome for a RiskFlag.
type ReviewDecision struct {
	ID            uuid.UUID  `json:"id"`
	RiskFlagRef   uuid.UUID  `json:"risk_flag_ref"`
	UserID        string     `json:"user_id"`
	CanonicalName string     `json:"canonical_name"`
	GateResult    GateResult `json:"gate_result"`
	Reasons       []string   `json:"reasons"`
	DecidedAt     time.Time  `json:"decided_at"`
}
