package normalization

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labreview/labreview/pkg/labmodels"
)

// recordNamespace seeds the content-derived NormalizedParameter IDs.
var recordNamespace = uuid.MustParse("6f1c3f0e-5b7a-4e39-9d55-2f3b8a1c7e42")

// UnmappedPrefix marks the canonical name of a parameter whose name could not
// be resolved.
const UnmappedPrefix = "unmapped:"

// Warning codes reported alongside a result.
const (
	WarnNameUnresolved  = "name_unresolved"
	WarnMissingUnit     = "missing_unit"
	WarnUnitUnresolved  = "unit_unresolved"
	WarnRangeUnresolved = "range_unresolved"
	WarnLowConfidence   = "low_confidence"
)

// Steps are the outcomes of the resolution steps for one reading. Unit and
// Range are nil when the step was never attempted.
type Steps struct {
	Value decimal.Decimal
	Name  Outcome[NameMatch]
	Unit  Outcome[Conversion]
	Range Outcome[RangeMatch]
}

// Result is what normalizing one RawParameter produced.
type Result struct {
	Raw       labmodels.RawParameter         `json:"-"`
	Parameter *labmodels.NormalizedParameter `json:"normalized_parameter,omitempty"`
	Audit     []labmodels.AuditEntry         `json:"audit"`
	Status    labmodels.ParameterStatus      `json:"status"`
	Warnings  []string                       `json:"warnings,omitempty"`
	ErrorCode string                         `json:"error_code,omitempty"`
}

// Rejected reports whether the reading produced no NormalizedParameter.
func (r Result) Rejected() bool {
	return r.Status == labmodels.StatusRejected
}

// Builder assembles NormalizedParameters and their audit trail. It performs
// no I/O: given the same reading and step outcomes it yields the same record.
type Builder struct {
	threshold float64
	now       func() time.Time
}

func NewBuilder(threshold float64) *Builder {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Builder{threshold: threshold, now: time.Now}
}

type auditTrail struct {
	parameterID string
	at          time.Time
	entries     []labmodels.AuditEntry
}

func (a *auditTrail) add(op labmodels.Operation, status labmodels.StepStatus, before, after, reason string) {
	a.entries = append(a.entries, labmodels.AuditEntry{
		ID:          uuid.New(),
		ParameterID: a.parameterID,
		Sequence:    len(a.entries) + 1,
		Operation:   op,
		Status:      status,
		Before:      before,
		After:       after,
		Reason:      reason,
		Timestamp:   a.at,
	})
}

func (a *auditTrail) flagged() bool {
	for _, e := range a.entries {
		if e.Status == labmodels.StepFlagged {
			return true
		}
	}
	return false
}

// Reject records a failed value validation. No record is produced.
func (b *Builder) Reject(raw labmodels.RawParameter, err error) Result {
	trail := &auditTrail{parameterID: raw.SourceParameterID, at: b.now().UTC()}
	trail.add(labmodels.OpValueValidation, labmodels.StepFailed, raw.Value, "", reasonOf(err))
	return Result{
		Raw:       raw,
		Audit:     trail.entries,
		Status:    labmodels.StatusRejected,
		ErrorCode: labmodels.Code(err),
	}
}

func reasonOf(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i > 0 {
		return msg[:i]
	}
	return msg
}

func withUnit(v decimal.Decimal, unit string) string {
	if unit == "" {
		return v.String()
	}
	return v.String() + " " + unit
}

// Build assembles the record from resolved steps.
func (b *Builder) Build(raw labmodels.RawParameter, steps Steps) Result {
	trail := &auditTrail{parameterID: raw.SourceParameterID, at: b.now().UTC()}
	var warnings []string

	trail.add(labmodels.OpValueValidation, labmodels.StepSuccess, raw.Value, steps.Value.String(), "")

	p := &labmodels.NormalizedParameter{
		OriginalParameterID: raw.SourceParameterID,
		UserID:              raw.UserID,
		OriginalValue:       steps.Value.InexactFloat64(),
		OriginalUnit:        strings.TrimSpace(raw.Unit),
		ObservedAt:          raw.ObservedAt.UTC(),
	}

	// Name
	nameResolved := false
	switch o := steps.Name.(type) {
	case Resolved[NameMatch]:
		nameResolved = true
		p.CanonicalName = o.Value.CanonicalName
		p.NameConfidence = o.Confidence
		trail.add(labmodels.OpNameMapping, labmodels.StepSuccess, raw.Name, o.Value.CanonicalName, "")
	case Unresolved[NameMatch]:
		p.CanonicalName = UnmappedPrefix + normalizeForPlaceholder(raw.Name)
		trail.add(labmodels.OpNameMapping, labmodels.StepFlagged, raw.Name, "", o.Reason)
		warnings = append(warnings, WarnNameUnresolved)
	default:
		p.CanonicalName = UnmappedPrefix + normalizeForPlaceholder(raw.Name)
		trail.add(labmodels.OpNameMapping, labmodels.StepFlagged, raw.Name, "", ReasonNoMapping)
		warnings = append(warnings, WarnNameUnresolved)
	}

	// Unit. Unresolved passes the value through unchanged in its own unit.
	p.NormalizedValue = p.OriginalValue
	p.StandardUnit = p.OriginalUnit
	p.ConversionFactor = 1
	unitBefore := withUnit(steps.Value, p.OriginalUnit)
	unitResolved := false
	switch o := steps.Unit.(type) {
	case Resolved[Conversion]:
		unitResolved = true
		p.NormalizedValue = o.Value.Value.InexactFloat64()
		p.StandardUnit = o.Value.StandardUnit
		p.ConversionFactor = o.Value.Factor.InexactFloat64()
		p.UnitConfidence = o.Confidence
		trail.add(labmodels.OpUnitConversion, labmodels.StepSuccess, unitBefore, withUnit(o.Value.Value, o.Value.StandardUnit), "")
	case Unresolved[Conversion]:
		trail.add(labmodels.OpUnitConversion, labmodels.StepFlagged, unitBefore, "", o.Reason)
		if o.Reason == ReasonMissingUnit {
			warnings = append(warnings, WarnMissingUnit)
		} else {
			warnings = append(warnings, WarnUnitUnresolved)
		}
	default:
		reason := ReasonNoConversion
		if !nameResolved {
			reason = ReasonCanonicalMissing
		}
		trail.add(labmodels.OpUnitConversion, labmodels.StepFlagged, unitBefore, "", reason)
		warnings = append(warnings, WarnUnitUnresolved)
	}

	// Range
	rangeBefore := strings.TrimSpace(p.CanonicalName + " " + p.StandardUnit)
	switch o := steps.Range.(type) {
	case Resolved[RangeMatch]:
		lo, hi := o.Value.Range.RangeMin, o.Value.Range.RangeMax
		p.ReferenceRangeMin, p.ReferenceRangeMax = &lo, &hi
		p.RangeConfidence = o.Confidence
		trail.add(labmodels.OpRangeAlignment, labmodels.StepSuccess, rangeBefore, formatRange(lo, hi), "")
	case Unresolved[RangeMatch]:
		trail.add(labmodels.OpRangeAlignment, labmodels.StepFlagged, rangeBefore, "", o.Reason)
		warnings = append(warnings, WarnRangeUnresolved)
	default:
		reason := ReasonNoRange
		switch {
		case !nameResolved:
			reason = ReasonCanonicalMissing
		case !unitResolved:
			reason = ReasonNoConversion
		}
		trail.add(labmodels.OpRangeAlignment, labmodels.StepFlagged, rangeBefore, "", reason)
		warnings = append(warnings, WarnRangeUnresolved)
	}

	p.NormalizationConfidence, p.FlaggedForReview = AggregateConfidence(
		p.NameConfidence, p.UnitConfidence, p.RangeConfidence, b.threshold)

	if p.NormalizationConfidence < b.threshold {
		warnings = append(warnings, WarnLowConfidence)
	}
	if p.FlaggedForReview && !trail.flagged() {
		trail.add(labmodels.OpConfidenceReview, labmodels.StepFlagged,
			"", strconv.FormatFloat(p.NormalizationConfidence, 'f', 4, 64), ReasonBelowThreshold)
	}

	p.ID = RecordID(p)

	status := labmodels.StatusNormalized
	if p.FlaggedForReview {
		status = labmodels.StatusFlagged
	}
	return Result{
		Raw:       raw,
		Parameter: p,
		Audit:     trail.entries,
		Status:    status,
		Warnings:  warnings,
	}
}

func normalizeForPlaceholder(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func formatRange(lo, hi float64) string {
	return fmtFloat(lo) + "-" + fmtFloat(hi)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func fmtOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmtFloat(*v)
}

// RecordID derives a stable UUIDv5 from every content field of p, so the same
// reading normalized against the same reference data always gets the same ID.
func RecordID(p *labmodels.NormalizedParameter) uuid.UUID {
	content := strings.Join([]string{
		p.OriginalParameterID,
		p.UserID,
		p.CanonicalName,
		fmtFloat(p.OriginalValue),
		p.OriginalUnit,
		fmtFloat(p.NormalizedValue),
		p.StandardUnit,
		fmtFloat(p.ConversionFactor),
		fmtOptional(p.ReferenceRangeMin),
		fmtOptional(p.ReferenceRangeMax),
		fmtFloat(p.NameConfidence),
		fmtFloat(p.UnitConfidence),
		fmtFloat(p.RangeConfidence),
		p.ObservedAt.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte(content))
}

// String renders a short description for logs; it omits values.
func (r Result) String() string {
	if r.Parameter == nil {
		return fmt.Sprintf("%s: %s", r.Raw.SourceParameterID, r.Status)
	}
	return fmt.Sprintf("%s: %s -> %s", r.Raw.SourceParameterID, r.Status, r.Parameter.CanonicalName)
}
