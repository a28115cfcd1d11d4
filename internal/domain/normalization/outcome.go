package normalization

import (
	"github.com/shopspring/decimal"

	"github.com/labreview/labreview/internal/domain/reference"
)

// Outcome is the result of one resolution step. It is sealed: the only
// implementations are Resolved[T] and Unresolved[T].
type Outcome[T any] interface {
	StepConfidence() float64
	outcome(T)
}

// Resolved carries the step's value and the confidence of the lookup used.
type Resolved[T any] struct {
	Value      T
	Confidence float64
}

func (r Resolved[T]) StepConfidence() float64 { return r.Confidence }

func (Resolved[T]) outcome(T) {}

// Unresolved means the step could not be completed; its confidence is 0.
type Unresolved[T any] struct {
	Reason string
}

func (Unresolved[T]) StepConfidence() float64 { return 0 }

func (Unresolved[T]) outcome(T) {}

// NameMatch is a resolved canonical name.
type NameMatch struct {
	CanonicalName string
	VariantName   string
}

// Conversion is a value expressed in the parameter's standard unit.
type Conversion struct {
	Value        decimal.Decimal
	StandardUnit string
	Factor       decimal.Decimal
}

// RangeMatch is the reference range selected for a patient.
type RangeMatch struct {
	Range reference.ReferenceRange
}

// Unresolved reasons recorded on audit entries.
const (
	ReasonNoMapping        = "no canonical mapping for name"
	ReasonCanonicalMissing = "canonical name unresolved"
	ReasonMissingUnit      = "unit missing on source reading"
	ReasonNoStandardUnit   = "no standard unit declared"
	ReasonNoConversion     = "no conversion rule for unit"
	ReasonNoRange          = "no reference range for parameter"
	ReasonNoMatchingRange  = "no reference range matches patient context"
	ReasonBelowThreshold   = "normalization confidence below review threshold"
	ReasonValueNotNumeric  = "value is not a finite number"
	ReasonValueOutOfBounds = "value outside sanity bounds"
)
