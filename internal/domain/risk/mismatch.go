// Package risk compares normalized values with their reference ranges and
// assigns a non-diagnostic risk level.
package risk

import (
	"math"

	"github.com/labreview/labreview/pkg/labmodels"
)

// DetectMismatch compares p with its aligned reference range. Without a
// range the status is indeterminate, never in_range.
func DetectMismatch(p *labmodels.NormalizedParameter) labmodels.Mismatch {
	m := labmodels.Mismatch{
		CanonicalName: p.CanonicalName,
		Value:         p.NormalizedValue,
		Status:        labmodels.MismatchIndeterminate,
	}

	rng := p.ReferenceRange()
	if rng == nil {
		return m
	}
	m.ReferenceRange = rng

	switch {
	case p.NormalizedValue < rng.Min:
		m.Status = labmodels.MismatchLow
		m.Severity = severity(rng.Min-p.NormalizedValue, rng.Width())
	case p.NormalizedValue > rng.Max:
		m.Status = labmodels.MismatchHigh
		m.Severity = severity(p.NormalizedValue-rng.Max, rng.Width())
	default:
		m.Status = labmodels.MismatchInRange
	}
	return m
}

func severity(distance, width float64) float64 {
	if width <= 0 {
		return 0
	}
	return math.Round(distance/width*1e6) / 1e6
}
