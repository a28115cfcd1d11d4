// Package trend fits a direction and slope to a patient's history of one
// canonical parameter.
package trend

import (
	"math"
	"sort"
	"strings"

	"github.com/labreview/labreview/pkg/labmodels"
)

// DefaultStabilityThreshold is the relative change below which a trend is
// reported as stable.
const DefaultStabilityThreshold = 0.05

// Calculator computes a Trend by ordinary least squares over all points in
// the window, with x measured in days since the first point.
type Calculator struct {
	stability float64
}

func NewCalculator(stabilityThreshold float64) *Calculator {
	if stabilityThreshold <= 0 {
		stabilityThreshold = DefaultStabilityThreshold
	}
	return &Calculator{stability: stabilityThreshold}
}

// Compute returns the trend over history. Points whose unit was not resolved
// or differs from the newest point's unit are skipped, as are repeated
// source parameters. Fewer than two usable points at distinct times yields
// labmodels.ErrInsufficientData.
func (c *Calculator) Compute(history []*labmodels.NormalizedParameter) (*labmodels.Trend, error) {
	points := usable(history)
	if len(points) < 2 {
		return nil, labmodels.ErrInsufficientData
	}

	first := points[0].ObservedAt
	newest := points[len(points)-1]
	n := float64(len(points))

	xs := make([]float64, len(points))
	var sumX, sumY float64
	for i, p := range points {
		xs[i] = p.ObservedAt.Sub(first).Hours() / 24
		sumX += xs[i]
		sumY += p.NormalizedValue
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for i, p := range points {
		dx, dy := xs[i]-meanX, p.NormalizedValue-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return nil, labmodels.ErrInsufficientData
	}

	slope := sxy / sxx
	rSquared := 1.0
	if len(points) > 2 && syy > 0 {
		rSquared = (sxy * sxy) / (sxx * syy)
	}

	// Fitted value at the last point minus fitted value at the first.
	delta := slope * xs[len(xs)-1]
	rel := relativeChange(delta, newest, points, meanY)

	dir := labmodels.DirectionStable
	if math.Abs(rel) >= c.stability {
		if slope > 0 {
			dir = labmodels.DirectionIncreasing
		} else {
			dir = labmodels.DirectionDecreasing
		}
	}

	data := make([]labmodels.DataPoint, len(points))
	for i, p := range points {
		data[i] = labmodels.DataPoint{
			ParameterID: p.OriginalParameterID,
			ObservedAt:  p.ObservedAt,
			Value:       p.NormalizedValue,
		}
	}
	return &labmodels.Trend{
		CanonicalName:  newest.CanonicalName,
		Direction:      dir,
		Slope:          round6(slope),
		RelativeChange: round6(rel),
		Confidence:     round6(Confidence(len(points), rSquared)),
		RSquared:       round6(rSquared),
		DataPoints:     data,
		WindowStart:    first,
		WindowEnd:      newest.ObservedAt,
	}, nil
}

// Confidence grows with the number of points and the quality of the fit.
// It is monotonic in n for a fixed R².
func Confidence(n int, rSquared float64) float64 {
	if n < 2 {
		return 0
	}
	extra := n - 2
	if extra > 5 {
		extra = 5
	}
	pointFactor := math.Min(1, 0.5+0.1*float64(extra))
	return pointFactor * (0.5 + 0.5*rSquared)
}

// relativeChange scales the fitted change by the newest reference range
// width, or by the mean magnitude when no range is known.
func relativeChange(delta float64, newest *labmodels.NormalizedParameter, points []*labmodels.NormalizedParameter, mean float64) float64 {
	if r := newest.ReferenceRange(); r != nil && r.Width() > 0 {
		return delta / r.Width()
	}
	scale := math.Abs(mean)
	if scale == 0 {
		for _, p := range points {
			scale = math.Max(scale, math.Abs(p.NormalizedValue))
		}
	}
	if scale == 0 {
		return 0
	}
	return delta / scale
}

func usable(history []*labmodels.NormalizedParameter) []*labmodels.NormalizedParameter {
	sorted := make([]*labmodels.NormalizedParameter, 0, len(history))
	for _, p := range history {
		if p != nil && p.StandardUnit != "" && p.UnitConfidence > 0 {
			sorted = append(sorted, p)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ObservedAt.Equal(sorted[j].ObservedAt) {
			return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
		}
		return sorted[i].OriginalParameterID < sorted[j].OriginalParameterID
	})

	unit := sorted[len(sorted)-1].StandardUnit
	seen := make(map[string]struct{}, len(sorted))
	out := sorted[:0]
	for _, p := range sorted {
		if !strings.EqualFold(p.StandardUnit, unit) {
			continue
		}
		if _, dup := seen[p.OriginalParameterID]; dup {
			continue
		}
		seen[p.OriginalParameterID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
