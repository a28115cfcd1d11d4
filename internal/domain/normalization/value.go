package normalization

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/labreview/labreview/pkg/labmodels"
)

// Bounds is the closed interval of physically plausible raw values.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds rejects values below -1000 or above one million.
var DefaultBounds = Bounds{Min: -1000, Max: 1e6}

// ParseValue parses a numeric string exactly. Non-numeric text and values
// outside b are reported as labmodels.ErrInvalidValue.
func ParseValue(raw string, b Bounds) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%s: %w", ReasonValueNotNumeric, labmodels.ErrInvalidValue)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", ReasonValueNotNumeric, labmodels.ErrInvalidValue)
	}
	if d.LessThan(decimal.NewFromFloat(b.Min)) || d.GreaterThan(decimal.NewFromFloat(b.Max)) {
		return decimal.Zero, fmt.Errorf("%s [%v, %v]: %w", ReasonValueOutOfBounds, b.Min, b.Max, labmodels.ErrInvalidValue)
	}
	return d, nil
}
