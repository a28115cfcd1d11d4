package normalization

import (
	"context"
	"errors"

	"github.com/labreview/labreview/internal/domain/reference"
	"github.com/labreview/labreview/pkg/labmodels"
)

// Service runs the resolution steps for one reading and hands the outcomes
// to the Builder. It holds no state between calls.
type Service struct {
	names   *NameResolver
	units   *UnitConverter
	ranges  *RangeResolver
	builder *Builder
	bounds  Bounds
}

func NewService(store reference.Store, threshold float64, bounds Bounds) *Service {
	return &Service{
		names:   NewNameResolver(store),
		units:   NewUnitConverter(store),
		ranges:  NewRangeResolver(store),
		builder: NewBuilder(threshold),
		bounds:  bounds,
	}
}

// Normalize resolves raw against the reference store. The returned error is
// non-nil only when the store is unavailable; every other failure is
// captured in the Result.
func (s *Service) Normalize(ctx context.Context, raw labmodels.RawParameter, patient labmodels.PatientContext) (Result, error) {
	value, err := ParseValue(raw.Value, s.bounds)
	if err != nil {
		return s.builder.Reject(raw, err), nil
	}

	steps := Steps{Value: value}

	steps.Name, err = s.names.Resolve(ctx, raw.Name)
	if err != nil {
		return Result{}, err
	}
	name, ok := steps.Name.(Resolved[NameMatch])
	if !ok {
		return s.builder.Build(raw, steps), nil
	}

	steps.Unit, err = s.units.Convert(ctx, name.Value.CanonicalName, value, raw.Unit)
	if err != nil {
		return Result{}, err
	}
	conv, ok := steps.Unit.(Resolved[Conversion])
	if !ok {
		return s.builder.Build(raw, steps), nil
	}

	steps.Range, err = s.ranges.Resolve(ctx, name.Value.CanonicalName, conv.Value.StandardUnit, patient)
	if err != nil {
		return Result{}, err
	}
	return s.builder.Build(raw, steps), nil
}

// IsUnavailable reports whether err should abort the batch.
func IsUnavailable(err error) bool {
	return errors.Is(err, labmodels.ErrLookupStoreUnavailable)
}
