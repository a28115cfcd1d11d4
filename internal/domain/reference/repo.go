package reference

import (
	"context"
)

// Store is read access to the reference lookup tables. Implementations wrap
// infrastructure failures with labmodels.ErrLookupStoreUnavailable; a missing
// row is never reported as that error.
type Store interface {
	// ResolveName returns every mapping whose normalized variant equals the
	// normalized input. An empty result means no mapping.
	ResolveName(ctx context.Context, variant string) ([]CanonicalMapping, error)
	// StandardUnit returns labmodels.ErrConversionNotFound when the canonical
	// name has no declared standard unit.
	StandardUnit(ctx context.Context, canonical string) (string, error)
	// ResolveUnit returns labmodels.ErrConversionNotFound when no rule exists.
	ResolveUnit(ctx context.Context, canonical, sourceUnit, targetUnit string) (*ConversionRule, error)
	ResolveRanges(ctx context.Context, canonical, standardUnit string) ([]ReferenceRange, error)
	Interactions(ctx context.Context, canonical string) ([]InteractionRule, error)
}
