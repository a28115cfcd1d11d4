package reference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/labreview/labreview/internal/platform/metrics"
	"github.com/labreview/labreview/pkg/labmodels"
)

// Guard bounds every lookup with a timeout and a shared token bucket so a
// slow or overloaded store surfaces as ErrLookupStoreUnavailable instead of
// stalling the batch.
type Guard struct {
	store   Store
	timeout time.Duration
	limiter *rate.Limiter
}

var _ Store = (*Guard)(nil)

// NewGuard wraps store. A non-positive rps disables rate limiting.
func NewGuard(store Store, timeout time.Duration, rps float64, burst int) *Guard {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Guard{
		store:   store,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func guarded[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.ObserveLookup(op, 0, true)
		return zero, fmt.Errorf("%s: rate limit wait: %w: %w", op, labmodels.ErrLookupStoreUnavailable, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := fn(ctx)
	failed := err != nil && (errors.Is(err, labmodels.ErrLookupStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
	metrics.ObserveLookup(op, time.Since(start), failed)

	if failed && !errors.Is(err, labmodels.ErrLookupStoreUnavailable) {
		return zero, fmt.Errorf("%s: %w: %w", op, labmodels.ErrLookupStoreUnavailable, err)
	}
	return v, err
}

func (g *Guard) ResolveName(ctx context.Context, variant string) ([]CanonicalMapping, error) {
	return guarded(ctx, g, "resolve_name", func(ctx context.Context) ([]CanonicalMapping, error) {
		return g.store.ResolveName(ctx, variant)
	})
}

func (g *Guard) StandardUnit(ctx context.Context, canonical string) (string, error) {
	return guarded(ctx, g, "standard_unit", func(ctx context.Context) (string, error) {
		return g.store.StandardUnit(ctx, canonical)
	})
}

func (g *Guard) ResolveUnit(ctx context.Context, canonical, sourceUnit, targetUnit string) (*ConversionRule, error) {
	return guarded(ctx, g, "resolve_unit", func(ctx context.Context) (*ConversionRule, error) {
		return g.store.ResolveUnit(ctx, canonical, sourceUnit, targetUnit)
	})
}

func (g *Guard) ResolveRanges(ctx context.Context, canonical, standardUnit string) ([]ReferenceRange, error) {
	return guarded(ctx, g, "resolve_ranges", func(ctx context.Context) ([]ReferenceRange, error) {
		return g.store.ResolveRanges(ctx, canonical, standardUnit)
	})
}

func (g *Guard) Interactions(ctx context.Context, canonical string) ([]InteractionRule, error) {
	return guarded(ctx, g, "interactions", func(ctx context.Context) ([]InteractionRule, error) {
		return g.store.Interactions(ctx, canonical)
	})
}
