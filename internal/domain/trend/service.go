package trend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labreview/labreview/internal/domain/normalization"
	"github.com/labreview/labreview/internal/platform/lock"
	"github.com/labreview/labreview/pkg/labmodels"
)

// Service reads history and computes trends. Work on one (user, canonical
// name) pair is serialized through the Locker.
type Service struct {
	repo     normalization.Repository
	locker   lock.Locker
	calc     *Calculator
	lookback time.Duration
}

func NewService(repo normalization.Repository, locker lock.Locker, calc *Calculator, lookback time.Duration) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Service{repo: repo, locker: locker, calc: calc, lookback: lookback}
}

// LockKey is the lock key for a patient's parameter series.
func LockKey(userID, canonical string) string {
	return "trend:" + userID + ":" + canonical
}

// WithLock runs fn while holding the series lock for (userID, canonical).
func (s *Service) WithLock(ctx context.Context, userID, canonical string, fn func(ctx context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, LockKey(userID, canonical))
	if err != nil {
		return fmt.Errorf("lock series: %w", err)
	}
	defer unlock()
	return fn(ctx)
}

// Evaluate computes the trend ending at p, over the lookback window before
// p's observation. p is included even when it is not yet stored. Callers
// hold the series lock. A nil trend with a nil error means there was not
// enough data.
func (s *Service) Evaluate(ctx context.Context, p *labmodels.NormalizedParameter) (*labmodels.Trend, error) {
	history, err := s.repo.History(ctx, p.UserID, p.CanonicalName, p.ObservedAt.Add(-s.lookback))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	points := make([]*labmodels.NormalizedParameter, 0, len(history)+1)
	found := false
	for _, h := range history {
		if h.ObservedAt.After(p.ObservedAt) {
			continue
		}
		if h.ID == p.ID {
			found = true
		}
		points = append(points, h)
	}
	if !found {
		points = append(points, p)
	}

	return s.compute(points)
}

// Current computes the trend over the lookback window ending at the newest
// stored observation.
func (s *Service) Current(ctx context.Context, userID, canonical string) (*labmodels.Trend, error) {
	var out *labmodels.Trend
	err := s.WithLock(ctx, userID, canonical, func(ctx context.Context) error {
		history, err := s.repo.History(ctx, userID, canonical, time.Time{})
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		if len(history) == 0 {
			return nil
		}

		since := history[len(history)-1].ObservedAt.Add(-s.lookback)
		window := history[:0:0]
		for _, h := range history {
			if !h.ObservedAt.Before(since) {
				window = append(window, h)
			}
		}
		out, err = s.compute(window)
		return err
	})
	return out, err
}

func (s *Service) compute(points []*labmodels.NormalizedParameter) (*labmodels.Trend, error) {
	t, err := s.calc.Compute(points)
	if errors.Is(err, labmodels.ErrInsufficientData) {
		return nil, nil
	}
	return t, err
}
