package review

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/labreview/labreview/internal/platform/events"
	"github.com/labreview/labreview/internal/platform/metrics"
	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

// Service stores gate outcomes and publishes each decision downstream.
type Service struct {
	repo      Repository
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewService(repo Repository, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With().Str("component", "review").Logger(),
	}
}

// Record saves the flag and its decision, then publishes the decision. A
// publish failure is logged; the stored decision stays authoritative.
func (s *Service) Record(ctx context.Context, flag *labmodels.RiskFlag, d *labmodels.ReviewDecision) error {
	if err := s.repo.SaveFlag(ctx, flag); err != nil {
		return fmt.Errorf("save flag: %w", err)
	}
	if err := s.repo.SaveDecision(ctx, d); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	metrics.RiskFlagged(string(flag.RiskLevel))
	metrics.GateDecided(string(d.GateResult))

	if d.GateResult == labmodels.GateHoldForReview {
		s.logger.Info().
			Str("decision_id", d.ID.String()).
			Str("canonical_name", d.CanonicalName).
			Str("risk_level", string(flag.RiskLevel)).
			Strs("reasons", d.Reasons).
			Msg("held for review")
	}

	if err := s.publisher.Publish(ctx, events.Event{
		Type:    events.TypeReviewDecision,
		Key:     d.ID.String(),
		Payload: d,
	}); err != nil {
		s.logger.Warn().Err(err).Str("decision_id", d.ID.String()).Msg("publish decision failed")
	}
	return nil
}

func (s *Service) ListDecisions(ctx context.Context, filter DecisionFilter, p pagination.Params) ([]*labmodels.ReviewDecision, int, error) {
	return s.repo.ListDecisions(ctx, filter, p)
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	return s.repo.Summary(ctx)
}
