package review

import (
	"context"

	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

// DecisionFilter narrows ListDecisions. Zero fields match everything.
type DecisionFilter struct {
	GateResult labmodels.GateResult
	UserID     string
}

// Summary counts stored decisions and flags.
type Summary struct {
	Decisions    int            `json:"decisions"`
	ByGateResult map[string]int `json:"by_gate_result"`
	ByRiskLevel  map[string]int `json:"by_risk_level"`
}

// Repository stores risk flags and review decisions. Saving an existing ID
// is a no-op.
type Repository interface {
	SaveFlag(ctx context.Context, f *labmodels.RiskFlag) error
	SaveDecision(ctx context.Context, d *labmodels.ReviewDecision) error
	ListDecisions(ctx context.Context, filter DecisionFilter, p pagination.Params) ([]*labmodels.ReviewDecision, int, error)
	Summary(ctx context.Context) (*Summary, error)
}
