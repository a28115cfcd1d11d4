// Package review decides whether a risk finding may reach the patient
// without a clinician in the loop, and keeps the decisions.
package review

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
)

// Reason codes attached to a hold_for_review decision.
const (
	ReasonRiskLevel        = "risk_level_high_or_critical"
	ReasonLowConfidence    = "normalization_confidence_below_threshold"
	ReasonFlagged          = "flagged_for_review"
	ReasonInteraction      = "medication_interaction"
	ReasonInsufficientData = "insufficient_data"
	ReasonAuditFailure     = "audit_write_failure"
	ReasonStoreFailure     = "record_store_failure"
)

const defaultThreshold = 0.7

var decisionNamespace = uuid.MustParse("8c2e4a71-93d0-4f6b-b1a5-7e0c9d3f2a18")

// GateInput is what the gate looks at for one risk flag.
type GateInput struct {
	Flag        labmodels.RiskFlag
	Parameter   *labmodels.NormalizedParameter
	Interaction bool
	AuditFailed bool
	// StoreFailed means the record or its trend history could not be
	// written or read, so the flag was classified without a trend.
	StoreFailed bool
}

// Gate turns a RiskFlag into a ReviewDecision. It never fails: any input
// yields exactly one decision.
type Gate struct {
	threshold float64
	now       func() time.Time
}

func NewGate(threshold float64) *Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	return &Gate{threshold: threshold, now: time.Now}
}

// Decide returns the decision and the flag with RequiresHumanApproval set
// to the decision outcome. Approval is never cleared once set.
func (g *Gate) Decide(in GateInput) (labmodels.ReviewDecision, labmodels.RiskFlag) {
	reasons := g.reasons(in)

	result := labmodels.GateAutoDeliver
	if len(reasons) > 0 {
		result = labmodels.GateHoldForReview
	}

	flag := in.Flag
	flag.RequiresHumanApproval = flag.RequiresHumanApproval || result == labmodels.GateHoldForReview
	if flag.RiskLevel.Escalated() {
		flag.RequiresHumanApproval = true
	}

	d := labmodels.ReviewDecision{
		RiskFlagRef:   flag.ID,
		UserID:        flag.UserID,
		CanonicalName: flag.CanonicalName,
		GateResult:    result,
		Reasons:       reasons,
		DecidedAt:     g.now().UTC(),
	}
	d.ID = uuid.NewSHA1(decisionNamespace, []byte(flag.ID.String()+"|"+string(result)+"|"+strings.Join(reasons, ",")))
	return d, flag
}

func (g *Gate) reasons(in GateInput) []string {
	reasons := []string{}
	if in.Flag.RiskLevel.Escalated() {
		reasons = append(reasons, ReasonRiskLevel)
	}
	if p := in.Parameter; p != nil {
		if p.NormalizationConfidence < g.threshold {
			reasons = append(reasons, ReasonLowConfidence)
		}
		if p.FlaggedForReview {
			reasons = append(reasons, ReasonFlagged)
		}
	} else {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if in.Interaction {
		reasons = append(reasons, ReasonInteraction)
	}
	if m := in.Flag.ContributingMismatch; m == nil || m.Status == labmodels.MismatchIndeterminate {
		reasons = append(reasons, ReasonInsufficientData)
	}
	if in.AuditFailed {
		reasons = append(reasons, ReasonAuditFailure)
	}
	if in.StoreFailed {
		reasons = append(reasons, ReasonStoreFailure)
	}
	return reasons
}
