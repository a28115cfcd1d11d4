// Package pipeline runs batches of raw lab readings through normalization,
// trend analysis, risk classification and the review gate.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/labreview/labreview/pkg/labmodels"
)

// ErrInvalidRequest wraps batch validation failures.
var ErrInvalidRequest = errors.New("invalid batch request")

// CodeInvalidRequest is the response code for ErrInvalidRequest.
const CodeInvalidRequest = "invalid_request"

// MaxBatchSize bounds the number of parameters in one batch.
const MaxBatchSize = 500

// BatchRequest is one patient's readings with their shared context.
type BatchRequest struct {
	Patient    labmodels.PatientContext `json:"patient"`
	Parameters []labmodels.RawParameter `json:"parameters" validate:"required,min=1,max=500,dive"`
}

var validate = validator.New()

// Validate checks field constraints and that source parameter IDs are
// unique within the batch.
func (r *BatchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidRequest, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	seen := make(map[string]struct{}, len(r.Parameters))
	for _, p := range r.Parameters {
		if _, dup := seen[p.SourceParameterID]; dup {
			return fmt.Errorf("%w: duplicate source_parameter_id %q", ErrInvalidRequest, p.SourceParameterID)
		}
		seen[p.SourceParameterID] = struct{}{}
	}
	return nil
}

// Outcome is what happened to one raw parameter.
type Outcome struct {
	SourceParameterID string                         `json:"source_parameter_id"`
	State             State                          `json:"state"`
	Path              []State                        `json:"path"`
	Status            labmodels.ParameterStatus      `json:"status"`
	Parameter         *labmodels.NormalizedParameter `json:"normalized_parameter,omitempty"`
	Audit             []labmodels.AuditEntry         `json:"audit"`
	Mismatch          *labmodels.Mismatch            `json:"mismatch,omitempty"`
	Trend             *labmodels.Trend               `json:"trend,omitempty"`
	RiskFlag          *labmodels.RiskFlag            `json:"risk_flag,omitempty"`
	Decision          *labmodels.ReviewDecision      `json:"decision,omitempty"`
	Warnings          []string                       `json:"warnings,omitempty"`
	ErrorCode         string                         `json:"error_code,omitempty"`
}

// Failed reports whether the parameter was rejected or hit a storage
// error on its way to the gate.
func (o *Outcome) Failed() bool {
	return o.State == StateRejected || o.ErrorCode != ""
}

// Summary counts outcomes in a batch.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Flagged    int `json:"flagged"`
	Held       int `json:"held_for_review"`
}

// BatchResult is the per-parameter outcomes in request order.
type BatchResult struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}

func summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for i := range outcomes {
		o := &outcomes[i]
		if o.Failed() {
			s.Failed++
		} else {
			s.Successful++
		}
		if o.Parameter != nil && o.Parameter.FlaggedForReview {
			s.Flagged++
		}
		if o.Decision != nil && o.Decision.GateResult == labmodels.GateHoldForReview {
			s.Held++
		}
	}
	return s
}
