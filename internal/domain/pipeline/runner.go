package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/labreview/labreview/internal/domain/auditlog"
	"github.com/labreview/labreview/internal/domain/normalization"
	"github.com/labreview/labreview/internal/domain/risk"
	"github.com/labreview/labreview/internal/domain/review"
	"github.com/labreview/labreview/internal/domain/trend"
	"github.com/labreview/labreview/internal/platform/metrics"
	"github.com/labreview/labreview/pkg/labmodels"
)

// Deps are the collaborators a Runner drives.
type Deps struct {
	Normalizer   *normalization.Service
	Records      normalization.Repository
	Audit        auditlog.Sink
	Trends       *trend.Service
	Classifier   *risk.Classifier
	Interactions *risk.InteractionDetector
	Gate         *review.Gate
	Reviews      *review.Service
}

// Runner processes batches with bounded concurrency.
type Runner struct {
	Deps
	concurrency int
	logger      zerolog.Logger
}

func NewRunner(deps Deps, concurrency int, logger zerolog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		Deps:        deps,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
}

// resolved is a parameter after the lookup phase.
type resolved struct {
	result      normalization.Result
	interaction bool
}

// Run validates req and processes every parameter. All reference lookups
// happen before anything is written, so a lookup store outage aborts the
// batch with a retryable error and no side effects. Any other failure is
// confined to its parameter's Outcome.
func (r *Runner) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := r.resolve(ctx, req)
	if err != nil {
		r.logger.Warn().Err(err).Int("parameters", len(req.Parameters)).Msg("batch aborted")
		return nil, err
	}

	outcomes := make([]Outcome, len(req.Parameters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, series := range groupSeries(res) {
		series := series
		g.Go(func() error {
			for _, i := range series {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[i] = r.process(gctx, res[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchResult{BatchID: uuid.New(), Outcomes: outcomes, Summary: summarize(outcomes)}
	metrics.ObserveBatch(time.Since(start))
	r.logger.Info().
		Str("batch_id", result.BatchID.String()).
		Int("total", result.Summary.Total).
		Int("successful", result.Summary.Successful).
		Int("failed", result.Summary.Failed).
		Int("flagged", result.Summary.Flagged).
		Int("held", result.Summary.Held).
		Dur("duration", time.Since(start)).
		Msg("batch processed")
	return result, nil
}

func (r *Runner) resolve(ctx context.Context, req BatchRequest) ([]resolved, error) {
	out := make([]resolved, len(req.Parameters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, raw := range req.Parameters {
		i, raw := i, raw
		g.Go(func() error {
			result, err := r.Normalizer.Normalize(gctx, raw, req.Patient)
			if err != nil {
				return err
			}
			out[i].result = result

			if p := result.Parameter; p != nil && p.NameConfidence > 0 && r.Interactions != nil {
				hits, err := r.Interactions.Detect(gctx, p.CanonicalName, req.Patient.CurrentMedicationsText)
				if err != nil {
					return err
				}
				out[i].interaction = len(hits) > 0
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if normalization.IsUnavailable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", labmodels.ErrLookupStoreUnavailable, err)
	}
	return out, nil
}

// groupSeries splits resolved parameters into per-series index lists. A
// series is one user's readings of one canonical name, ordered by
// observation time so each reading's trend sees the earlier ones from the
// same batch. Rejected parameters form series of their own.
func groupSeries(res []resolved) [][]int {
	var groups [][]int
	byKey := make(map[string]int)
	for i, rs := range res {
		p := rs.result.Parameter
		if p == nil {
			groups = append(groups, []int{i})
			continue
		}
		key := trend.LockKey(p.UserID, p.CanonicalName)
		g, ok := byKey[key]
		if !ok {
			g = len(groups)
			byKey[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	for _, idx := range groups {
		slices.SortStableFunc(idx, func(a, b int) int {
			pa, pb := res[a].result.Parameter, res[b].result.Parameter
			if pa == nil || pb == nil {
				return 0
			}
			if c := pa.ObservedAt.Compare(pb.ObservedAt); c != 0 {
				return c
			}
			return strings.Compare(pa.OriginalParameterID, pb.OriginalParameterID)
		})
	}
	return groups
}

func (r *Runner) process(ctx context.Context, res resolved) (o Outcome) {
	m := NewMachine()
	result := res.result
	o = Outcome{
		SourceParameterID: result.Raw.SourceParameterID,
		Status:            result.Status,
		Parameter:         result.Parameter,
		Audit:             result.Audit,
		Warnings:          result.Warnings,
	}
	defer func() {
		o.State = m.State()
		o.Path = m.Path()
		metrics.ParameterProcessed(string(o.Status))
	}()

	auditErr := r.Audit.Append(ctx, result.Audit)
	if auditErr != nil {
		r.logger.Error().Err(auditErr).Str("source_parameter_id", o.SourceParameterID).Msg("audit write failed")
	}

	if result.Rejected() {
		o.ErrorCode = result.ErrorCode
		r.advance(m, StateRejected)
		return o
	}
	r.advance(m, StateNormalized)
	p := result.Parameter

	err := r.Trends.WithLock(ctx, p.UserID, p.CanonicalName, func(ctx context.Context) error {
		if _, err := r.Records.Insert(ctx, p); err != nil {
			return err
		}
		t, err := r.Trends.Evaluate(ctx, p)
		if err != nil {
			return err
		}
		o.Trend = t
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("source_parameter_id", o.SourceParameterID).Msg("store normalized parameter failed")
		o.ErrorCode = labmodels.Code(err)
		o.Trend = nil
	}
	storeFailed := err != nil

	mismatch := risk.DetectMismatch(p)
	o.Mismatch = &mismatch
	r.advance(m, StateMismatchEvaluated)

	if o.Trend != nil {
		r.advance(m, StateTrendEvaluated)
	}

	flag := r.Classifier.Classify(risk.Input{
		Parameter: p,
		Critical:  result.Raw.Critical,
		Mismatch:  mismatch,
		Trend:     o.Trend,
	})
	r.advance(m, StateRiskClassified)

	decision, flag := r.Gate.Decide(review.GateInput{
		Flag:        flag,
		Parameter:   p,
		Interaction: res.interaction,
		AuditFailed: auditErr != nil,
		StoreFailed: storeFailed,
	})
	o.RiskFlag = &flag
	o.Decision = &decision
	r.advance(m, StateGated)

	if err := r.Reviews.Record(ctx, &flag, &decision); err != nil {
		r.logger.Error().Err(err).Str("source_parameter_id", o.SourceParameterID).Msg("record decision failed")
		if o.ErrorCode == "" {
			o.ErrorCode = labmodels.Code(err)
		}
	}
	return o
}

// advance applies a transition the pipeline guarantees to be legal.
func (r *Runner) advance(m *Machine, next State) {
	if err := m.Advance(next); err != nil {
		r.logger.Error().Err(err).Msg("pipeline state")
	}
}

// IsInvalidRequest reports whether err came from request validation.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
