package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labreview/labreview/internal/platform/db"
	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) SaveFlag(ctx context.Context, f *labmodels.RiskFlag) error {
	mismatch, err := jsonOrNil(f.ContributingMismatch)
	if err != nil {
		return err
	}
	trend, err := jsonOrNil(f.ContributingTrend)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO risk_flags (id, normalized_parameter_id, user_id, canonical_name,
			risk_level, rule, rationale, mismatch, trend, requires_human_approval)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		f.ID, f.NormalizedParameterID, f.UserID, f.CanonicalName,
		string(f.RiskLevel), f.Rule, f.Rationale, mismatch, trend, f.RequiresHumanApproval)
	if err != nil {
		return fmt.Errorf("insert risk flag: %w", err)
	}
	return nil
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

func (r *repoPG) SaveDecision(ctx context.Context, d *labmodels.ReviewDecision) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO review_decisions (id, risk_flag_id, user_id, canonical_name, gate_result, reasons, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.RiskFlagRef, d.UserID, d.CanonicalName, string(d.GateResult), d.Reasons, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("insert review decision: %w", err)
	}
	return nil
}

const decisionCols = `id, risk_flag_id, user_id, canonical_name, gate_result, reasons, decided_at`

func scanDecision(row pgx.Row) (*labmodels.ReviewDecision, error) {
	var d labmodels.ReviewDecision
	var result string
	if err := row.Scan(&d.ID, &d.RiskFlagRef, &d.UserID, &d.CanonicalName, &result, &d.Reasons, &d.DecidedAt); err != nil {
		return nil, err
	}
	d.GateResult = labmodels.GateResult(result)
	return &d, nil
}

func (r *repoPG) ListDecisions(ctx context.Context, filter DecisionFilter, p pagination.Params) ([]*labmodels.ReviewDecision, int, error) {
	var where []string
	var args []interface{}
	if filter.GateResult != "" {
		args = append(args, string(filter.GateResult))
		where = append(where, fmt.Sprintf("gate_result = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM review_decisions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count review decisions: %w", err)
	}

	args = append(args, p.Limit, p.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+decisionCols+` FROM review_decisions%s ORDER BY decided_at DESC, id LIMIT $%d OFFSET $%d`,
			clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list review decisions: %w", err)
	}
	defer rows.Close()

	var items []*labmodels.ReviewDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan review decision: %w", err)
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{ByGateResult: map[string]int{}, ByRiskLevel: map[string]int{}}

	if err := r.countInto(ctx, `SELECT gate_result, COUNT(*) FROM review_decisions GROUP BY gate_result`, s.ByGateResult); err != nil {
		return nil, err
	}
	if err := r.countInto(ctx, `SELECT risk_level, COUNT(*) FROM risk_flags GROUP BY risk_level`, s.ByRiskLevel); err != nil {
		return nil, err
	}
	for _, n := range s.ByGateResult {
		s.Decisions += n
	}
	return s, nil
}

func (r *repoPG) countInto(ctx context.Context, query string, into map[string]int) error {
	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return fmt.Errorf("summary query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan summary row: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}
