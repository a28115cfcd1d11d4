// Package reporting evaluates predefined SQL measures over the review
// pipeline tables and renders them, or the review decision log, as JSON or
// XLSX.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrMeasureNotFound = errors.New("measure not found")

// MeasureDefinition defines a reporting measure with its SQL query. Every
// measure takes the lower time bound as $1.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Columns     []string `json:"columns"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	Columns     []string                 `json:"columns"`
	Since       time.Time                `json:"since"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "decisions-by-gate-result",
		Name:        "Decisions by Gate Result",
		Description: "Review gate decisions grouped by auto_deliver / hold_for_review",
		SQL: `SELECT gate_result, COUNT(*) AS total
FROM review_decisions
WHERE decided_at >= $1
GROUP BY gate_result
ORDER BY gate_result`,
		Columns: []string{"gate_result", "total"},
	},
	{
		ID:          "flagged-normalization-rate",
		Name:        "Flagged Normalization Rate",
		Description: "Share of normalized parameters flagged for review, per canonical parameter",
		SQL: `SELECT canonical_name,
       COUNT(*) AS total,
       COUNT(*) FILTER (WHERE flagged_for_review) AS flagged,
       ROUND(AVG(CASE WHEN flagged_for_review THEN 1 ELSE 0 END)::numeric, 4)::float8 AS flagged_rate
FROM normalized_parameters
WHERE created_at >= $1
GROUP BY canonical_name
ORDER BY canonical_name`,
		Columns: []string{"canonical_name", "total", "flagged", "flagged_rate"},
	},
	{
		ID:          "risk-levels-by-parameter",
		Name:        "Risk Levels by Parameter",
		Description: "Risk flags grouped by canonical parameter and risk level",
		SQL: `SELECT canonical_name, risk_level, COUNT(*) AS total
FROM risk_flags
WHERE created_at >= $1
GROUP BY canonical_name, risk_level
ORDER BY canonical_name, risk_level`,
		Columns: []string{"canonical_name", "risk_level", "total"},
	},
	{
		ID:          "audit-failures-by-operation",
		Name:        "Audit Failures by Operation",
		Description: "Failed normalization steps recorded in the audit log, per operation",
		SQL: `SELECT operation, COUNT(*) AS total
FROM normalization_audit_log
WHERE status = 'failed' AND recorded_at >= $1
GROUP BY operation
ORDER BY total DESC, operation`,
		Columns: []string{"operation", "total"},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Querier runs a read-only query and returns rows keyed by column name.
type Querier interface {
	Rows(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// Evaluator runs measures through a Querier.
type Evaluator struct {
	q   Querier
	now func() time.Time
}

func NewEvaluator(q Querier) *Evaluator {
	return &Evaluator{q: q, now: time.Now}
}

// Evaluate runs the measure with the given lower bound. A zero since covers
// all rows.
func (e *Evaluator) Evaluate(ctx context.Context, id string, since time.Time) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMeasureNotFound, id)
	}

	results, err := e.q.Rows(ctx, m.SQL, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", m.ID, err)
	}
	if results == nil {
		results = []map[string]interface{}{}
	}

	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		Columns:     m.Columns,
		Since:       since.UTC(),
		GeneratedAt: e.now().UTC(),
		Results:     results,
	}, nil
}

// PGQuerier runs measures against the connection pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

func (p *PGQuerier) Rows(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	var results []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
