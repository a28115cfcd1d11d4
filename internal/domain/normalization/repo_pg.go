package normalization

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labreview/labreview/internal/platform/db"
	"github.com/labreview/labreview/pkg/labmodels"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const npCols = `id, original_parameter_id, user_id, canonical_name,
	original_value, original_unit, normalized_value, standard_unit, conversion_factor,
	reference_range_min, reference_range_max,
	normalization_confidence, flagged_for_review,
	name_confidence, unit_confidence, range_confidence, observed_at`

func (r *repoPG) Insert(ctx context.Context, p *labmodels.NormalizedParameter) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO normalized_parameters (`+npCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.OriginalParameterID, p.UserID, p.CanonicalName,
		p.OriginalValue, p.OriginalUnit, p.NormalizedValue, p.StandardUnit, p.ConversionFactor,
		p.ReferenceRangeMin, p.ReferenceRangeMax,
		p.NormalizationConfidence, p.FlaggedForReview,
		p.NameConfidence, p.UnitConfidence, p.RangeConfidence, p.ObservedAt)
	if err != nil {
		return false, fmt.Errorf("insert normalized parameter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanParameter(row pgx.Row) (*labmodels.NormalizedParameter, error) {
	var p labmodels.NormalizedParameter
	err := row.Scan(&p.ID, &p.OriginalParameterID, &p.UserID, &p.CanonicalName,
		&p.OriginalValue, &p.OriginalUnit, &p.NormalizedValue, &p.StandardUnit, &p.ConversionFactor,
		&p.ReferenceRangeMin, &p.ReferenceRangeMax,
		&p.NormalizationConfidence, &p.FlaggedForReview,
		&p.NameConfidence, &p.UnitConfidence, &p.RangeConfidence, &p.ObservedAt)
	return &p, err
}

func (r *repoPG) History(ctx context.Context, userID, canonical string, since time.Time) ([]*labmodels.NormalizedParameter, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+npCols+`
		FROM normalized_parameters
		WHERE user_id = $1 AND canonical_name = $2 AND observed_at >= $3
		ORDER BY observed_at ASC, original_parameter_id ASC`, userID, canonical, since)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*labmodels.NormalizedParameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan normalized parameter: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
