package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labreview/labreview/internal/platform/db"
	"github.com/labreview/labreview/pkg/labmodels"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns a Store that queries the reference tables directly.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, labmodels.ErrLookupStoreUnavailable, err)
}

func (s *storePG) ResolveName(ctx context.Context, variant string) ([]CanonicalMapping, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT variant_name, canonical_name, confidence
		FROM parameter_name_mappings
		WHERE LOWER(variant_name) = $1
		ORDER BY confidence DESC, canonical_name ASC`, NormalizeName(variant))
	if err != nil {
		return nil, unavailable("resolve name", err)
	}
	defer rows.Close()

	var out []CanonicalMapping
	for rows.Next() {
		var m CanonicalMapping
		if err := rows.Scan(&m.VariantName, &m.CanonicalName, &m.Confidence); err != nil {
			return nil, unavailable("scan name mapping", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate name mappings", err)
	}
	return out, nil
}

func (s *storePG) StandardUnit(ctx context.Context, canonical string) (string, error) {
	var unit string
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT standard_unit FROM canonical_parameters WHERE canonical_name = $1`, canonical).Scan(&unit)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("standard unit for %s: %w", canonical, labmodels.ErrConversionNotFound)
	}
	if err != nil {
		return "", unavailable("standard unit", err)
	}
	return unit, nil
}

func (s *storePG) ResolveUnit(ctx context.Context, canonical, sourceUnit, targetUnit string) (*ConversionRule, error) {
	var (
		rule   ConversionRule
		factor string
	)
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT canonical_name, source_unit, target_unit, conversion_factor::text, confidence
		FROM unit_conversion_rules
		WHERE canonical_name = $1 AND LOWER(source_unit) = $2 AND LOWER(target_unit) = $3
		ORDER BY confidence DESC
		LIMIT 1`,
		canonical, NormalizeUnit(sourceUnit), NormalizeUnit(targetUnit),
	).Scan(&rule.CanonicalName, &rule.SourceUnit, &rule.TargetUnit, &factor, &rule.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s->%s: %w", canonical, sourceUnit, targetUnit, labmodels.ErrConversionNotFound)
	}
	if err != nil {
		return nil, unavailable("resolve unit", err)
	}
	rule.Factor, err = decimal.NewFromString(strings.TrimSpace(factor))
	if err != nil {
		return nil, unavailable("parse conversion factor", err)
	}
	return &rule, nil
}

const rangeCols = `canonical_name, standard_unit, range_min, range_max, age_min, age_max, gender, confidence`

func scanRange(row pgx.Row) (ReferenceRange, error) {
	var r ReferenceRange
	err := row.Scan(&r.CanonicalName, &r.StandardUnit, &r.RangeMin, &r.RangeMax,
		&r.AgeMin, &r.AgeMax, &r.Gender, &r.Confidence)
	return r, err
}

func (s *storePG) ResolveRanges(ctx context.Context, canonical, standardUnit string) ([]ReferenceRange, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+rangeCols+`
		FROM reference_ranges
		WHERE canonical_name = $1 AND LOWER(standard_unit) = $2
		ORDER BY id`, canonical, NormalizeUnit(standardUnit))
	if err != nil {
		return nil, unavailable("resolve ranges", err)
	}
	defer rows.Close()

	var out []ReferenceRange
	for rows.Next() {
		r, err := scanRange(rows)
		if err != nil {
			return nil, unavailable("scan reference range", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate reference ranges", err)
	}
	return out, nil
}

func (s *storePG) Interactions(ctx context.Context, canonical string) ([]InteractionRule, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT canonical_name, medication_term, note
		FROM interaction_rules
		WHERE canonical_name = $1
		ORDER BY medication_term`, canonical)
	if err != nil {
		return nil, unavailable("interactions", err)
	}
	defer rows.Close()

	var out []InteractionRule
	for rows.Next() {
		var r InteractionRule
		if err := rows.Scan(&r.CanonicalName, &r.MedicationTerm, &r.Note); err != nil {
			return nil, unavailable("scan interaction", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate interactions", err)
	}
	return out, nil
}

// LoadSnapshotPG reads every reference table into an immutable Snapshot.
func LoadSnapshotPG(ctx context.Context, q db.Queryable) (*Snapshot, error) {
	var data Data

	rows, err := q.Query(ctx, `SELECT canonical_name, display_name, standard_unit FROM canonical_parameters`)
	if err != nil {
		return nil, unavailable("load canonical parameters", err)
	}
	data.Parameters, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (CanonicalParameter, error) {
		var p CanonicalParameter
		err := row.Scan(&p.CanonicalName, &p.DisplayName, &p.StandardUnit)
		return p, err
	})
	if err != nil {
		return nil, unavailable("load canonical parameters", err)
	}

	rows, err = q.Query(ctx, `SELECT variant_name, canonical_name, confidence FROM parameter_name_mappings`)
	if err != nil {
		return nil, unavailable("load name mappings", err)
	}
	data.Mappings, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (CanonicalMapping, error) {
		var m CanonicalMapping
		err := row.Scan(&m.VariantName, &m.CanonicalName, &m.Confidence)
		return m, err
	})
	if err != nil {
		return nil, unavailable("load name mappings", err)
	}

	rows, err = q.Query(ctx, `SELECT canonical_name, source_unit, target_unit, conversion_factor::text, confidence FROM unit_conversion_rules`)
	if err != nil {
		return nil, unavailable("load conversion rules", err)
	}
	data.Conversions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConversionEntry, error) {
		var c ConversionEntry
		err := row.Scan(&c.CanonicalName, &c.SourceUnit, &c.TargetUnit, &c.Factor, &c.Confidence)
		c.Factor = strings.TrimSpace(c.Factor)
		return c, err
	})
	if err != nil {
		return nil, unavailable("load conversion rules", err)
	}

	rows, err = q.Query(ctx, `SELECT `+rangeCols+` FROM reference_ranges ORDER BY id`)
	if err != nil {
		return nil, unavailable("load reference ranges", err)
	}
	data.Ranges, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReferenceRange, error) {
		return scanRange(row)
	})
	if err != nil {
		return nil, unavailable("load reference ranges", err)
	}

	rows, err = q.Query(ctx, `SELECT canonical_name, medication_term, note FROM interaction_rules`)
	if err != nil {
		return nil, unavailable("load interactions", err)
	}
	data.Interactions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (InteractionRule, error) {
		var r InteractionRule
		err := row.Scan(&r.CanonicalName, &r.MedicationTerm, &r.Note)
		return r, err
	})
	if err != nil {
		return nil, unavailable("load interactions", err)
	}

	return NewSnapshot(data)
}
