package auditlog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labreview/labreview/internal/platform/db"
	"github.com/labreview/labreview/pkg/labmodels"
)

type sinkPG struct{ pool *pgxpool.Pool }

// NewSinkPG writes entries to normalization_audit_log. A batch is written in
// one transaction; entries whose ID already exists are skipped.
func NewSinkPG(pool *pgxpool.Pool) Sink {
	return &sinkPG{pool: pool}
}

func (s *sinkPG) Append(ctx context.Context, entries []labmodels.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := db.RunInTx(ctx, s.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, s.pool)
		for _, e := range entries {
			_, err := q.Exec(ctx, `
				INSERT INTO normalization_audit_log
					(id, parameter_id, sequence, operation, status, before_value, after_value, reason, recorded_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (id) DO NOTHING`,
				e.ID, e.ParameterID, e.Sequence, string(e.Operation), string(e.Status),
				e.Before, e.After, e.Reason, e.Timestamp)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return writeFailure(err)
}
