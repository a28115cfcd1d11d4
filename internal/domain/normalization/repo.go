package normalization

import (
	"context"
	"time"

	"github.com/labreview/labreview/pkg/labmodels"
)

// Repository stores NormalizedParameters. Insert is idempotent on the
// record ID and reports whether a new row was written.
type Repository interface {
	Insert(ctx context.Context, p *labmodels.NormalizedParameter) (bool, error)
	// History returns a user's records for one canonical name observed at or
	// after since, oldest first.
	History(ctx context.Context, userID, canonical string, since time.Time) ([]*labmodels.NormalizedParameter, error)
}
