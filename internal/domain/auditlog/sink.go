// Package auditlog persists the append-only normalization audit trail.
package auditlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/labreview/labreview/pkg/labmodels"
)

// Sink appends audit entries. Implementations must never update or delete
// an entry once written, and must accept re-delivery of an entry already
// stored.
type Sink interface {
	Append(ctx context.Context, entries []labmodels.AuditEntry) error
}

// writeFailure wraps err with ErrAuditWriteFailure unless it already is one.
func writeFailure(err error) error {
	if err == nil || errors.Is(err, labmodels.ErrAuditWriteFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", labmodels.ErrAuditWriteFailure, err)
}
