package auditlog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/labreview/labreview/pkg/labmodels"
)

// RetryWithBackoff calls fn up to maxAttempts times, doubling the delay after
// each failure. It stops early when ctx is done.
func RetryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return lastErr
			case <-t.C:
			}
		}
	}
	return lastErr
}

// Retrying retries a failed Append on the wrapped sink.
type Retrying struct {
	next      Sink
	attempts  int
	baseDelay time.Duration
	logger    zerolog.Logger
}

func NewRetrying(next Sink, attempts int, baseDelay time.Duration, logger zerolog.Logger) *Retrying {
	return &Retrying{
		next:      next,
		attempts:  attempts,
		baseDelay: baseDelay,
		logger:    logger.With().Str("component", "audit-retry").Logger(),
	}
}

func (r *Retrying) Append(ctx context.Context, entries []labmodels.AuditEntry) error {
	attempt := 0
	err := RetryWithBackoff(ctx, r.attempts, r.baseDelay, func() error {
		attempt++
		err := r.next.Append(ctx, entries)
		if err != nil {
			r.logger.Warn().Err(err).Int("attempt", attempt).Int("entries", len(entries)).Msg("audit append failed")
		}
		return err
	})
	return writeFailure(err)
}
