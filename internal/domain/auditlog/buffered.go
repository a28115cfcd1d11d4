package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labreview/labreview/internal/platform/metrics"
	"github.com/labreview/labreview/pkg/labmodels"
)

// ErrSinkClosed is returned by Append after Close.
var ErrSinkClosed = errors.New("audit sink closed")

const flushTimeout = 10 * time.Second

type appendRequest struct {
	entries []labmodels.AuditEntry
	ack     chan error
}

// BufferedSink funnels appends from many goroutines through a single
// flusher. Requests are written in arrival order, grouped into batches of at
// most batchSize entries or whatever arrived within one flush interval.
// Append blocks until the batch holding its entries has been written.
type BufferedSink struct {
	next      Sink
	batchSize int
	interval  time.Duration
	logger    zerolog.Logger

	reqs    chan appendRequest
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewBufferedSink(next Sink, batchSize int, interval time.Duration, logger zerolog.Logger) *BufferedSink {
	if batchSize < 1 {
		batchSize = 1
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	b := &BufferedSink{
		next:      next,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With().Str("component", "audit-sink").Logger(),
		reqs:      make(chan appendRequest),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *BufferedSink) Append(ctx context.Context, entries []labmodels.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	req := appendRequest{entries: entries, ack: make(chan error, 1)}

	select {
	case <-b.done:
		return writeFailure(ErrSinkClosed)
	case <-ctx.Done():
		return writeFailure(ctx.Err())
	case b.reqs <- req:
	}

	select {
	case err := <-req.ack:
		return err
	case <-ctx.Done():
		return writeFailure(ctx.Err())
	}
}

// Close flushes queued entries and stops the flusher.
func (b *BufferedSink) Close() {
	b.once.Do(func() { close(b.done) })
	<-b.stopped
}

func (b *BufferedSink) run() {
	defer close(b.stopped)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var pending []appendRequest
	queued := 0

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]labmodels.AuditEntry, 0, queued)
		for _, r := range pending {
			batch = append(batch, r.entries...)
		}

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := writeFailure(b.next.Append(ctx, batch))
		cancel()

		metrics.ObserveAuditFlush(len(batch), err != nil)
		if err != nil {
			b.logger.Error().Err(err).Int("entries", len(batch)).Msg("audit flush failed")
		}
		for _, r := range pending {
			r.ack <- err
		}
		pending = pending[:0]
		queued = 0
	}

	for {
		select {
		case r := <-b.reqs:
			pending = append(pending, r)
			queued += len(r.entries)
			if queued >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.done:
			for {
				select {
				case r := <-b.reqs:
					pending = append(pending, r)
					queued += len(r.entries)
				default:
					flush()
					return
				}
			}
		}
	}
}

// String describes the sink configuration for startup logs.
func (b *BufferedSink) String() string {
	return fmt.Sprintf("buffered(batch=%d, interval=%s)", b.batchSize, b.interval)
}
