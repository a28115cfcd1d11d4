package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labreview/labreview/pkg/labmodels"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]labmodels.AuditEntry
	fail    int
	calls   int
}

func (r *recordingSink) Append(_ context.Context, entries []labmodels.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail > 0 {
		r.fail--
		return errors.New("connection reset")
	}
	cp := make([]labmodels.AuditEntry, len(entries))
	copy(cp, entries)
	r.batches = append(r.batches, cp)
	return nil
}

func (r *recordingSink) snapshot() (int, [][]labmodels.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.batches
}

func entries(parameterID string, n int) []labmodels.AuditEntry {
	out := make([]labmodels.AuditEntry, n)
	for i := range out {
		out[i] = labmodels.AuditEntry{
			ID:          uuid.New(),
			ParameterID: parameterID,
			Sequence:    i + 1,
			Operation:   labmodels.OpNameMapping,
			Status:      labmodels.StepSuccess,
			Timestamp:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	})
	if err == nil || err.Error() != "attempt 2" {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_ = RetryWithBackoff(ctx, 5, time.Hour, func() error {
		calls++
		return errors.New("down")
	})
	if calls != 1 {
		t.Errorf("expected a single attempt after cancellation, got %d", calls)
	}
}

func TestRetrying_WrapsFailure(t *testing.T) {
	next := &recordingSink{fail: 10}
	r := NewRetrying(next, 3, time.Millisecond, zerolog.Nop())

	err := r.Append(context.Background(), entries("p-1", 2))
	if !errors.Is(err, labmodels.ErrAuditWriteFailure) {
		t.Fatalf("expected ErrAuditWriteFailure, got %v", err)
	}
	if calls, _ := next.snapshot(); calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	next := &recordingSink{fail: 1}
	r := NewRetrying(next, 3, time.Millisecond, zerolog.Nop())

	if err := r.Append(context.Background(), entries("p-1", 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, batches := next.snapshot(); len(batches) != 1 {
		t.Errorf("expected 1 written batch, got %d", len(batches))
	}
}

func TestBufferedSink_FlushesOnBatchSize(t *testing.T) {
	next := &recordingSink{}
	b := NewBufferedSink(next, 3, time.Hour, zerolog.Nop())
	defer b.Close()

	if err := b.Append(context.Background(), entries("p-1", 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, batches := next.snapshot()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %v", batches)
	}
}

func TestBufferedSink_FlushesOnInterval(t *testing.T) {
	next := &recordingSink{}
	b := NewBufferedSink(next, 100, 5*time.Millisecond, zerolog.Nop())
	defer b.Close()

	if err := b.Append(context.Background(), entries("p-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, batches := next.snapshot(); len(batches) != 1 {
		t.Fatalf("expected interval flush, got %d batches", len(batches))
	}
}

func TestBufferedSink_PreservesPerParameterOrder(t *testing.T) {
	next := &recordingSink{}
	b := NewBufferedSink(next, 16, 2*time.Millisecond, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p-%d", i)
			for _, e := range entries(id, 4) {
				if err := b.Append(context.Background(), []labmodels.AuditEntry{e}); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	b.Close()

	last := map[string]int{}
	total := 0
	_, batches := next.snapshot()
	for _, batch := range batches {
		for _, e := range batch {
			total++
			if e.Sequence != last[e.ParameterID]+1 {
				t.Fatalf("out of order for %s: got sequence %d after %d", e.ParameterID, e.Sequence, last[e.ParameterID])
			}
			last[e.ParameterID] = e.Sequence
		}
	}
	if total != 32 {
		t.Errorf("expected 32 entries written, got %d", total)
	}
}

func TestBufferedSink_PropagatesFailure(t *testing.T) {
	next := &recordingSink{fail: 1}
	b := NewBufferedSink(next, 1, time.Hour, zerolog.Nop())
	defer b.Close()

	err := b.Append(context.Background(), entries("p-1", 1))
	if !errors.Is(err, labmodels.ErrAuditWriteFailure) {
		t.Fatalf("expected ErrAuditWriteFailure, got %v", err)
	}
	if labmodels.Code(err) != labmodels.CodeAuditWriteFailure {
		t.Errorf("unexpected code %q", labmodels.Code(err))
	}
}

func TestBufferedSink_AppendAfterClose(t *testing.T) {
	b := NewBufferedSink(&recordingSink{}, 1, time.Hour, zerolog.Nop())
	b.Close()
	b.Close()

	err := b.Append(context.Background(), entries("p-1", 1))
	if !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestBufferedSink_CloseFlushesPending(t *testing.T) {
	next := &recordingSink{}
	b := NewBufferedSink(next, 100, time.Hour, zerolog.Nop())

	errc := make(chan error, 1)
	go func() { errc <- b.Append(context.Background(), entries("p-1", 2)) }()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, batches := next.snapshot(); len(batches) != 1 || len(batches[0]) != 2 {
		t.Errorf("expected pending entries flushed on close, got %v", batches)
	}
}

func TestMemorySink_SkipsDuplicates(t *testing.T) {
	m := NewMemorySink()
	batch := entries("p-1", 2)
	_ = m.Append(context.Background(), batch)
	_ = m.Append(context.Background(), batch)
	_ = m.Append(context.Background(), entries("p-2", 1))

	if len(m.Entries()) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m.Entries()))
	}
	if got := m.ForParameter("p-1"); len(got) != 2 || got[0].Sequence != 1 {
		t.Errorf("unexpected entries for p-1: %+v", got)
	}
}
