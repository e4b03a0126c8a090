package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/storage/memory"
)

func depositEvent(t *testing.T, accountID, amount string) event.Event {
	t.Helper()
	data, err := event.MarshalPayload(event.MoneyDepositedPayload{Amount: amount, Currency: "USD"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{AccountID: accountID, Type: event.TypeMoneyDeposited, PayloadJSON: data}
}

func startProcessor(t *testing.T, appender Appender, cfg Config) *Processor {
	t.Helper()
	p := New(appender, cfg)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

type resultCollector struct {
	mu      sync.Mutex
	results []Result
}

func (c *resultCollector) callback() func(Result) {
	return func(r Result) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.results = append(c.results, r)
	}
}

func (c *resultCollector) snapshot() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

func TestFlushOnSizeThreshold(t *testing.T) {
	store := memory.New(nil)
	p := startProcessor(t, store, Config{MaxBatchSize: 2, FlushInterval: time.Hour})
	ctx := context.Background()
	collector := &resultCollector{}

	for i := 0; i < 2; i++ {
		err := p.Submit(ctx, Submission{
			Event:           depositEvent(t, "acc-1", "10.00"),
			ExpectedVersion: uint64(i),
			OnResult:        collector.callback(),
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	results := collector.snapshot()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected failure: %v", r.Err)
		}
		if r.Event.Version == 0 {
			t.Fatal("expected assigned version in result")
		}
	}
	count, err := store.CountEvents(ctx, "acc-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestFlushOnInterval(t *testing.T) {
	store := memory.New(nil)
	p := startProcessor(t, store, Config{MaxBatchSize: 100, FlushInterval: 20 * time.Millisecond})
	ctx := context.Background()

	if err := p.Submit(ctx, Submission{Event: depositEvent(t, "acc-1", "10.00"), ExpectedVersion: 0}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := store.CountEvents(ctx, "acc-1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("interval flush never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMixedBatchIsolatesFailures(t *testing.T) {
	store := memory.New(nil)
	p := startProcessor(t, store, Config{MaxBatchSize: 2, FlushInterval: time.Hour})
	ctx := context.Background()
	collector := &resultCollector{}

	// Both submissions claim expected version 0; the second loses the
	// version slot and must fail alone.
	for i := 0; i < 2; i++ {
		err := p.Submit(ctx, Submission{
			Event:           depositEvent(t, "acc-1", "10.00"),
			ExpectedVersion: 0,
			OnResult:        collector.callback(),
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	results := collector.snapshot()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	var ok, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("ok = %d failed = %d, want 1/1", ok, failed)
	}

	stats := p.Stats()
	if stats.TotalEventsProcessed != 2 {
		t.Fatalf("processed = %d, want 2", stats.TotalEventsProcessed)
	}
	if stats.TotalFailures != 1 {
		t.Fatalf("failures = %d, want 1", stats.TotalFailures)
	}
	if stats.Pending != 0 {
		t.Fatalf("pending = %d, want 0", stats.Pending)
	}
}

func TestCallbackPanicDoesNotKillWorker(t *testing.T) {
	store := memory.New(nil)
	p := startProcessor(t, store, Config{MaxBatchSize: 1, FlushInterval: time.Hour})
	ctx := context.Background()

	err := p.Submit(ctx, Submission{
		Event:           depositEvent(t, "acc-1", "10.00"),
		ExpectedVersion: 0,
		OnResult:        func(Result) { panic("consumer bug") },
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	// The pool must still process later submissions.
	collector := &resultCollector{}
	err = p.Submit(ctx, Submission{
		Event:           depositEvent(t, "acc-1", "20.00"),
		ExpectedVersion: 1,
		OnResult:        collector.callback(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if results := collector.snapshot(); len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	store := memory.New(nil)
	p := New(store, Config{})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	err := p.Submit(context.Background(), Submission{Event: depositEvent(t, "acc-1", "1.00")})
	if !errors.Is(err, apperrors.New(apperrors.CodeProcessorClosed, "")) {
		t.Fatalf("expected processor closed, got %v", err)
	}
	// Shutdown is idempotent.
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestShutdownFlushesPartialBatch(t *testing.T) {
	store := memory.New(nil)
	p := New(store, Config{MaxBatchSize: 100, FlushInterval: time.Hour})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()

	collector := &resultCollector{}
	if err := p.Submit(ctx, Submission{
		Event:           depositEvent(t, "acc-1", "10.00"),
		ExpectedVersion: 0,
		OnResult:        collector.callback(),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	results := collector.snapshot()
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	count, err := store.CountEvents(ctx, "acc-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestWaitForCompletionTimesOut(t *testing.T) {
	blocker := &blockingAppender{release: make(chan struct{})}
	p := startProcessor(t, blocker, Config{MaxBatchSize: 1, FlushInterval: time.Hour})
	ctx := context.Background()

	if err := p.Submit(ctx, Submission{Event: depositEvent(t, "acc-1", "1.00")}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err := p.WaitForCompletion(ctx, 50*time.Millisecond)
	if !errors.Is(err, apperrors.New(apperrors.CodeWaitTimeout, "")) {
		t.Fatalf("expected wait timeout, got %v", err)
	}
	close(blocker.release)
	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait after release: %v", err)
	}
}

func TestWaitForCompletionTimesOutOnFullQueue(t *testing.T) {
	blocker := &blockingAppender{release: make(chan struct{})}
	p := New(blocker, Config{MaxBatchSize: 100, FlushInterval: time.Hour, QueueCapacity: 1, Workers: 1})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()

	// One batch busy in the worker, one filling the queue, a third
	// accumulating so the wait's own flush meets a full queue.
	if err := p.Submit(ctx, Submission{Event: depositEvent(t, "acc-1", "1.00")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().ActiveBatches != 1 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first batch")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Submit(ctx, Submission{Event: depositEvent(t, "acc-1", "2.00")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := p.Submit(ctx, Submission{Event: depositEvent(t, "acc-1", "3.00")}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err := p.WaitForCompletion(ctx, 50*time.Millisecond)
	if !errors.Is(err, apperrors.New(apperrors.CodeWaitTimeout, "")) {
		t.Fatalf("expected wait timeout, got %v", err)
	}

	close(blocker.release)
	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait after release: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

type blockingAppender struct {
	release chan struct{}
}

func (b *blockingAppender) AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
	evt.Version = expectedVersion + 1
	return evt, nil
}
