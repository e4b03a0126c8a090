// Package batch accumulates journal appends and flushes them in batches, by
// size or by time, through a bounded queue and a worker pool. Each
// submission succeeds or fails on its own; one bad event never poisons its
// batch.
package batch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/platform/timeouts"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
)

const (
	defaultMaxBatchSize  = 64
	defaultFlushInterval = 200 * time.Millisecond
	defaultQueueCapacity = 32
	defaultWorkers       = 4
)

// Appender persists one event with optimistic concurrency.
type Appender interface {
	AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error)
}

// Result reports the outcome of one submission. Event carries the assigned
// version on success.
type Result struct {
	Event event.Event
	Err   error
}

// Submission is one event queued for batched append.
type Submission struct {
	Event           event.Event
	ExpectedVersion uint64
	// OnResult, when set, is called exactly once from a worker goroutine.
	OnResult func(Result)
}

// Config tunes the processor. Zero fields fall back to defaults.
type Config struct {
	// MaxBatchSize triggers an immediate flush when the accumulator
	// reaches it.
	MaxBatchSize int
	// FlushInterval bounds how long a partial batch can wait.
	FlushInterval time.Duration
	// QueueCapacity bounds flushed batches awaiting a worker. Submitters
	// block when the queue is full.
	QueueCapacity int
	// Workers is the number of batch-draining goroutines.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	// QueueDepth is the number of flushed batches awaiting a worker.
	QueueDepth int
	// Accumulating is the number of submissions not yet flushed.
	Accumulating int
	// ActiveBatches is the number of batches being drained right now.
	ActiveBatches int64
	// Pending counts submissions accepted but not yet completed.
	Pending int64
	// TotalEventsProcessed counts completed submissions, failures included.
	TotalEventsProcessed int64
	// TotalFailures counts submissions whose append failed.
	TotalFailures int64
	// BatchesFlushed counts batches handed to the queue.
	BatchesFlushed int64
}

// Processor batches submissions for append.
type Processor struct {
	appender Appender
	cfg      Config

	mu     sync.Mutex
	acc    []Submission
	closed bool
	// senders tracks in-flight queue sends so Shutdown can close the
	// queue safely.
	senders sync.WaitGroup

	queue        chan []Submission
	workers      *errgroup.Group
	workerCancel context.CancelFunc
	tickCancel   context.CancelFunc
	started      bool

	submitted      atomic.Int64
	completed      atomic.Int64
	failures       atomic.Int64
	batchesFlushed atomic.Int64
	activeBatches  atomic.Int64
}

// New builds a processor; call Start before submitting.
func New(appender Appender, cfg Config) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		appender: appender,
		cfg:      cfg,
		queue:    make(chan []Submission, cfg.QueueCapacity),
	}
}

// Start launches the worker pool and the interval flusher. The context
// bounds background work, not individual appends.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return apperrors.New(apperrors.CodeUnknown, "processor already started")
	}
	if p.appender == nil {
		return apperrors.New(apperrors.CodeUnknown, "appender is required")
	}
	p.started = true

	// Workers get a context that outlives Shutdown's intake close so
	// queued batches still drain; only a shutdown timeout cancels it.
	workerCtx, workerCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.workerCancel = workerCancel
	tickCtx, tickCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.tickCancel = tickCancel

	group := &errgroup.Group{}
	p.workers = group
	for i := 0; i < p.cfg.Workers; i++ {
		group.Go(func() error {
			p.drain(workerCtx)
			return nil
		})
	}

	go p.flushLoop(tickCtx)
	return nil
}

// Submit queues one event for batched append. It blocks for backpressure
// when a size-triggered flush meets a full queue, and fails once the
// processor is shut down.
func (p *Processor) Submit(ctx context.Context, sub Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed || !p.started {
		p.mu.Unlock()
		return apperrors.New(apperrors.CodeProcessorClosed, "processor is not accepting submissions")
	}
	p.acc = append(p.acc, sub)
	p.submitted.Add(1)
	var batch []Submission
	if len(p.acc) >= p.cfg.MaxBatchSize {
		batch = p.takeBatchLocked()
	}
	p.mu.Unlock()

	if batch != nil {
		return p.enqueue(ctx, batch)
	}
	return nil
}

// Flush hands the current partial batch to the queue immediately.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.takeBatchLocked()
	p.mu.Unlock()
	if batch == nil {
		return nil
	}
	return p.enqueue(ctx, batch)
}

// takeBatchLocked swaps out the accumulator and registers the caller as a
// queue sender. Callers must hold mu.
func (p *Processor) takeBatchLocked() []Submission {
	if len(p.acc) == 0 {
		return nil
	}
	batch := p.acc
	p.acc = nil
	p.senders.Add(1)
	return batch
}

func (p *Processor) enqueue(ctx context.Context, batch []Submission) error {
	defer p.senders.Done()
	select {
	case p.queue <- batch:
		p.batchesFlushed.Add(1)
		return nil
	case <-ctx.Done():
		// The batch was already accepted; complete it as failed rather
		// than dropping it silently.
		p.completeBatch(batch, ctx.Err())
		return ctx.Err()
	}
}

func (p *Processor) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ledger batch flush: %v", err)
			}
		}
	}
}

func (p *Processor) drain(ctx context.Context) {
	for batch := range p.queue {
		p.activeBatches.Add(1)
		for _, sub := range batch {
			stored, err := p.appender.AppendEvent(ctx, sub.Event, sub.ExpectedVersion)
			if err != nil {
				p.failures.Add(1)
				p.deliver(sub, Result{Event: sub.Event, Err: err})
			} else {
				p.deliver(sub, Result{Event: stored})
			}
			p.completed.Add(1)
		}
		p.activeBatches.Add(-1)
	}
}

// completeBatch fails every submission in a batch that never reached the
// queue.
func (p *Processor) completeBatch(batch []Submission, err error) {
	for _, sub := range batch {
		p.failures.Add(1)
		p.deliver(sub, Result{Event: sub.Event, Err: err})
		p.completed.Add(1)
	}
}

// deliver invokes a submission callback, isolating panics so one consumer
// cannot take down a worker.
func (p *Processor) deliver(sub Submission, result Result) {
	if sub.OnResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ledger batch callback panic: %v", r)
		}
	}()
	sub.OnResult(result)
}

// Stats returns a snapshot of processor counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	accumulating := len(p.acc)
	p.mu.Unlock()
	return Stats{
		QueueDepth:           len(p.queue),
		Accumulating:         accumulating,
		ActiveBatches:        p.activeBatches.Load(),
		Pending:              p.submitted.Load() - p.completed.Load(),
		TotalEventsProcessed: p.completed.Load(),
		TotalFailures:        p.failures.Load(),
		BatchesFlushed:       p.batchesFlushed.Load(),
	}
}

// WaitForCompletion blocks until every accepted submission has completed or
// the timeout elapses. A flush is triggered first so partial batches do not
// wait out the interval.
func (p *Processor) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	// The flush shares the wait budget; a full queue must not block past
	// the timeout.
	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Flush(flushCtx); err != nil {
		if flushCtx.Err() != nil && ctx.Err() == nil {
			return apperrors.Wrap(apperrors.CodeWaitTimeout,
				"flush did not complete before wait timeout", err)
		}
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		if p.submitted.Load() == p.completed.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.WithMetadata(apperrors.CodeWaitTimeout,
				"submissions still pending after wait timeout",
				map[string]string{"timeout": timeout.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeouts.CompletionPoll):
		}
	}
}

// Shutdown stops intake, flushes the remaining partial batch, and waits for
// the workers to drain the queue. The context bounds the wait.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	batch := p.takeBatchLocked()
	started := p.started
	p.mu.Unlock()

	if batch != nil {
		// Intake is closed, so this send cannot race new submitters.
		if err := p.enqueue(ctx, batch); err != nil {
			log.Printf("ledger batch shutdown flush: %v", err)
		}
	}

	if p.tickCancel != nil {
		p.tickCancel()
	}
	if !started {
		return nil
	}

	p.senders.Wait()
	close(p.queue)

	done := make(chan struct{})
	go func() {
		_ = p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.workerCancel()
		return nil
	case <-ctx.Done():
		p.workerCancel()
		return apperrors.Wrap(apperrors.CodeWaitTimeout, "workers did not drain before shutdown deadline", ctx.Err())
	}
}
