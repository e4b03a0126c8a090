package projection

import (
	"context"
	"hash/fnv"
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
	defaultPipelineWorkers = 4
	defaultShardCapacity   = 64
)

// PipelineConfig tunes the projection pipeline. Zero fields fall back to
// defaults.
type PipelineConfig struct {
	// Workers is the number of shards. Events for one account always land
	// on the same shard, so per-account ordering is preserved.
	Workers int
	// ShardCapacity bounds each shard's queue. Dispatch blocks when the
	// shard is full.
	ShardCapacity int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Workers <= 0 {
		c.Workers = defaultPipelineWorkers
	}
	if c.ShardCapacity <= 0 {
		c.ShardCapacity = defaultShardCapacity
	}
	return c
}

// PipelineStats is a point-in-time snapshot of pipeline counters.
type PipelineStats struct {
	// Depth is the total number of events queued across all shards.
	Depth int
	// Dispatched counts events accepted by Dispatch.
	Dispatched int64
	// Processed counts events whose handlers all ran, failures included.
	Processed int64
	// HandlerFailures counts individual handler errors.
	HandlerFailures int64
}

// Pipeline fans appended events out to projection handlers. Events are
// sharded by account id so each account's read models are updated in
// journal order; different accounts progress independently.
type Pipeline struct {
	handlers []Handler
	cfg      PipelineConfig
	shards   []chan event.Event
	wg       sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	started bool
	// dispatchers tracks in-flight shard sends so Close can shut the
	// shards safely.
	dispatchers sync.WaitGroup

	dispatched atomic.Int64
	processed  atomic.Int64
	failures   atomic.Int64
}

// NewPipeline builds a pipeline over the given handlers; call Start before
// dispatching.
func NewPipeline(handlers []Handler, cfg PipelineConfig) *Pipeline {
	cfg = cfg.withDefaults()
	shards := make([]chan event.Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan event.Event, cfg.ShardCapacity)
	}
	return &Pipeline{handlers: handlers, cfg: cfg, shards: shards}
}

// Start launches one goroutine per shard. The context bounds handler runs.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return apperrors.New(apperrors.CodeUnknown, "pipeline already started")
	}
	if len(p.handlers) == 0 {
		return apperrors.New(apperrors.CodeUnknown, "at least one handler is required")
	}
	p.started = true

	// Shard workers outlive the caller's context so queued events still
	// apply during shutdown; Close bounds the drain instead.
	workCtx := context.WithoutCancel(ctx)
	for _, shard := range p.shards {
		p.wg.Add(1)
		go p.run(workCtx, shard)
	}
	return nil
}

// Dispatch queues one appended event for projection. It blocks when the
// target shard is full and fails once the pipeline is closed.
func (p *Pipeline) Dispatch(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed || !p.started {
		p.mu.Unlock()
		return apperrors.New(apperrors.CodeProcessorClosed, "projection pipeline is not accepting events")
	}
	shard := p.shards[p.shardFor(evt.AccountID)]
	p.dispatchers.Add(1)
	p.mu.Unlock()
	defer p.dispatchers.Done()

	select {
	case shard <- evt:
		p.dispatched.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) shardFor(accountID string) int {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) run(ctx context.Context, shard <-chan event.Event) {
	defer p.wg.Done()
	for evt := range shard {
		p.apply(ctx, evt)
		p.processed.Add(1)
	}
}

// apply runs every handler for one event. Handlers update independent read
// models, so they run concurrently; a failing handler is logged and skipped
// so the stream keeps moving.
func (p *Pipeline) apply(ctx context.Context, evt event.Event) {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, handler := range p.handlers {
		handler := handler
		group.Go(func() error {
			if err := handler.Apply(groupCtx, evt); err != nil {
				p.failures.Add(1)
				log.Printf("ledger projection %s account=%s version=%d: %v",
					handler.Name(), evt.AccountID, evt.Version, err)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	depth := 0
	for _, shard := range p.shards {
		depth += len(shard)
	}
	return PipelineStats{
		Depth:           depth,
		Dispatched:      p.dispatched.Load(),
		Processed:       p.processed.Load(),
		HandlerFailures: p.failures.Load(),
	}
}

// WaitForIdle blocks until every dispatched event has been processed or the
// timeout elapses.
func (p *Pipeline) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if p.dispatched.Load() == p.processed.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.WithMetadata(apperrors.CodeWaitTimeout,
				"projection events still pending after wait timeout",
				map[string]string{"timeout": timeout.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeouts.CompletionPoll):
		}
	}
}

// Close stops intake and waits for the shards to drain. The context bounds
// the wait; queued events are still applied before Close returns.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	// Intake is refused from here on; wait out dispatchers already
	// blocked in a shard send before closing the channels under them.
	p.dispatchers.Wait()
	for _, shard := range p.shards {
		close(shard)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CodeWaitTimeout, "projection shards did not drain before deadline", ctx.Err())
	}
}
