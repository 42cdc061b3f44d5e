package queue

import (
	"container/heap"
	"context"
	"sync"
)

// Pipelined allows up to Config.PipelineConcurrency publish calls
// outstanding concurrently, but reorders their completions back into
// submission (= commit) order before acknowledging — spec.md §4.4's
// "pipelined (non-blocking) variant". Completed-but-unacked items sit in a
// min-heap keyed by submission ticket; an item is acked only once every
// smaller ticket has already been acked.
type Pipelined struct {
	cfg Config
	sem chan struct{}

	mu       sync.Mutex
	ready    readyHeap
	nextIn   uint64 // ticket to assign to the next Submit call
	nextAck  uint64 // ticket the heap is waiting to ack next

	wg     sync.WaitGroup
	closed sync.Once
	stopCh chan struct{}
}

// NewPipelined constructs a pipelined queue. The returned queue accepts
// Submit calls immediately; there is no separate Start.
func NewPipelined(cfg Config) *Pipelined {
	n := cfg.pipelineConcurrency()
	return &Pipelined{
		cfg:    cfg,
		sem:    make(chan struct{}, n),
		stopCh: make(chan struct{}),
	}
}

// Submit acquires a concurrency slot (blocking = backpressure once
// PipelineConcurrency outstanding publishes are in flight) and launches the
// publish-with-retry loop in its own goroutine.
func (p *Pipelined) Submit(ctx context.Context, item Item) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	ticket := p.nextIn
	p.nextIn++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		// publishWithRetry acks on success; here that ack only records the
		// outcome, and complete issues the real ack in ticket order.
		published := false
		cfg := p.cfg
		cfg.Ack = func(context.Context, Item) error { published = true; return nil }
		publishWithRetry(ctx, cfg, item)
		if published {
			p.complete(ctx, ticket, item)
		}
	}()
	return nil
}

// complete records a finished item and drains the heap's prefix of
// contiguous, ready tickets in order, acking each (spec.md §4.4's "advance
// the head only when the head's predecessor has already advanced"). Acks
// run under the lock, so an ack never starts before its predecessor's has
// returned.
func (p *Pipelined) complete(ctx context.Context, ticket uint64, item Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	heap.Push(&p.ready, readyItem{ticket: ticket, item: item})
	for len(p.ready) > 0 && p.ready[0].ticket == p.nextAck {
		ri := heap.Pop(&p.ready).(readyItem)
		p.nextAck++
		_ = p.cfg.Ack(ctx, ri.item)
	}
}

// Close stops accepting the effects of in-flight retries past ctx's
// deadline; it does not cancel publish calls already running (spec.md §5:
// "any in-flight user publish call is not cancelled").
func (p *Pipelined) Close(ctx context.Context) {
	p.closed.Do(func() { close(p.stopCh) })
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
