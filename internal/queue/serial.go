package queue

import (
	"context"
	"sync"
	"time"
)

// Serial publishes at most one batch at a time, in submission order — the
// simplest-correctness variant of spec.md §4.4, grounded on
// internal/outbox/worker.go's single-goroutine processOnce loop.
type Serial struct {
	cfg Config

	in     chan Item
	done   chan struct{}
	closed sync.Once
}

// NewSerial starts the background publisher goroutine and returns the
// queue. cfg.Publish and cfg.Ack must be set.
func NewSerial(ctx context.Context, cfg Config) *Serial {
	s := &Serial{
		cfg:  cfg,
		in:   make(chan Item, 64),
		done: make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Serial) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case item, ok := <-s.in:
			if !ok {
				return
			}
			publishWithRetry(ctx, s.cfg, item)
		case <-ctx.Done():
			return
		}
	}
}

// Submit blocks until the item is accepted or ctx is canceled.
func (s *Serial) Submit(ctx context.Context, item Item) error {
	select {
	case s.in <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new items and waits for the in-flight item (if
// any) to finish publishing, up to ctx's deadline.
func (s *Serial) Close(ctx context.Context) {
	s.closed.Do(func() { close(s.in) })
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

// publishWithRetry is shared by both variants: call the user callback,
// and on failure, invoke the failure sink, persist the bumped redelivery
// counter, wait Options.WaitAfterFailedPublish (cancelable), and retry —
// forever, since spec.md defines no retry budget for the primary queue.
func publishWithRetry(ctx context.Context, cfg Config, item Item) {
	attempt := 0
	for {
		err := cfg.Publish(ctx, item.Payload, attempt)
		if err == nil {
			_ = cfg.Ack(ctx, item)
			return
		}
		if cfg.OnFailedPublish != nil {
			cfg.OnFailedPublish(item, attempt, err)
		}
		attempt++
		if cfg.OnRetry != nil {
			cfg.OnRetry(ctx, item, attempt)
		}
		select {
		case <-time.After(cfg.waitAfterFailedPublish()):
		case <-ctx.Done():
			return
		}
	}
}
