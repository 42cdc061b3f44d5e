package auxiliary

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls batch size and polling cadence, directly mirroring
// internal/outbox.Config's BatchSize/Interval pair.
type Config struct {
	Store         Store
	Publish       PublishFunc
	CheckInterval time.Duration // default 15s, spec.md §4.5
	BatchSize     int           // default 10, spec.md §4.5
}

func (c Config) checkInterval() time.Duration {
	if c.CheckInterval <= 0 {
		return 15 * time.Second
	}
	return c.CheckInterval
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 10
	}
	return c.BatchSize
}

// Worker is the auxiliary polling consumer. Adapted from
// internal/outbox.Worker: same ticker-driven Run loop and lease/handle/mark
// cycle, retargeted at the secondary outbox schema and an opaque publish
// callback instead of the teacher's fixed vector-index apply step.
type Worker struct {
	cfg Config
	log zerolog.Logger

	running atomic.Bool // re-entrancy guard: spec.md §4.5 "skipped if a prior tick has not finished"
}

func NewWorker(cfg Config, log zerolog.Logger) *Worker {
	return &Worker{cfg: cfg, log: log}
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.checkInterval()).Int("batch", w.cfg.batchSize()).Msg("auxiliary worker starting")
	ticker := time.NewTicker(w.cfg.checkInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("auxiliary worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug().Msg("auxiliary tick skipped: previous tick still running")
		return
	}
	defer w.running.Store(false)

	if err := w.processOnce(ctx); err != nil {
		w.log.Error().Err(err).Msg("auxiliary processOnce")
	}
}

func (w *Worker) processOnce(ctx context.Context) error {
	rows, err := w.cfg.Store.LeaseBatch(ctx, w.cfg.batchSize())
	if err != nil {
		return err
	}

	for _, r := range rows {
		env := Envelope{
			MessageID:       r.MessageID,
			MessageType:     r.MessageType,
			Data:            r.Data,
			RedeliveryCount: r.FailsCount,
		}
		if err := w.cfg.Publish(ctx, env); err != nil {
			if e := w.cfg.Store.MarkFailed(ctx, r.Position); e != nil {
				w.log.Error().Err(e).Int64("position", r.Position).Msg("markFailed error")
			}
			continue
		}
		if e := w.cfg.Store.MarkDone(ctx, r.Position); e != nil {
			w.log.Error().Err(e).Int64("position", r.Position).Msg("markDone error")
		}
	}
	return nil
}
