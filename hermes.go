// Package hermes implements the transactional-outbox runtime described in
// SPEC_FULL.md: a per-partition consumer streaming committed outbox rows
// from either PostgreSQL logical replication or MongoDB change streams,
// publishing them in commit order to a user callback, and advancing a
// persisted acknowledgement position.
package hermes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/hermesdb/hermes/internal/auxiliary"
	"github.com/hermesdb/hermes/internal/changefeed"
	"github.com/hermesdb/hermes/internal/health"
	"github.com/hermesdb/hermes/internal/logger"
	"github.com/hermesdb/hermes/internal/queue"
)

// healthPingInterval governs how often the background storage-liveness
// probe runs; independent of the auxiliary outbox's own poll cadence.
const healthPingInterval = 5 * time.Second

// backend abstracts the two storage engines behind the single Consumer
// lifecycle. Implemented by pgBackend (internal/logicalrepl +
// internal/storepg) and mongoBackend (internal/changefeed +
// internal/storemongo).
type backend interface {
	bootstrap(ctx context.Context) error
	// acquire claims exclusive ownership of this (consumerName,
	// partitionKey). Returns ErrConsumerAlreadyTaken (possibly wrapped) if
	// another live consumer already holds it.
	acquire(ctx context.Context) error
	loadState(ctx context.Context) (token string, redelivery int, err error)
	// runIngestor streams committed batches into out until ctx is
	// canceled or a fatal/transport error occurs. first is true only for
	// the call immediately following acquire, letting the backend reuse
	// whatever session acquire already opened.
	runIngestor(ctx context.Context, first bool, out chan<- TransactionBatch) error
	advance(ctx context.Context, token string) error
	recordRetry(ctx context.Context, attempt int) error
	// enqueuePrimary inserts msgs into the primary outbox. tx is the
	// opaque value carried by WithTx/WithSendTx (a *sql.Tx for the log
	// backend); the document backend ignores it, since its transactional
	// semantics come from the caller passing a mongo.SessionContext as ctx.
	enqueuePrimary(ctx context.Context, partitionKey string, msgs []Envelope, tx interface{}) error
	enqueueSecondary(ctx context.Context, msgs []Envelope, tx interface{}) error
	auxiliaryStore() (auxiliary.Store, bool)
	release(ctx context.Context)
	close()
	// ping is a lightweight storage liveness probe, fed to
	// internal/health.PingChecker and surfaced via Health().StorageHealthy.
	ping(ctx context.Context) error
}

// Consumer is the per-partition outbox state machine of spec.md §4.1.
type Consumer struct {
	opts    Options
	backend backend
	log     zerolog.Logger

	mu              sync.Mutex
	state           State
	lastToken       string
	redeliveryCount int

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	queue   queue.Queue
	auxStop context.CancelFunc

	healthChecker *health.ServiceHealthChecker

	releaseSignal func()
}

func newConsumer(opts Options, b backend) *Consumer {
	return &Consumer{
		opts:    opts,
		backend: b,
		log:     logger.New("hermes-consumer"),
		state:   Unstarted,
	}
}

// Start runs migrations, loads or creates the consumer-state row, acquires
// the replication slot / change-stream ownership, and launches the
// ingestor and publishing queue (spec.md §4.1). It returns once streaming
// has begun, not when it ends.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Unstarted && c.state != Stopped {
		c.mu.Unlock()
		return fmt.Errorf("hermes: start: %w (current state %s)", ErrNotStarted, c.state)
	}
	c.state = Starting
	c.mu.Unlock()

	if err := c.backend.bootstrap(ctx); err != nil {
		c.setState(Unstarted)
		return fmt.Errorf("hermes: bootstrap: %w", err)
	}

	if err := c.backend.acquire(ctx); err != nil {
		c.setState(Unstarted)
		return err
	}

	token, redelivery, err := c.backend.loadState(ctx)
	if err != nil {
		c.backend.release(ctx)
		c.setState(Unstarted)
		return fmt.Errorf("hermes: load consumer state: %w", err)
	}
	c.mu.Lock()
	c.lastToken = token
	c.redeliveryCount = redelivery
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.queue = c.newQueue(runCtx)

	batches := make(chan TransactionBatch, 64)
	c.wg.Add(2)
	go c.runReader(runCtx, batches)
	go c.runSubmitter(runCtx, batches)

	if c.opts.Auxiliary != nil {
		if err := c.startAuxiliary(runCtx); err != nil {
			c.log.Warn().Err(err).Msg("auxiliary outbox did not start")
		}
	}

	pingChecker := health.NewPingChecker("storage", pingerFunc(c.backend.ping))
	svcHealth := health.NewServiceHealthChecker(c.log, pingChecker)
	c.mu.Lock()
	c.healthChecker = svcHealth
	c.mu.Unlock()
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		pingChecker.Start(runCtx, healthPingInterval)
	}()
	go func() {
		defer c.wg.Done()
		svcHealth.Start(runCtx, healthPingInterval)
	}()

	if c.opts.disposeOnSignal() {
		c.releaseSignal = watchTerminationSignal(func() { _ = c.Stop(context.Background()) })
	}

	c.setState(Running)
	return nil
}

// startAuxiliary launches the secondary polling queue worker (spec.md
// §4.5) alongside the primary ingestor. It never competes with the
// primary queue's retry semantics; see internal/auxiliary for its own
// tick/lease/publish loop.
func (c *Consumer) startAuxiliary(parent context.Context) error {
	store, ok := c.backend.auxiliaryStore()
	if !ok {
		return ErrAuxiliaryNotConfigured
	}
	auxCtx, cancel := context.WithCancel(parent)
	c.auxStop = cancel

	worker := auxiliary.NewWorker(auxiliary.Config{
		Store:         store,
		Publish:       c.publishAuxiliaryEnvelope,
		CheckInterval: c.opts.Auxiliary.checkInterval(),
		BatchSize:     c.opts.Auxiliary.batchSize(),
	}, c.log.With().Str("task", "auxiliary").Logger())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := worker.Run(auxCtx); err != nil && auxCtx.Err() == nil {
			c.log.Error().Err(err).Msg("auxiliary worker stopped")
		}
	}()
	return nil
}

// publishAuxiliaryEnvelope adapts the auxiliary worker's per-row callback
// to the same Options.Publish the primary queue uses, wrapping the single
// row as a one-envelope TransactionBatch. On failure it waits the
// auxiliary queue's own (shorter) retry delay before returning the error,
// since the worker itself does not sleep between leased rows.
func (c *Consumer) publishAuxiliaryEnvelope(ctx context.Context, env auxiliary.Envelope) error {
	batch := TransactionBatch{
		TransactionID: env.MessageID,
		Envelopes: []DeliveredEnvelope{{
			Envelope: Envelope{
				MessageID:   env.MessageID,
				MessageType: env.MessageType,
				Payload:     []byte(env.Data),
			},
			RedeliveryCount: env.RedeliveryCount,
		}},
	}
	err := c.opts.Publish(ctx, batch)
	if err != nil {
		select {
		case <-time.After(c.opts.Auxiliary.waitAfterFailedPublish()):
		case <-ctx.Done():
		}
	}
	return err
}

func (c *Consumer) newQueue(ctx context.Context) queue.Queue {
	cfg := queue.Config{
		Publish:                c.publishBatch,
		Ack:                    c.ackBatch,
		OnRetry:                c.onRetry,
		OnFailedPublish:        c.onFailedPublishFromQueue,
		WaitAfterFailedPublish: c.opts.waitAfterFailedPublish(),
		PipelineConcurrency:    c.opts.pipelineConcurrency(),
		Logger:                 c.log,
	}
	if c.opts.Serialization {
		return queue.NewSerial(ctx, cfg)
	}
	return queue.NewPipelined(cfg)
}

// runReader owns the single reader task of spec.md §5: it decodes the
// upstream stream and reconnects with backoff on transport failures,
// feeding committed batches into the bounded in-memory queue via batches.
// A lost change-stream resume position is reported to OnDbError as
// ErrPositionLost and ends the reader without reconnecting.
func (c *Consumer) runReader(ctx context.Context, batches chan<- TransactionBatch) {
	defer c.wg.Done()
	first := true

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until ctx is canceled

	for {
		if ctx.Err() != nil {
			return
		}
		err := c.backend.runIngestor(ctx, first, batches)
		first = false
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		if errors.Is(err, changefeed.ErrPositionLost) {
			if c.opts.OnDbError != nil {
				c.opts.OnDbError(DBErrorContext{Op: "ingestor", PartitionKey: c.opts.partitionKey(), Err: fmt.Errorf("%w: %v", ErrPositionLost, err)})
			}
			return
		}
		c.reportDbError("ingestor", err)
		wait := bo.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// runSubmitter is the bridge between the reader's batch channel and the
// publishing queue: it submits batches in the order they arrive, which is
// already commit order (spec.md §5's three concurrent activities: reader,
// publisher, heartbeat/ack — the publisher role lives inside the queue
// variant itself).
func (c *Consumer) runSubmitter(ctx context.Context, batches <-chan TransactionBatch) {
	defer c.wg.Done()
	var seq uint64
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return
			}
			_ = c.queue.Submit(ctx, queue.Item{Seq: seq, Payload: batch})
			seq++
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) publishBatch(ctx context.Context, payload interface{}, attempt int) error {
	batch := payload.(TransactionBatch)
	for i := range batch.Envelopes {
		batch.Envelopes[i].RedeliveryCount = attempt
	}
	return c.opts.Publish(ctx, batch)
}

func (c *Consumer) ackBatch(ctx context.Context, item queue.Item) error {
	batch := item.Payload.(TransactionBatch)
	if c.opts.SaveTimestamps {
		now := c.opts.clock().Now()
		for i := range batch.Envelopes {
			batch.Envelopes[i].DeliveredAt = now
		}
	}
	if err := c.backend.advance(ctx, batch.SourcePosition); err != nil {
		c.reportDbError("advance", err)
		return err
	}
	c.mu.Lock()
	c.lastToken = batch.SourcePosition
	c.redeliveryCount = 0
	c.mu.Unlock()
	return nil
}

func (c *Consumer) onRetry(ctx context.Context, item queue.Item, attempt int) {
	if err := c.backend.recordRetry(ctx, attempt); err != nil {
		c.reportDbError("recordRetry", err)
	}
	c.mu.Lock()
	c.redeliveryCount = attempt
	c.mu.Unlock()
}

func (c *Consumer) onFailedPublishFromQueue(item queue.Item, attempt int, err error) {
	if c.opts.OnFailedPublish == nil {
		return
	}
	batch := item.Payload.(TransactionBatch)
	c.opts.OnFailedPublish(PublishErrorContext{Batch: batch, Attempt: attempt, Err: fmt.Errorf("%w: %v", ErrPublishError, err)})
}

func (c *Consumer) reportDbError(op string, err error) {
	if c.opts.OnDbError != nil {
		c.opts.OnDbError(DBErrorContext{Op: op, PartitionKey: c.opts.partitionKey(), Err: fmt.Errorf("%w: %v", ErrStorageError, err)})
	}
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Enqueue inserts one or more messages into the primary outbox (spec.md
// §4.1 `enqueue(message | messages, {tx?, partitionKey?})`). Only valid
// while Running. Passing WithTx runs the insert inside the supplied
// host-managed transaction instead of one opened internally, so the
// enqueue commits atomically with the caller's own business write; passing
// WithPartitionKey overrides Options.PartitionKey for this call only.
// Accepting a slice rather than a variadic keeps the "convenience of a lone
// value" a surface-layer concern, not part of the core contract (spec.md
// §9 Design Note).
func (c *Consumer) Enqueue(ctx context.Context, msgs []Envelope, opts ...EnqueueOption) error {
	if c.currentState() != Running {
		return ErrNotStarted
	}
	if len(msgs) == 0 {
		return nil
	}
	cfg := enqueueConfig{partitionKey: c.opts.partitionKey()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := c.backend.enqueuePrimary(ctx, cfg.partitionKey, msgs, cfg.tx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return nil
}

// Send inserts one or more messages into the secondary (polling) outbox
// (spec.md §4.5 `send(message | messages, {tx?})`). Fails with
// ErrAuxiliaryNotConfigured when Options.Auxiliary was not set. WithSendTx
// gives Send the same atomicity semantics as Enqueue's WithTx.
func (c *Consumer) Send(ctx context.Context, msgs []Envelope, opts ...SendOption) error {
	if c.currentState() != Running {
		return ErrNotStarted
	}
	if _, ok := c.backend.auxiliaryStore(); !ok {
		return ErrAuxiliaryNotConfigured
	}
	var cfg enqueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := c.backend.enqueueSecondary(ctx, msgs, cfg.tx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return nil
}

// pingerFunc adapts a plain func to health.HealthPinger.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) HealthPing(ctx context.Context) error { return f(ctx) }

func (c *Consumer) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Health returns a diagnostic snapshot (SPEC_FULL.md §D.4).
func (c *Consumer) Health() Health {
	c.mu.Lock()
	checker := c.healthChecker
	h := Health{State: c.state, LastAckedToken: c.lastToken, RedeliveryCount: c.redeliveryCount}
	c.mu.Unlock()
	if checker != nil {
		h.StorageHealthy = checker.IsHealthy()
	}
	return h
}

// Stop is idempotent: subsequent calls after the first are no-ops that
// return nil immediately (spec.md §5 "stop is idempotent and safe to call
// concurrently with itself").
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return nil
	}
	if c.state == Stopping {
		c.mu.Unlock()
		return nil
	}
	c.state = Stopping
	cancel := c.cancel
	aux := c.auxStop
	release := c.releaseSignal
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if aux != nil {
		aux()
	}
	if cancel != nil {
		cancel()
	}

	if c.queue != nil {
		stopCtx, stopCancel := context.WithTimeout(ctx, c.opts.stopTimeout())
		defer stopCancel()
		c.queue.Close(stopCtx)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.stopTimeout()):
	}

	c.backend.release(context.Background())
	c.backend.close()

	c.setState(Stopped)
	return nil
}
