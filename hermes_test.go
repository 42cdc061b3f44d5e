package hermes

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermesdb/hermes/internal/auxiliary"
)

// fakeBackend is an in-memory backend double exercising the Consumer state
// machine end to end without any real storage engine, mirroring
// internal/auxiliary's own fakeStore test double.
type fakeBackend struct {
	mu sync.Mutex

	taken      bool
	bootErr    error
	token      string
	redelivery int

	batches chan TransactionBatch
	acked   []string
	retries []int

	primaryMsgs      []Envelope
	primaryPartition string
	primaryTx        interface{}
	secondaryMsgs    []Envelope
	secondaryTx      interface{}
	auxStore         auxiliary.Store

	released bool
	closed   bool
}

func (b *fakeBackend) bootstrap(ctx context.Context) error { return b.bootErr }

func (b *fakeBackend) acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taken {
		return ErrConsumerAlreadyTaken
	}
	b.taken = true
	return nil
}

func (b *fakeBackend) loadState(ctx context.Context) (string, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token, b.redelivery, nil
}

func (b *fakeBackend) runIngestor(ctx context.Context, first bool, out chan<- TransactionBatch) error {
	for {
		select {
		case batch, ok := <-b.batches:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *fakeBackend) advance(ctx context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.acked = append(b.acked, token)
	return nil
}

func (b *fakeBackend) recordRetry(ctx context.Context, attempt int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = append(b.retries, attempt)
	return nil
}

func (b *fakeBackend) enqueuePrimary(ctx context.Context, partitionKey string, msgs []Envelope, tx interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primaryMsgs = append(b.primaryMsgs, msgs...)
	b.primaryPartition = partitionKey
	b.primaryTx = tx
	return nil
}

func (b *fakeBackend) enqueueSecondary(ctx context.Context, msgs []Envelope, tx interface{}) error {
	if b.auxStore == nil {
		return ErrAuxiliaryNotConfigured
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secondaryMsgs = append(b.secondaryMsgs, msgs...)
	b.secondaryTx = tx
	return nil
}

func (b *fakeBackend) auxiliaryStore() (auxiliary.Store, bool) {
	if b.auxStore == nil {
		return nil, false
	}
	return b.auxStore, true
}

func (b *fakeBackend) release(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
}

func (b *fakeBackend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBackend) ping(ctx context.Context) error { return nil }

func newFakeBackend() *fakeBackend {
	return &fakeBackend{batches: make(chan TransactionBatch, 16)}
}

func TestConsumer_StartRunningStop(t *testing.T) {
	b := newFakeBackend()
	delivered := make(chan TransactionBatch, 1)
	c := newConsumer(Options{
		ConsumerName: "test",
		Publish: func(ctx context.Context, batch TransactionBatch) error {
			delivered <- batch
			return nil
		},
		DisposeOnSignal: boolPtr(false),
	}, b)

	require.Equal(t, Unstarted, c.Health().State)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, Running, c.Health().State)

	b.batches <- TransactionBatch{
		SourcePosition: "1/0",
		Envelopes:      []DeliveredEnvelope{{Envelope: Envelope{MessageID: "m1"}}},
	}

	select {
	case batch := <-delivered:
		require.Len(t, batch.Envelopes, 1)
		require.Equal(t, "m1", batch.Envelopes[0].MessageID)
	case <-time.After(time.Second):
		t.Fatal("batch was not delivered")
	}

	require.Eventually(t, func() bool {
		return c.Health().LastAckedToken == "1/0"
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return c.Health().StorageHealthy
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	require.Equal(t, Stopped, c.Health().State)
	require.True(t, b.released)
	require.True(t, b.closed)

	require.NoError(t, c.Stop(context.Background()))
}

func TestConsumer_StartFailsWhenAlreadyTaken(t *testing.T) {
	b := newFakeBackend()
	b.taken = true
	c := newConsumer(Options{
		ConsumerName:    "test",
		Publish:         func(context.Context, TransactionBatch) error { return nil },
		DisposeOnSignal: boolPtr(false),
	}, b)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrConsumerAlreadyTaken)
	require.Equal(t, Unstarted, c.Health().State)
}

func TestConsumer_EnqueueRejectedBeforeStart(t *testing.T) {
	b := newFakeBackend()
	c := newConsumer(Options{ConsumerName: "test", Publish: func(context.Context, TransactionBatch) error { return nil }}, b)

	err := c.Enqueue(context.Background(), []Envelope{{MessageID: "m1"}})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestConsumer_SendFailsWithoutAuxiliary(t *testing.T) {
	b := newFakeBackend()
	c := newConsumer(Options{
		ConsumerName:    "test",
		Publish:         func(context.Context, TransactionBatch) error { return nil },
		DisposeOnSignal: boolPtr(false),
	}, b)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	err := c.Send(context.Background(), []Envelope{{MessageID: "m1"}})
	require.ErrorIs(t, err, ErrAuxiliaryNotConfigured)
}

func TestConsumer_EnqueueThreadsTxAndPartitionKeyOverride(t *testing.T) {
	b := newFakeBackend()
	c := newConsumer(Options{
		ConsumerName:    "test",
		PartitionKey:    "default",
		Publish:         func(context.Context, TransactionBatch) error { return nil },
		DisposeOnSignal: boolPtr(false),
	}, b)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	hostTx := &sql.Tx{}
	require.NoError(t, c.Enqueue(context.Background(), []Envelope{{MessageID: "m1"}},
		WithTx(hostTx), WithPartitionKey("tenant-7")))

	b.mu.Lock()
	require.Same(t, hostTx, b.primaryTx)
	require.Equal(t, "tenant-7", b.primaryPartition)
	b.mu.Unlock()
}

func TestConsumer_EnqueueDefaultsPartitionKeyWithoutOverride(t *testing.T) {
	b := newFakeBackend()
	c := newConsumer(Options{
		ConsumerName:    "test",
		PartitionKey:    "default",
		Publish:         func(context.Context, TransactionBatch) error { return nil },
		DisposeOnSignal: boolPtr(false),
	}, b)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	require.NoError(t, c.Enqueue(context.Background(), []Envelope{{MessageID: "m1"}}))

	b.mu.Lock()
	require.Equal(t, "default", b.primaryPartition)
	require.Nil(t, b.primaryTx)
	b.mu.Unlock()
}

func TestConsumer_RetryIncrementsBeforeEventualSuccess(t *testing.T) {
	b := newFakeBackend()
	var attempts int
	var mu sync.Mutex
	done := make(chan struct{})

	c := newConsumer(Options{
		ConsumerName: "test",
		Serialization: true,
		WaitAfterFailedPublish: time.Millisecond,
		Publish: func(ctx context.Context, batch TransactionBatch) error {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return errors.New("boom")
			}
			close(done)
			return nil
		},
		DisposeOnSignal: boolPtr(false),
	}, b)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	b.batches <- TransactionBatch{SourcePosition: "1/0", Envelopes: []DeliveredEnvelope{{Envelope: Envelope{MessageID: "m1"}}}}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never succeeded")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, time.Second, 10*time.Millisecond)

	b.mu.Lock()
	require.Equal(t, []int{1, 2}, b.retries)
	b.mu.Unlock()
}

func boolPtr(b bool) *bool { return &b }
