package auxiliary

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermesdb/hermes/internal/logger"
)

type fakeStore struct {
	mu    sync.Mutex
	rows  []Row
	done  []int64
	fails []int64
}

func (f *fakeStore) LeaseBatch(ctx context.Context, n int) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		return nil, nil
	}
	var out []Row
	for len(out) < n && len(f.rows) > 0 {
		out = append(out, f.rows[0])
		f.rows = f.rows[1:]
	}
	return out, nil
}

func (f *fakeStore) MarkDone(ctx context.Context, position int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, position)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, position int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = append(f.fails, position)
	return nil
}

func TestWorker_DeliversLeasedRowAndMarksDone(t *testing.T) {
	store := &fakeStore{rows: []Row{
		{Position: 1, MessageID: "c1", MessageType: "Compensate", Data: json.RawMessage(`{"x":1}`)},
	}}

	var published []Envelope
	var mu sync.Mutex
	worker := NewWorker(Config{
		Store:         store,
		CheckInterval: 10 * time.Millisecond,
		BatchSize:     10,
		Publish: func(_ context.Context, env Envelope) error {
			mu.Lock()
			published = append(published, env)
			mu.Unlock()
			return nil
		},
	}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = worker.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	require.Equal(t, "c1", published[0].MessageID)
	require.Equal(t, 0, published[0].RedeliveryCount)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, []int64{1}, store.done)
	require.Empty(t, store.fails)
}

func TestWorker_FailedPublishMarksFailedNotDone(t *testing.T) {
	store := &fakeStore{rows: []Row{
		{Position: 7, MessageID: "c2", MessageType: "Compensate", Data: json.RawMessage(`{}`)},
	}}

	worker := NewWorker(Config{
		Store:         store,
		CheckInterval: 10 * time.Millisecond,
		BatchSize:     10,
		Publish: func(context.Context, Envelope) error {
			return assertError
		},
	}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = worker.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, []int64{7}, store.fails)
	require.Empty(t, store.done)
}

var assertError = &testErr{"publish failed"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
