package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSerial_PublishesInOrderAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var published []int
	var acked []int

	cfg := Config{
		Publish: func(_ context.Context, payload interface{}, attempt int) error {
			mu.Lock()
			published = append(published, payload.(int))
			mu.Unlock()
			return nil
		},
		Ack: func(_ context.Context, item Item) error {
			mu.Lock()
			acked = append(acked, item.Payload.(int))
			mu.Unlock()
			return nil
		},
	}
	s := NewSerial(ctx, cfg)

	for i := 0; i < 5; i++ {
		if err := s.Submit(ctx, Item{Seq: uint64(i), Payload: i}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	s.Close(closeCtx)

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2, 3, 4}
	if len(published) != len(want) {
		t.Fatalf("published = %v, want %v", published, want)
	}
	for i := range want {
		if published[i] != want[i] || acked[i] != want[i] {
			t.Fatalf("published=%v acked=%v, want %v", published, acked, want)
		}
	}
}

func TestSerial_RetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	var gotAttempt int
	retries := 0

	cfg := Config{
		WaitAfterFailedPublish: time.Millisecond,
		Publish: func(_ context.Context, payload interface{}, attempt int) error {
			attempts++
			gotAttempt = attempt
			if attempts < 3 {
				return errBoom
			}
			return nil
		},
		OnRetry: func(_ context.Context, item Item, attempt int) {
			retries++
		},
		Ack: func(context.Context, Item) error { return nil },
	}
	s := NewSerial(ctx, cfg)

	done := make(chan struct{})
	go func() {
		_ = s.Submit(ctx, Item{Seq: 1, Payload: "m1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit did not accept item")
	}

	time.Sleep(50 * time.Millisecond)
	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	s.Close(closeCtx)

	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if gotAttempt != 2 {
		t.Fatalf("final attempt index = %d, want 2 (redeliveryCount)", gotAttempt)
	}
	if retries != 2 {
		t.Fatalf("retries = %d, want 2", retries)
	}
}

func TestPipelined_AcksInSubmissionOrderDespiteOutOfOrderCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var acked []int

	cfg := Config{
		PipelineConcurrency: 4,
		Publish: func(_ context.Context, payload interface{}, attempt int) error {
			// item 0 is slow, others are fast: forces out-of-order completion.
			if payload.(int) == 0 {
				time.Sleep(80 * time.Millisecond)
			}
			return nil
		},
		Ack: func(_ context.Context, item Item) error {
			mu.Lock()
			acked = append(acked, item.Payload.(int))
			mu.Unlock()
			return nil
		},
	}
	p := NewPipelined(cfg)

	for i := 0; i < 4; i++ {
		if err := p.Submit(ctx, Item{Seq: uint64(i), Payload: i}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	p.Close(closeCtx)

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2, 3}
	if len(acked) != len(want) {
		t.Fatalf("acked = %v, want %v", acked, want)
	}
	for i := range want {
		if acked[i] != want[i] {
			t.Fatalf("acked = %v, want strictly increasing %v", acked, want)
		}
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
