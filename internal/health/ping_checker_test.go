package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePinger struct {
	fail atomic.Int32
}

func (f *fakePinger) HealthPing(ctx context.Context) error {
	if f.fail.Load() == 1 {
		return errors.New("ping failed")
	}
	return nil
}

func TestPingChecker_ReflectsPingResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakePinger{}
	c := NewPingChecker("storage", p)
	if c.IsHealthy() {
		t.Fatal("expected unhealthy before first ping")
	}

	go c.Start(ctx, 10*time.Millisecond)
	waitTrue(t, c.IsHealthy)

	p.fail.Store(1)
	waitTrue(t, func() bool { return !c.IsHealthy() })
}
