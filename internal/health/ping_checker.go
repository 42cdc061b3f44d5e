package health

import (
	"context"
	"sync/atomic"
	"time"
)

// PingChecker adapts a HealthPinger (a single ctx-bound probe, e.g. a
// storage engine's Ping) into a HealthChecker that ServiceHealthChecker can
// aggregate, by calling it on its own ticker and caching the last result.
type PingChecker struct {
	name    string
	pinger  HealthPinger
	healthy atomic.Int32
}

// NewPingChecker wraps pinger under name. Reports unhealthy until the first
// successful ping.
func NewPingChecker(name string, pinger HealthPinger) *PingChecker {
	return &PingChecker{name: name, pinger: pinger}
}

func (c *PingChecker) Name() string    { return c.name }
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Start pings on the given interval until ctx is canceled.
func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ping := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if c.pinger.HealthPing(pingCtx) == nil {
			c.healthy.Store(1)
		} else {
			c.healthy.Store(0)
		}
	}

	ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
		}
	}
}
