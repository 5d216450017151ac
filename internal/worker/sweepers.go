package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"

	"github.com/lianwusuoai/img-router/internal/circuitbreaker"
)

// DNSRefresher periodically re-resolves every host the shared resolver has
// cached, so a long-lived process doesn't pin stale records after an
// upstream provider's DNS changes.
type DNSRefresher struct {
	Resolver *dnscache.Resolver
	Interval time.Duration
}

func (w *DNSRefresher) Name() string { return "dns_refresher" }

func (w *DNSRefresher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Resolver.Refresh(true)
		}
	}
}

// BreakerSweeper periodically evicts circuit breakers for providers that
// haven't taken traffic recently, so the registry doesn't grow unbounded
// across process lifetime.
type BreakerSweeper struct {
	Breakers *circuitbreaker.Registry
	Interval time.Duration
	MaxIdle  time.Duration
}

func (w *BreakerSweeper) Name() string { return "breaker_sweeper" }

func (w *BreakerSweeper) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	maxIdle := w.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Breakers.EvictStale(time.Now().Add(-maxIdle))
		}
	}
}
