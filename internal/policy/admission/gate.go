// Package admission serializes remote export creation behind a single permit
// that is held for a jittered delay after every submission.
package admission

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/wildfire-harvester/internal/metrics"
)

// capacity is the number of concurrent export submissions. It is fixed.
const capacity = 1

// Defaults for the post-submission hold.
const (
	DefaultBaseDelay = 1200 * time.Millisecond
	DefaultJitter    = 600 * time.Millisecond
)

// Config holds gate configuration.
type Config struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	Jitter    time.Duration `mapstructure:"jitter"`
	// MaxPerSecond caps permit grants per second on top of the hold; 0 disables it.
	MaxPerSecond float64 `mapstructure:"max_submissions_per_second"`
}

// Gate is the export admission permit.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	clock   clockwork.Clock
	base    time.Duration
	jitter  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Gate. A nil clock uses the real clock.
func New(cfg Config, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	g := &Gate{
		sem:    semaphore.NewWeighted(capacity),
		clock:  clock,
		base:   cfg.BaseDelay,
		jitter: cfg.Jitter,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	if cfg.MaxPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1)
	}
	return g
}

// Acquire blocks until the permit is held or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	start := g.clock.Now()
	if err := g.sem.Acquire(ctx, capacity); err != nil {
		return fmt.Errorf("admission wait: %w", err)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.sem.Release(capacity)
			return fmt.Errorf("admission rate wait: %w", err)
		}
	}
	metrics.ObserveAdmissionWait(g.clock.Since(start))
	return nil
}

// Release holds the permit for the jittered delay and then frees it. A done
// ctx cuts the hold short.
func (g *Gate) Release(ctx context.Context) {
	defer g.sem.Release(capacity)
	hold := g.HoldDuration()
	if hold <= 0 {
		return
	}
	timer := g.clock.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-timer.Chan():
	case <-ctx.Done():
	}
}

// Do runs fn while holding the permit. The hold applies whether or not fn
// fails, so repeated failures are throttled too.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release(ctx)
	return fn(ctx)
}

// HoldDuration returns base + rand[0, jitter).
func (g *Gate) HoldDuration() time.Duration {
	if g.jitter <= 0 {
		return g.base
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.base + time.Duration(g.rng.Int64N(int64(g.jitter)))
}
