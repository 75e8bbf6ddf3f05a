// Package ratelimit spaces outbound requests to honor a requests-per-minute budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// Limiter enforces a minimum interval between consecutive Wait calls.
// A zero budget disables limiting.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	count    int64
	last     time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Interval reports the enforced spacing between requests.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the next request slot is available, respecting the context.
// Callers are serialized so the interval holds even with concurrent use.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	l.count++
	l.last = time.Now()
	return nil
}

// RequestCount returns how many waits have completed.
func (l *Limiter) RequestCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// LastRequest returns when the most recent wait completed.
func (l *Limiter) LastRequest() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
