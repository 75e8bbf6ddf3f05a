// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
)

// Config controls attempt count and delay growth.
type Config struct {
	MaxRetries        int     `mapstructure:"max_retries" validate:"gte=1"`
	BaseDelayMs       int     `mapstructure:"base_delay_ms" validate:"gte=0"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"gte=1"`
	MaxDelayMs        int     `mapstructure:"max_delay_ms" validate:"gtefield=BaseDelayMs"`
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ExhaustedRetriesError reports that every attempt failed.
type ExhaustedRetriesError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s: exhausted %d attempts: %v", e.Label, e.Attempts, e.Err)
}

// Unwrap exposes the final underlying error.
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// as-is on the first occurrence.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy holds the backoff schedule.
type Policy struct {
	cfg     Config
	sleeper Sleeper
	logger  *zap.Logger
}

// New builds a Policy. MaxRetries below one is treated as a single attempt.
func New(cfg Config, sleeper Sleeper, logger *zap.Logger) *Policy {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{cfg: cfg, sleeper: sleeper, logger: logger}
}

// MaxRetries returns the total attempt budget.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// Delay returns the pause after the k-th failed attempt (k starts at 1):
// min(base * multiplier^(k-1), max).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := float64(p.cfg.BaseDelayMs) * math.Pow(p.cfg.BackoffMultiplier, float64(attempt-1))
	if limit := float64(p.cfg.MaxDelayMs); ms > limit {
		ms = limit
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// Do invokes op until it succeeds or the attempt budget is spent.
// Context cancellation and Permanent errors are returned immediately.
func Do[T any](ctx context.Context, p *Policy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if isContextErr(err) || ctx.Err() != nil {
			return zero, err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if attempt >= p.cfg.MaxRetries {
			return zero, &ExhaustedRetriesError{Label: label, Attempts: attempt, Err: err}
		}

		delay := p.Delay(attempt)
		p.logger.Warn("Attempt failed, backing off",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.ObserveRetry()
		if sleepErr := p.sleeper.Sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
