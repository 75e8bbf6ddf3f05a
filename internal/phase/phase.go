// Package phase implements the independently runnable units of a scrape:
// discovery, the per-subject lesson scrapes, wiring diagrams, image
// downloads and the final gallery integration.
//
// Every phase iterates a static list, skips items already complete in the
// checkpoint, and records per-item failures without aborting the loop.
package phase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/content"
	"github.com/JakeFAU/buildingbit-scraper/internal/download"
	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

// Phase names in their default execution order.
const (
	Discover  = "discover"
	MakeCode  = "makecode"
	Python    = "python"
	Sensors   = "sensors"
	Wiring    = "wiring"
	Images    = "images"
	Integrate = "integrate"
)

// Tracker is the checkpoint surface phases depend on.
type Tracker interface {
	IsComplete(identifier, assetType string) bool
	SetBuildStatus(identifier, assetType string, status state.Status) error
	MarkComplete(identifier, assetType string) error
	MarkFailed(identifier, assetType, message string) error
	IsKeyComplete(key string) bool
	MarkKeyComplete(key string) error
}

// ContentFetcher resolves identifiers and downloads lesson pages.
type ContentFetcher interface {
	Resolve(ctx context.Context, identifier string) (string, error)
	Fetch(ctx context.Context, identifier string) (content.Page, error)
}

// Browser renders script-driven pages.
type Browser interface {
	Render(ctx context.Context, url, waitSelector string) (string, error)
	Evaluate(ctx context.Context, url, waitSelector, script string, out any) error
	Screenshot(ctx context.Context, url string) ([]byte, error)
}

// Downloader stores remote assets.
type Downloader interface {
	Save(ctx context.Context, rawURL, objectPath string) (download.Result, error)
	Exists(ctx context.Context, objectPath string) (bool, error)
}

// Hasher digests page bodies and derives short idempotence keys.
type Hasher interface {
	Hash(data []byte) (string, error)
	Short(s string, n int) string
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Sleeper pauses between items.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Deps are shared by every phase.
type Deps struct {
	Tracker Tracker
	Clock   Clock
	Sleeper Sleeper
	// Pause is the courtesy delay after each processed item.
	Pause   time.Duration
	Limiter Waiter
	Retry   *retry.Policy
	Logger  *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Summary counts item outcomes for one phase run.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	NotFound  int
}

// Fields renders the summary for the end-of-phase log line.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("processed", s.Processed),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Int("not_found", s.NotFound),
	}
}

// Runner is one named phase.
type Runner interface {
	Name() string
	Run(ctx context.Context) (Summary, error)
}

// pause waits the inter-item delay.
func (d Deps) pause(ctx context.Context) error {
	if d.Pause <= 0 || d.Sleeper == nil {
		return nil
	}
	return d.Sleeper.Sleep(ctx, d.Pause)
}

// withBrowser runs a browser call under the shared limiter and retry policy.
func withBrowser[T any](ctx context.Context, d Deps, label string, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, d.Retry, label, func(ctx context.Context) (T, error) {
		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				var zero T
				return zero, err
			}
		}
		return op(ctx)
	})
}

func observe(phase, status string) {
	metrics.ObserveItem(phase, status)
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
