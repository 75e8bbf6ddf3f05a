package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
)

type stubResolver struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (s *stubResolver) Resolve(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

type stubHTML struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (s *stubHTML) FetchHTML(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

type countingWaiter struct {
	mu    sync.Mutex
	waits int
}

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits++
	return ctx.Err()
}

type noSleep struct{}

func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

func newPolicy() *retry.Policy {
	return retry.New(retry.Config{MaxRetries: 3, BaseDelayMs: 1, BackoffMultiplier: 2, MaxDelayMs: 4}, noSleep{}, nil)
}

func TestFetchResolvesThenDownloads(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{fn: func(int) (string, error) { return "https://host/page.html", nil }}
	html := &stubHTML{fn: func(int) (string, error) { return "<h1>ok</h1>", nil }}
	waiter := &countingWaiter{}

	page, err := New(resolver, html, waiter, newPolicy(), nil).Fetch(context.Background(), "3757")
	require.NoError(t, err)
	assert.Equal(t, Page{URL: "https://host/page.html", HTML: "<h1>ok</h1>"}, page)
	assert.Equal(t, 2, waiter.waits, "one wait per outbound request")
}

// TestFetchWaitsBeforeEveryRetry ensures retried attempts are rate limited too.
func TestFetchWaitsBeforeEveryRetry(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{fn: func(call int) (string, error) {
		if call < 3 {
			return "", errors.New("timeout")
		}
		return "https://host/page.html", nil
	}}
	html := &stubHTML{fn: func(call int) (string, error) {
		if call < 2 {
			return "", errors.New("HTTP 502")
		}
		return "body", nil
	}}
	waiter := &countingWaiter{}

	_, err := New(resolver, html, waiter, newPolicy(), nil).Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 3, resolver.calls)
	assert.Equal(t, 2, html.calls)
	assert.Equal(t, 5, waiter.waits)
}

func TestFetchNoEmbeddedContentIsNotRetried(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{fn: func(int) (string, error) { return "", ErrNoEmbeddedContent }}
	html := &stubHTML{fn: func(int) (string, error) { return "", nil }}

	_, err := New(resolver, html, &countingWaiter{}, newPolicy(), nil).Fetch(context.Background(), "9")
	require.ErrorIs(t, err, ErrNoEmbeddedContent)
	assert.Equal(t, 1, resolver.calls)
	assert.Zero(t, html.calls)
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	resolver := &stubResolver{fn: func(int) (string, error) { return "https://host/p", nil }}
	html := &stubHTML{fn: func(int) (string, error) { return "", boom }}

	_, err := New(resolver, html, &countingWaiter{}, newPolicy(), nil).Fetch(context.Background(), "2")
	var exhausted *retry.ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, html.calls)
}

func TestFetchCanceledBeforeRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := &stubResolver{fn: func(int) (string, error) { return "x", nil }}

	_, err := New(resolver, &stubHTML{}, &countingWaiter{}, newPolicy(), nil).Fetch(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, resolver.calls)
}
