package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConfig() Config {
	return Config{MaxRetries: 5, BaseDelayMs: 2000, BackoffMultiplier: 2, MaxDelayMs: 10000}
}

func TestDelaySchedule(t *testing.T) {
	t.Parallel()

	p := New(testConfig(), &recordingSleeper{}, nil)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for k, d := range want {
		assert.Equal(t, d, p.Delay(k+1), "attempt %d", k+1)
	}
}

// TestDoAlwaysFailing invokes the operation exactly MaxRetries times.
func TestDoAlwaysFailing(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := New(testConfig(), sleeper, nil)
	boom := errors.New("boom")
	calls := 0

	_, err := Do(context.Background(), p, "fetch build 1", func(context.Context) (string, error) {
		calls++
		return "", boom
	})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	var exhausted *ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, "fetch build 1", exhausted.Label)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	}, sleeper.recorded())
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := New(testConfig(), sleeper, nil)
	calls := 0

	got, err := Do(context.Background(), p, "flaky", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.recorded(), 2)
}

func TestDoSingleAttemptBudget(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := New(Config{MaxRetries: 1, BaseDelayMs: 10, BackoffMultiplier: 2, MaxDelayMs: 10}, sleeper, nil)
	calls := 0

	_, err := Do(context.Background(), p, "once", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.recorded())
}

func TestDoStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	p := New(testConfig(), &recordingSleeper{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, p, "cancel", func(context.Context) (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewClampsInvalidConfig(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxRetries: 0, BaseDelayMs: 5, BackoffMultiplier: 0, MaxDelayMs: 100}, &recordingSleeper{}, nil)
	assert.Equal(t, 1, p.MaxRetries())
	assert.Equal(t, 5*time.Millisecond, p.Delay(3))
}

func TestDoPermanentErrorStopsImmediately(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := New(testConfig(), sleeper, nil)
	notFound := errors.New("no embedded content")
	calls := 0

	_, err := Do(context.Background(), p, "resolve 1", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(notFound)
	})

	require.ErrorIs(t, err, notFound)
	var exhausted *ExhaustedRetriesError
	assert.False(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.recorded())
	assert.NoError(t, Permanent(nil))
}
