package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/core"
)

func newTestCache() *Cache {
	return New(Config{}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))
}

func testResult(t *testing.T, price float64) *core.AvailabilityResult {
	t.Helper()
	r, err := core.ParseDateRange("2026-07-01", "2026-07-03")
	require.NoError(t, err)
	quotes := []core.NightlyQuote{
		{Date: r.Start, BasePrice: price, Available: true},
		{Date: r.Start.AddDate(0, 0, 1), BasePrice: price, Available: true},
	}
	return core.NewAvailabilityResult(core.RoomKey{PropertyID: "101", RoomID: "201"}, r, quotes, "offers", true)
}

// countingFetch returns a fetch that counts calls and optionally blocks until release is closed
func countingFetch(t *testing.T, calls *atomic.Int32, release <-chan struct{}, price float64) FetchFunc {
	return func(ctx context.Context) (*core.AvailabilityResult, error) {
		calls.Add(1)
		if release != nil {
			<-release
		}
		return testResult(t, price), nil
	}
}

func TestCache_SingleFlight(t *testing.T) {
	for _, n := range []int{2, 10, 100} {
		t.Run(fmt.Sprintf("%d callers", n), func(t *testing.T) {
			c := newTestCache()
			var calls atomic.Int32
			release := make(chan struct{})
			fetch := countingFetch(t, &calls, release, 125)

			var wg sync.WaitGroup
			var started sync.WaitGroup
			results := make([]*core.AvailabilityResult, n)
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				started.Add(1)
				go func(i int) {
					defer wg.Done()
					started.Done()
					results[i], _, errs[i] = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
				}(i)
			}

			started.Wait()
			// Let every caller reach the flight before the fetch completes
			require.Eventually(t, func() bool { return c.Stats().Misses == int64(n) }, time.Second, time.Millisecond)
			close(release)
			wg.Wait()

			assert.Equal(t, int32(1), calls.Load())
			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				assert.Equal(t, 125.0, results[i].Prices["2026-07-01"])
			}
		})
	}
}

func TestCache_HitReturnsCopy(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	fetch := countingFetch(t, &calls, nil, 100)

	first, hit, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.False(t, hit)

	first.Prices["2026-07-01"] = 1
	first.Available = nil

	second, hit, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 100.0, second.Prices["2026-07-01"], "stored value is never exposed")
	assert.Len(t, second.Available, 2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_InvalidateKeyForcesRefetch(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	fetch := countingFetch(t, &calls, nil, 100)

	for i := 1; i <= 5; i++ {
		_, hit, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, int32(i), calls.Load())

		c.InvalidateKey("k")
	}
}

func TestCache_InvalidateDuringFetchDoesNotStore(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := countingFetch(t, &calls, release, 100)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, _, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
		assert.NoError(t, err)
		assert.NotNil(t, res, "callers of the orphaned fetch still get its result")
	}()

	require.Eventually(t, func() bool { return c.Stats().InFlight == 1 }, time.Second, time.Millisecond)
	c.InvalidateKey("k")
	close(release)
	<-done

	assert.Equal(t, 0, c.Len())

	_, hit, err := c.GetOrFetch(context.Background(), "k", time.Hour, countingFetch(t, &calls, nil, 200))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_InvalidateStartsNewFlight(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	slow := make(chan struct{})
	defer close(slow)

	go c.GetOrFetch(context.Background(), "k", time.Hour, countingFetch(t, &calls, slow, 100))
	require.Eventually(t, func() bool { return c.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	c.InvalidateKey("k")

	// A caller arriving after invalidation must not join the stale flight
	res, _, err := c.GetOrFetch(context.Background(), "k", time.Hour, countingFetch(t, &calls, nil, 200))
	require.NoError(t, err)
	assert.Equal(t, 200.0, res.Prices["2026-07-01"])

	cached, hit, err := c.GetOrFetch(context.Background(), "k", time.Hour, countingFetch(t, &calls, nil, 300))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 200.0, cached.Prices["2026-07-01"])
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := newTestCache()
	fetchErr := &core.ExhaustedError{Room: core.RoomKey{PropertyID: "101", RoomID: "201"}}

	var calls atomic.Int32
	failing := func(ctx context.Context) (*core.AvailabilityResult, error) {
		calls.Add(1)
		return nil, fetchErr
	}

	for i := 0; i < 3; i++ {
		_, _, err := c.GetOrFetch(context.Background(), "k", time.Hour, failing)
		require.Error(t, err)
		assert.Same(t, fetchErr, err, "errors pass through unchanged")
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(3), c.Stats().FetchErrors)
}

func TestCache_FetchFailures(t *testing.T) {
	c := newTestCache()

	_, _, err := c.GetOrFetch(context.Background(), "nil", time.Hour, func(ctx context.Context) (*core.AvailabilityResult, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, core.ErrCache)

	_, _, err = c.GetOrFetch(context.Background(), "panic", time.Hour, func(ctx context.Context) (*core.AvailabilityResult, error) {
		panic("boom")
	})
	assert.ErrorIs(t, err, core.ErrCache)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, c.Len())
}

func TestCache_CallerCancellation(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := countingFetch(t, &calls, release, 100)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(ctx, "k", time.Hour, fetch)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.Stats().InFlight == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// The fetch keeps running and fills the cache for the next caller
	close(release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	_, hit, err := c.GetOrFetch(context.Background(), "k", time.Hour, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_TTL(t *testing.T) {
	c := newTestCache()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	fetch := countingFetch(t, &calls, nil, 100)

	_, _, err := c.GetOrFetch(context.Background(), "short", 5*time.Minute, fetch)
	require.NoError(t, err)
	_, _, err = c.GetOrFetch(context.Background(), "long", time.Hour, fetch)
	require.NoError(t, err)
	_, _, err = c.GetOrFetch(context.Background(), "default", 0, fetch)
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	_, hit, _ := c.GetOrFetch(context.Background(), "short", 5*time.Minute, fetch)
	assert.True(t, hit)

	now = now.Add(2 * time.Minute)
	_, hit, _ = c.GetOrFetch(context.Background(), "short", 5*time.Minute, fetch)
	assert.False(t, hit, "short entry expired")
	_, hit, _ = c.GetOrFetch(context.Background(), "default", 0, fetch)
	assert.False(t, hit, "default TTL is five minutes")
	_, hit, _ = c.GetOrFetch(context.Background(), "long", time.Hour, fetch)
	assert.True(t, hit)

	assert.Equal(t, int32(5), calls.Load())
}

func TestCache_InvalidatePattern(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	fetch := countingFetch(t, &calls, nil, 100)

	keys := []string{
		"101-201:2026-07-01:2026-07-03:2:0",
		"101-201:2026-07-10:2026-07-12:2:1",
		"101-202:2026-07-01:2026-07-03:2:0",
		"102-201:2026-07-01:2026-07-03:2:0",
	}
	for _, k := range keys {
		_, _, err := c.GetOrFetch(context.Background(), k, time.Hour, fetch)
		require.NoError(t, err)
	}

	tests := []struct {
		pattern string
		removed int
		left    int
	}{
		{"101-201:*", 2, 2},
		{"101-201:*", 0, 2},
		{"*:2026-07-01:*", 2, 0},
	}
	for _, tt := range tests {
		removed, err := c.InvalidatePattern(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.removed, removed, tt.pattern)
		assert.Equal(t, tt.left, c.Len(), tt.pattern)
	}

	_, err := c.InvalidatePattern("[")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCache_InvalidateFunc(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	fetch := countingFetch(t, &calls, nil, 100)

	for _, k := range []string{"a:1", "a:2", "b:1"} {
		_, _, err := c.GetOrFetch(context.Background(), k, time.Hour, fetch)
		require.NoError(t, err)
	}

	removed := c.InvalidateFunc(func(key string) bool { return key[0] == 'a' })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ClearAll(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})

	_, _, err := c.GetOrFetch(context.Background(), "a", time.Hour, countingFetch(t, &calls, nil, 100))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.GetOrFetch(context.Background(), "b", time.Hour, countingFetch(t, &calls, release, 100))
	}()
	require.Eventually(t, func() bool { return c.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	c.ClearAll()
	close(release)
	<-done

	assert.Equal(t, 0, c.Len(), "in-flight fetch started before ClearAll is discarded")
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestCache_Sweep(t *testing.T) {
	c := newTestCache()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	fetch := countingFetch(t, &calls, nil, 100)
	c.GetOrFetch(context.Background(), "a", time.Minute, fetch)
	c.GetOrFetch(context.Background(), "b", time.Minute, fetch)
	c.GetOrFetch(context.Background(), "c", time.Hour, fetch)

	assert.Equal(t, 0, c.Sweep())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Stats().Expired)
}

func TestSweeper_StartStop(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	_, _, err := c.GetOrFetch(context.Background(), "a", 5*time.Millisecond, countingFetch(t, &calls, nil, 100))
	require.NoError(t, err)

	s := NewSweeper(c, 10*time.Millisecond, nil)
	stopped := make(chan struct{})
	go func() {
		s.Start()
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
