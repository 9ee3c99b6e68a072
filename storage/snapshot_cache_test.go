// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func countingLoader(calls *int32, value any) Loader {
	return func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(calls, 1)
		if value != nil {
			return value, nil
		}
		return int(n), nil
	}
}

func TestSnapshotCacheServesWithinTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewSnapshotCache(WithClock(clock.Now))
	var calls int32
	cache.Register(KeyLatest, 2*time.Second, countingLoader(&calls, nil))

	v1, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)
	clock.Advance(1 * time.Second)
	v2, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, v1, v2)
}

func TestSnapshotCacheRefetchesAfterTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewSnapshotCache(WithClock(clock.Now))
	var calls int32
	cache.Register(KeyLatest, 2*time.Second, countingLoader(&calls, nil))

	_, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)
	clock.Advance(3 * time.Second)
	v, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, v)
}

func TestSnapshotCacheTTLBoundaryIsStale(t *testing.T) {
	clock := newFakeClock()
	cache := NewSnapshotCache(WithClock(clock.Now))
	var calls int32
	cache.Register(KeyLatest, 2*time.Second, countingLoader(&calls, nil))

	_, _ = cache.Get(context.Background(), KeyLatest)
	clock.Advance(2 * time.Second)
	_, _ = cache.Get(context.Background(), KeyLatest)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSnapshotCacheInvalidateAll(t *testing.T) {
	clock := newFakeClock()
	cache := NewSnapshotCache(WithClock(clock.Now))
	var latestCalls, historyCalls int32
	cache.Register(KeyLatest, 2*time.Second, countingLoader(&latestCalls, nil))
	cache.Register(KeyHistory, 8*time.Second, countingLoader(&historyCalls, nil))

	_, _ = cache.Get(context.Background(), KeyLatest)
	_, _ = cache.Get(context.Background(), KeyHistory)

	cache.InvalidateAll()
	_, _, ok := cache.Peek(KeyLatest)
	assert.False(t, ok)

	_, _ = cache.Get(context.Background(), KeyLatest)
	_, _ = cache.Get(context.Background(), KeyHistory)

	assert.Equal(t, int32(2), atomic.LoadInt32(&latestCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&historyCalls))
}

func TestSnapshotCacheKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	cache := NewSnapshotCache(WithClock(clock.Now))
	var latestCalls, historyCalls int32
	cache.Register(KeyLatest, 2*time.Second, countingLoader(&latestCalls, nil))
	cache.Register(KeyHistory, 8*time.Second, countingLoader(&historyCalls, nil))

	_, _ = cache.Get(context.Background(), KeyLatest)
	_, _ = cache.Get(context.Background(), KeyHistory)
	clock.Advance(5 * time.Second)
	_, _ = cache.Get(context.Background(), KeyLatest)
	_, _ = cache.Get(context.Background(), KeyHistory)

	assert.Equal(t, int32(2), atomic.LoadInt32(&latestCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&historyCalls))
}

func TestSnapshotCacheFailureKeepsLastGoodValue(t *testing.T) {
	clock := newFakeClock()
	cache := NewSnapshotCache(WithClock(clock.Now))

	fail := false
	upstream := apperrors.NewFetchError(KeyLatest, "http://gw", 502, errors.New("bad gateway"))
	cache.Register(KeyLatest, 2*time.Second, func(ctx context.Context) (any, error) {
		if fail {
			return nil, upstream
		}
		return "good", nil
	})

	v, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)
	assert.Equal(t, "good", v)

	fail = true
	clock.Advance(3 * time.Second)
	_, err = cache.Get(context.Background(), KeyLatest)
	require.Error(t, err)
	assert.True(t, apperrors.IsFetchError(err))

	stale, fetchedAt, ok := cache.Peek(KeyLatest)
	require.True(t, ok)
	assert.Equal(t, "good", stale)
	assert.True(t, fetchedAt.Before(clock.Now()))
}

func TestSnapshotCacheSharesInFlightFetch(t *testing.T) {
	cache := NewSnapshotCache()
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	cache.Register(KeyHistory, 8*time.Second, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		once.Do(func() { close(started) })
		<-release
		return "series", nil
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = cache.Get(context.Background(), KeyHistory)
		}(i)
	}

	<-started
	// Give the remaining callers time to join the flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "series", r)
	}
}

func TestSnapshotCacheStaleFlightDoesNotWriteBack(t *testing.T) {
	cache := NewSnapshotCache()
	var calls int32
	release := make(chan struct{})
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-release
			return "before-invalidate", nil
		}
		return "after-invalidate", nil
	})

	done := make(chan any)
	go func() {
		v, _ := cache.Get(context.Background(), KeyLatest)
		done <- v
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	cache.InvalidateAll()
	close(release)
	assert.Equal(t, "before-invalidate", <-done)

	_, _, ok := cache.Peek(KeyLatest)
	assert.False(t, ok, "stale flight must not populate the cache")

	v, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)
	assert.Equal(t, "after-invalidate", v)
}

func TestSnapshotCacheCallerContext(t *testing.T) {
	cache := NewSnapshotCache()
	release := make(chan struct{})
	defer close(release)
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cache.Get(ctx, KeyLatest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func (c *SnapshotCache) waiters(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f := c.flights[name]; f != nil {
		return f.waiters
	}
	return 0
}

func TestSnapshotCacheCancelsAbandonedFetch(t *testing.T) {
	cache := NewSnapshotCache()
	started := make(chan struct{})
	cancelled := make(chan struct{})
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, KeyLatest)
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("fetch kept running after its only caller left")
	}
}

func TestSnapshotCacheFetchOutlivesOneOfTwoCallers(t *testing.T) {
	cache := NewSnapshotCache()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		select {
		case <-release:
			return "shared", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	leaving, leave := context.WithCancel(context.Background())
	leftCh := make(chan error, 1)
	go func() {
		_, err := cache.Get(leaving, KeyLatest)
		leftCh <- err
	}()
	<-started

	stayCh := make(chan any, 1)
	go func() {
		v, _ := cache.Get(context.Background(), KeyLatest)
		stayCh <- v
	}()
	require.Eventually(t, func() bool { return cache.waiters(KeyLatest+"#0") == 2 }, time.Second, time.Millisecond)

	leave()
	assert.ErrorIs(t, <-leftCh, context.Canceled)
	close(release)

	assert.Equal(t, "shared", <-stayCh)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSnapshotCacheRefetchesAfterAbandonedFlight(t *testing.T) {
	cache := NewSnapshotCache()
	var calls int32
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "second", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cache.Get(ctx, KeyLatest)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := cache.Get(context.Background(), KeyLatest)
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestSnapshotCacheClose(t *testing.T) {
	cache := NewSnapshotCache()
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background(), KeyLatest)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cache.Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("in-flight fetch was not cancelled by Close")
	}

	_, err := cache.Get(context.Background(), KeyLatest)
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

func TestSnapshotCacheUnknownKey(t *testing.T) {
	cache := NewSnapshotCache()
	_, err := cache.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSnapshotCacheTypedHelpers(t *testing.T) {
	cache := NewSnapshotCache()
	temp := 21.5
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		return telemetry.Reading{Temperature: &temp}, nil
	})
	cache.Register(KeyHistory, time.Minute, func(ctx context.Context) (any, error) {
		return telemetry.HistorySeries{Records: make([]telemetry.HistoryRecord, 3)}, nil
	})

	r, err := cache.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21.5, *r.Temperature)

	s, err := cache.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	_, _, ok := cache.PeekLatest()
	assert.True(t, ok)
	_, _, ok = cache.PeekHistory()
	assert.True(t, ok)
}

func TestSnapshotCacheTypedHelperWrongType(t *testing.T) {
	cache := NewSnapshotCache()
	cache.Register(KeyLatest, time.Minute, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	_, err := cache.Latest(context.Background())
	assert.Error(t, err)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{apperrors.NewFetchError("latest", "x", 0, apperrors.ErrCircuitOpen), "circuit_open"},
		{apperrors.NewParseError("latest", errors.New("eof")), "parse"},
		{apperrors.NewFetchError("latest", "x", 500, errors.New("boom")), "fetch"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("other"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), "%v", tt.err)
	}
}
