// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// Snapshot keys.
const (
	KeyLatest  = "latest"
	KeyHistory = "history"
)

// Default staleness windows.
const (
	DefaultLatestTTL  = 2 * time.Second
	DefaultHistoryTTL = 8 * time.Second
)

// Loader fetches a fresh value for one key.
type Loader func(ctx context.Context) (any, error)

// Clock returns the current time.
type Clock func() time.Time

type cacheEntry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

type keySpec struct {
	ttl  time.Duration
	load Loader
}

// flight is one shared fetch. Its context is cancelled when the last caller
// waiting on it gives up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// SnapshotCache holds the latest fetched value per key for a bounded time.
//
// A Get inside the TTL is served from memory. Otherwise one fetch per key is
// started and every concurrent caller shares it. A failed fetch leaves the
// previous entry in place, readable through Peek. A shared fetch is cancelled
// once every caller waiting on it has gone. InvalidateAll empties the cache
// and bumps a generation so a fetch already in flight cannot write its result
// back.
type SnapshotCache struct {
	mu         sync.RWMutex
	keys       map[string]keySpec
	entries    map[string]*cacheEntry
	generation uint64
	closed     bool
	flights    map[string]*flight

	group singleflight.Group
	now   Clock

	ctx    context.Context
	cancel context.CancelFunc
}

// CacheOption configures a SnapshotCache.
type CacheOption func(*SnapshotCache)

// WithClock replaces time.Now, for tests.
func WithClock(clock Clock) CacheOption {
	return func(c *SnapshotCache) {
		c.now = clock
	}
}

// NewSnapshotCache creates an empty cache. Register keys before calling Get.
func NewSnapshotCache(opts ...CacheOption) *SnapshotCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &SnapshotCache{
		keys:    make(map[string]keySpec),
		entries: make(map[string]*cacheEntry),
		flights: make(map[string]*flight),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register installs the loader and TTL for key, replacing any previous one.
func (c *SnapshotCache) Register(key string, ttl time.Duration, load Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = keySpec{ttl: ttl, load: load}
}

// Get returns the value for key, fetching it when the entry is missing or
// stale. ctx bounds how long the caller waits; the shared fetch is cancelled
// when no caller is left waiting for it or the cache is closed.
func (c *SnapshotCache) Get(ctx context.Context, key string) (any, error) {
	c.mu.RLock()
	spec, known := c.keys[key]
	entry := c.entries[key]
	gen := c.generation
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return nil, apperrors.ErrSessionClosed
	}
	if !known {
		return nil, fmt.Errorf("snapshot cache: unknown key %q", key)
	}
	if entry != nil && entry.fresh(c.now()) {
		metrics.CacheHits.WithLabelValues(key).Inc()
		return entry.value, nil
	}
	metrics.CacheMisses.WithLabelValues(key).Inc()

	name := fmt.Sprintf("%s#%d", key, gen)
	f := c.join(name)
	defer c.leave(name, f)

	ch := c.group.DoChan(name, func() (any, error) {
		return c.fetch(f.ctx, key, gen, spec)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *SnapshotCache) join(name string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.flights[name]
	if f == nil {
		ctx, cancel := context.WithCancel(c.ctx)
		f = &flight{ctx: ctx, cancel: cancel}
		c.flights[name] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter. The last one out cancels the fetch and forgets the
// flight so a later Get starts a new one instead of joining a cancelled call.
func (c *SnapshotCache) leave(name string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[name] == f {
		delete(c.flights, name)
	}
	c.group.Forget(name)
	f.cancel()
}

func (c *SnapshotCache) fetch(ctx context.Context, key string, gen uint64, spec keySpec) (any, error) {
	// A flight that finished just before this one started may already have
	// stored a fresh value for this generation.
	c.mu.RLock()
	if e := c.entries[key]; e != nil && c.generation == gen && e.fresh(c.now()) {
		c.mu.RUnlock()
		return e.value, nil
	}
	c.mu.RUnlock()

	start := time.Now()
	metrics.UpstreamFetchesTotal.WithLabelValues(key).Inc()
	value, err := spec.load(ctx)
	metrics.UpstreamFetchDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamFetchErrors.WithLabelValues(key, errorKind(err)).Inc()
		logger.Debug().Err(err).Str("key", key).Msg("Snapshot fetch failed")
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.closed {
		logger.Debug().Str("key", key).Msg("Discarding snapshot fetched before invalidation")
		return value, nil
	}
	c.entries[key] = &cacheEntry{value: value, fetchedAt: c.now(), ttl: spec.ttl}
	return value, nil
}

// Peek returns the last successfully fetched value for key without fetching,
// whether or not it is still fresh.
func (c *SnapshotCache) Peek(key string) (any, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.value, e.fetchedAt, true
}

// InvalidateAll drops every entry. The next Get of any key fetches.
func (c *SnapshotCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.generation++
	metrics.CacheInvalidations.Inc()
}

// Close cancels in-flight fetches and makes further Gets fail.
func (c *SnapshotCache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// Latest returns the cached latest reading.
func (c *SnapshotCache) Latest(ctx context.Context) (telemetry.Reading, error) {
	v, err := c.Get(ctx, KeyLatest)
	if err != nil {
		return telemetry.Reading{}, err
	}
	r, ok := v.(telemetry.Reading)
	if !ok {
		return telemetry.Reading{}, fmt.Errorf("snapshot cache: %s holds %T", KeyLatest, v)
	}
	return r, nil
}

// History returns the cached history series.
func (c *SnapshotCache) History(ctx context.Context) (telemetry.HistorySeries, error) {
	v, err := c.Get(ctx, KeyHistory)
	if err != nil {
		return telemetry.HistorySeries{}, err
	}
	s, ok := v.(telemetry.HistorySeries)
	if !ok {
		return telemetry.HistorySeries{}, fmt.Errorf("snapshot cache: %s holds %T", KeyHistory, v)
	}
	return s, nil
}

// PeekLatest returns the last good latest reading, if any.
func (c *SnapshotCache) PeekLatest() (telemetry.Reading, time.Time, bool) {
	v, at, ok := c.Peek(KeyLatest)
	if !ok {
		return telemetry.Reading{}, time.Time{}, false
	}
	r, ok := v.(telemetry.Reading)
	return r, at, ok
}

// PeekHistory returns the last good history series, if any.
func (c *SnapshotCache) PeekHistory() (telemetry.HistorySeries, time.Time, bool) {
	v, at, ok := c.Peek(KeyHistory)
	if !ok {
		return telemetry.HistorySeries{}, time.Time{}, false
	}
	s, ok := v.(telemetry.HistorySeries)
	return s, at, ok
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	case apperrors.IsParseError(err):
		return "parse"
	case apperrors.IsFetchError(err):
		return "fetch"
	case apperrors.IsStorageError(err):
		return "storage"
	default:
		return "other"
	}
}
