// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package monitoring keeps a session's view of the installation current: it
// fetches readings from the configured upstream, ingests live messages and
// drives periodic refreshes.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
)

// Default refresh bounds and interval.
const (
	DefaultMinInterval     = 2 * time.Second
	DefaultMaxInterval     = 15 * time.Second
	DefaultRefreshInterval = 5 * time.Second
)

// TickFunc is called once per refresh cycle. ctx is cancelled when the
// scheduler stops.
type TickFunc func(ctx context.Context)

// RefreshScheduler runs a tick function periodically on one goroutine.
type RefreshScheduler struct {
	mu       sync.Mutex
	min      time.Duration
	max      time.Duration
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRefreshScheduler creates a stopped scheduler whose interval is kept
// within [min, max]. Non-positive bounds fall back to the defaults.
func NewRefreshScheduler(min, max time.Duration) *RefreshScheduler {
	if min <= 0 {
		min = DefaultMinInterval
	}
	if max <= 0 {
		max = DefaultMaxInterval
	}
	if max < min {
		max = min
	}
	s := &RefreshScheduler{min: min, max: max}
	s.interval = s.clamp(DefaultRefreshInterval)
	return s
}

func (s *RefreshScheduler) clamp(d time.Duration) time.Duration {
	if d < s.min {
		return s.min
	}
	if d > s.max {
		return s.max
	}
	return d
}

// Start begins ticking every interval. A running scheduler is restarted.
func (s *RefreshScheduler) Start(ctx context.Context, interval time.Duration, onTick TickFunc) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = s.clamp(interval)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	metrics.ActiveSchedulers.Inc()
	logger.Debug().Dur("interval", s.interval).Msg("Refresh scheduler started")
	go s.run(runCtx, done, onTick)
}

func (s *RefreshScheduler) run(ctx context.Context, done chan struct{}, onTick TickFunc) {
	defer close(done)
	defer metrics.ActiveSchedulers.Dec()
	defer s.release(done)

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Check context before expensive operation
			if ctx.Err() != nil {
				return
			}
			metrics.RefreshTicks.Inc()
			onTick(ctx)
			timer.Reset(s.Interval())
		}
	}
}

// release forgets a run that ended on its own, e.g. when the parent context
// was cancelled.
func (s *RefreshScheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
}

// Stop halts the scheduler and waits for a tick in progress to return.
// Calling Stop on a stopped scheduler does nothing.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Debug().Msg("Refresh scheduler stopped")
}

// SetInterval changes the interval. It applies from the next cycle on and
// returns the clamped value.
func (s *RefreshScheduler) SetInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = s.clamp(d)
	return s.interval
}

// Interval returns the current interval.
func (s *RefreshScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Active reports whether the scheduler is running.
func (s *RefreshScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Bounds returns the interval limits.
func (s *RefreshScheduler) Bounds() (time.Duration, time.Duration) {
	return s.min, s.max
}
