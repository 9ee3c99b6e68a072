// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRefreshScheduler(t *testing.T) {
	s := NewRefreshScheduler(0, 0)

	min, max := s.Bounds()
	if min != DefaultMinInterval || max != DefaultMaxInterval {
		t.Errorf("Bounds() = %v, %v, want %v, %v", min, max, DefaultMinInterval, DefaultMaxInterval)
	}
	if s.Interval() != DefaultRefreshInterval {
		t.Errorf("Interval() = %v, want %v", s.Interval(), DefaultRefreshInterval)
	}
	if s.Active() {
		t.Error("new scheduler should not be active")
	}
}

func TestSetIntervalClamps(t *testing.T) {
	s := NewRefreshScheduler(2*time.Second, 15*time.Second)

	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{1 * time.Second, 2 * time.Second},
		{5 * time.Second, 5 * time.Second},
		{60 * time.Second, 15 * time.Second},
		{-3 * time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		if got := s.SetInterval(tt.in); got != tt.want {
			t.Errorf("SetInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := s.Interval(); got != tt.want {
			t.Errorf("Interval() after SetInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSchedulerTicks(t *testing.T) {
	s := NewRefreshScheduler(10*time.Millisecond, 50*time.Millisecond)
	var ticks int32

	s.Start(context.Background(), 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&ticks, 1)
	})
	defer s.Stop()

	if !s.Active() {
		t.Fatal("scheduler should be active after Start")
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ticks) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Errorf("ticks = %d, want at least 3", got)
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewRefreshScheduler(10*time.Millisecond, 50*time.Millisecond)
	var ticks int32
	s.Start(context.Background(), 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&ticks, 1)
	})

	s.Stop()
	s.Stop()

	if s.Active() {
		t.Error("scheduler should not be active after Stop")
	}

	after := atomic.LoadInt32(&ticks)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&ticks); got != after {
		t.Errorf("ticks advanced after Stop: %d -> %d", after, got)
	}
}

func TestSchedulerNeverOverlapsTicks(t *testing.T) {
	s := NewRefreshScheduler(time.Millisecond, 10*time.Millisecond)
	var running, overlaps, ticks int32

	s.Start(context.Background(), time.Millisecond, func(ctx context.Context) {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&ticks, 1)
		atomic.AddInt32(&running, -1)
	})

	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&overlaps) != 0 {
		t.Errorf("onTick ran concurrently %d times", overlaps)
	}
	if atomic.LoadInt32(&ticks) == 0 {
		t.Error("expected at least one tick")
	}
}

func TestSchedulerStopCancelsTickContext(t *testing.T) {
	s := NewRefreshScheduler(time.Millisecond, 10*time.Millisecond)
	entered := make(chan struct{})
	cancelled := make(chan struct{})
	var once int32

	s.Start(context.Background(), time.Millisecond, func(ctx context.Context) {
		if !atomic.CompareAndSwapInt32(&once, 0, 1) {
			return
		}
		close(entered)
		<-ctx.Done()
		close(cancelled)
	})

	<-entered
	s.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("tick context was not cancelled by Stop")
	}
}

func TestSchedulerRestart(t *testing.T) {
	s := NewRefreshScheduler(10*time.Millisecond, 100*time.Millisecond)
	var first, second int32

	s.Start(context.Background(), 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&first, 1)
	})
	s.Start(context.Background(), 20*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&second, 1)
	})
	defer s.Stop()

	if s.Interval() != 20*time.Millisecond {
		t.Errorf("Interval() = %v, want 20ms", s.Interval())
	}

	frozen := atomic.LoadInt32(&first)
	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&first) != frozen {
		t.Error("first tick function still running after restart")
	}
	if atomic.LoadInt32(&second) == 0 {
		t.Error("second tick function never ran")
	}
}

func TestSchedulerParentContextCancel(t *testing.T) {
	s := NewRefreshScheduler(10*time.Millisecond, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx, 10*time.Millisecond, func(ctx context.Context) {})
	cancel()

	deadline := time.Now().Add(time.Second)
	for s.Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Active() {
		t.Error("scheduler should stop when its parent context ends")
	}
	s.Stop()
}
