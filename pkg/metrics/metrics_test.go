// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCacheCounters(t *testing.T) {
	for _, key := range []string{"latest", "history"} {
		initialHits := testutil.ToFloat64(CacheHits.WithLabelValues(key))
		initialMisses := testutil.ToFloat64(CacheMisses.WithLabelValues(key))

		CacheHits.WithLabelValues(key).Inc()
		CacheMisses.WithLabelValues(key).Inc()

		if got := testutil.ToFloat64(CacheHits.WithLabelValues(key)); got != initialHits+1 {
			t.Errorf("CacheHits{key=%s} = %v, want %v", key, got, initialHits+1)
		}
		if got := testutil.ToFloat64(CacheMisses.WithLabelValues(key)); got != initialMisses+1 {
			t.Errorf("CacheMisses{key=%s} = %v, want %v", key, got, initialMisses+1)
		}
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	ActiveSessions.Set(0)
	ActiveSessions.Inc()
	ActiveSessions.Inc()
	ActiveSessions.Dec()

	if value := testutil.ToFloat64(ActiveSessions); value != 1 {
		t.Errorf("ActiveSessions = %v, want 1", value)
	}
}

func TestCurrentReadingGaugeVec(t *testing.T) {
	CurrentReading.WithLabelValues("temperature_lt").Set(21.5)
	CurrentReading.WithLabelValues("gaz").Set(740)

	if value := testutil.ToFloat64(CurrentReading.WithLabelValues("temperature_lt")); value != 21.5 {
		t.Errorf("CurrentReading{temperature_lt} = %v, want 21.5", value)
	}
	if value := testutil.ToFloat64(CurrentReading.WithLabelValues("gaz")); value != 740 {
		t.Errorf("CurrentReading{gaz} = %v, want 740", value)
	}
}

func TestDispatchCounters(t *testing.T) {
	initial := testutil.ToFloat64(DispatchErrors.WithLabelValues("motor", "transport"))
	DispatchTotal.WithLabelValues("motor").Inc()
	DispatchErrors.WithLabelValues("motor", "transport").Inc()

	if got := testutil.ToFloat64(DispatchErrors.WithLabelValues("motor", "transport")); got != initial+1 {
		t.Errorf("DispatchErrors = %v, want %v", got, initial+1)
	}
}

func TestCountersIncrease(t *testing.T) {
	counters := map[string]prometheus.Counter{
		"CacheInvalidations":  CacheInvalidations,
		"RefreshTicks":        RefreshTicks,
		"RefreshSkipped":      RefreshSkipped,
		"HistoryDropped":      HistoryRecordsDropped,
		"LiveFeedMessages":    LiveFeedMessages,
		"LiveFeedErrors":      LiveFeedErrors,
		"InfluxDBWritesTotal": InfluxDBWritesTotal,
		"InfluxDBWriteErrors": InfluxDBWriteErrors,
	}

	for name, c := range counters {
		t.Run(name, func(t *testing.T) {
			initial := testutil.ToFloat64(c)
			c.Inc()
			if final := testutil.ToFloat64(c); final <= initial {
				t.Errorf("%s should have increased, got %v -> %v", name, initial, final)
			}
		})
	}
}

func TestHistogramsObserve(t *testing.T) {
	UpstreamFetchDuration.WithLabelValues("latest").Observe(0.12)
	DispatchDuration.Observe(0.05)

	if n := testutil.CollectAndCount(UpstreamFetchDuration); n == 0 {
		t.Error("UpstreamFetchDuration should have at least one series")
	}
}

func TestMetricsRegistered(t *testing.T) {
	collectors := []prometheus.Collector{
		CacheHits, CacheMisses, CacheInvalidations,
		UpstreamFetchesTotal, UpstreamFetchErrors, UpstreamFetchDuration, CircuitBreakerState,
		DispatchTotal, DispatchErrors, DispatchDuration,
		ActiveSessions, ActiveSchedulers, RefreshTicks, RefreshSkipped, HistoryRecordsDropped,
		CurrentReading, AlarmActive,
		LiveFeedMessages, LiveFeedErrors,
		InfluxDBWritesTotal, InfluxDBWriteErrors, NotificationsSent,
	}

	for _, c := range collectors {
		err := prometheus.Register(c)
		if err == nil {
			t.Errorf("collector %T registered twice without error", c)
			continue
		}
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			t.Errorf("unexpected registration error: %v", err)
		}
	}
}
