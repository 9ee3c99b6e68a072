// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the HVAC supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts snapshot cache reads served from a fresh entry
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_snapshot_cache_hits_total",
		Help: "Snapshot cache reads served without an upstream fetch",
	}, []string{"key"})

	// CacheMisses counts snapshot cache reads that triggered or joined a fetch
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_snapshot_cache_misses_total",
		Help: "Snapshot cache reads that required an upstream fetch",
	}, []string{"key"})

	// CacheInvalidations counts manual refreshes
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_snapshot_cache_invalidations_total",
		Help: "Total number of manual snapshot cache invalidations",
	})

	// UpstreamFetchesTotal counts fetches issued to the telemetry source
	UpstreamFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_upstream_fetches_total",
		Help: "Total number of fetches issued to the telemetry source",
	}, []string{"key"})

	// UpstreamFetchErrors counts failed fetches by failure kind
	UpstreamFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_upstream_fetch_errors_total",
		Help: "Total number of failed telemetry fetches",
	}, []string{"key", "kind"})

	// UpstreamFetchDuration tracks telemetry fetch latency
	UpstreamFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hvac_upstream_fetch_duration_seconds",
		Help:    "Duration of telemetry fetches in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"key"})

	// CircuitBreakerState reports the upstream breaker state (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hvac_upstream_circuit_state",
		Help: "Upstream circuit breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"name"})

	// DispatchTotal counts commands sent to the actuator gateway
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_dispatch_total",
		Help: "Total number of commands sent to the actuator gateway",
	}, []string{"command"})

	// DispatchErrors counts failed command dispatches
	DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_dispatch_errors_total",
		Help: "Total number of failed command dispatches",
	}, []string{"command", "kind"})

	// DispatchDuration tracks command round trip time
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hvac_dispatch_duration_seconds",
		Help:    "Duration of command dispatches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveSessions tracks open dashboard sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hvac_active_sessions",
		Help: "Number of open dashboard sessions",
	})

	// ActiveSchedulers tracks sessions with auto-refresh running
	ActiveSchedulers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hvac_active_refresh_schedulers",
		Help: "Number of sessions with auto-refresh running",
	})

	// RefreshTicks counts scheduler ticks across all sessions
	RefreshTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_refresh_ticks_total",
		Help: "Total number of auto-refresh ticks",
	})

	// RefreshSkipped counts ticks that fetched nothing because no client
	// read the session recently
	RefreshSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_refresh_skipped_total",
		Help: "Total number of auto-refresh ticks skipped for idle sessions",
	})

	// HistoryRecordsDropped counts history elements that were not objects
	HistoryRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_history_records_dropped_total",
		Help: "Total number of history elements skipped because they were not JSON objects",
	})

	// CurrentReading exposes the most recent value of each numeric field
	CurrentReading = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hvac_current_reading",
		Help: "Most recent value of each telemetry field",
	}, []string{"field"})

	// AlarmActive is 1 while the installation reports an alarm
	AlarmActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hvac_alarm_active",
		Help: "1 while the installation reports an active alarm",
	})

	// LiveFeedMessages counts MQTT telemetry messages received
	LiveFeedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_livefeed_messages_total",
		Help: "Total number of telemetry messages received from the broker",
	})

	// LiveFeedErrors counts MQTT messages that could not be decoded
	LiveFeedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_livefeed_decode_errors_total",
		Help: "Total number of broker messages that could not be decoded",
	})

	// InfluxDBWritesTotal tracks the total number of writes to InfluxDB
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_influxdb_writes_total",
		Help: "Total number of writes to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed writes to InfluxDB
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hvac_influxdb_write_errors_total",
		Help: "Total number of failed writes to InfluxDB",
	})

	// NotificationsSent counts alerts delivered to Slack by severity
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hvac_notifications_sent_total",
		Help: "Total number of alerts delivered",
	}, []string{"severity"})
)
