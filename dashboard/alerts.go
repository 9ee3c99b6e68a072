// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/interfaces"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/telemetry"
)

const alertTimeout = 5 * time.Second

type outage struct {
	since time.Time
}

// AlertMonitor watches fetch outcomes and readings from every session and
// sends one alert per state change: upstream down, upstream back, alarm
// raised, alarm cleared.
type AlertMonitor struct {
	notifier interfaces.AlertNotifier
	now      func() time.Time

	mu       sync.Mutex
	outages  map[string]*outage
	alarmOn  bool
	alarmSet bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAlertMonitor creates a monitor. A nil or disabled notifier makes every
// observation a no-op apart from state tracking.
func NewAlertMonitor(notifier interfaces.AlertNotifier) *AlertMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertMonitor{
		notifier: notifier,
		now:      time.Now,
		outages:  make(map[string]*outage),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ObserveFetch records the outcome of one upstream fetch for key. Failures
// that say nothing about the upstream (unconfigured key, cancelled session)
// are ignored.
func (m *AlertMonitor) ObserveFetch(key string, err error) {
	if m == nil || ignoredFetchError(err) {
		return
	}

	m.mu.Lock()
	current, down := m.outages[key]
	switch {
	case err != nil && !down:
		m.outages[key] = &outage{since: m.now()}
		m.mu.Unlock()
		logger.Warn().Err(err).Str("key", key).Msg("Upstream fetch failing")
		m.send(func(ctx context.Context, n interfaces.AlertNotifier) error {
			return n.SendUpstreamFailure(ctx, key, err)
		})
	case err == nil && down:
		delete(m.outages, key)
		downtime := m.now().Sub(current.since)
		m.mu.Unlock()
		logger.Info().Str("key", key).Dur("downtime", downtime).Msg("Upstream fetch recovered")
		m.send(func(ctx context.Context, n interfaces.AlertNotifier) error {
			return n.SendUpstreamRecovery(ctx, key, downtime)
		})
	default:
		m.mu.Unlock()
	}
}

// ObserveReading tracks the alarm flag. The first reading only sets the
// baseline unless it already carries an active alarm.
func (m *AlertMonitor) ObserveReading(r telemetry.Reading) {
	if m == nil {
		return
	}

	m.mu.Lock()
	changed := !m.alarmSet || m.alarmOn != r.Alarm
	raised := changed && r.Alarm
	cleared := changed && !r.Alarm && m.alarmSet
	m.alarmOn, m.alarmSet = r.Alarm, true
	m.mu.Unlock()

	switch {
	case raised:
		summary := AlarmSummary(r)
		logger.Warn().Str("summary", summary).Msg("Installation alarm raised")
		m.send(func(ctx context.Context, n interfaces.AlertNotifier) error {
			return n.SendAlarmRaised(ctx, summary)
		})
	case cleared:
		logger.Info().Msg("Installation alarm cleared")
		m.send(func(ctx context.Context, n interfaces.AlertNotifier) error {
			return n.SendAlarmCleared(ctx)
		})
	}
}

// Down lists the keys currently failing.
func (m *AlertMonitor) Down() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.outages))
	for k := range m.outages {
		keys = append(keys, k)
	}
	return keys
}

func (m *AlertMonitor) send(fn func(ctx context.Context, n interfaces.AlertNotifier) error) {
	if m.notifier == nil || !m.notifier.IsEnabled() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, alertTimeout)
		defer cancel()
		if err := fn(ctx, m.notifier); err != nil {
			logger.Error().Err(err).Msg("Failed to send alert")
		}
	}()
}

// Wait blocks until every alert in flight has been sent or has failed.
func (m *AlertMonitor) Wait() {
	m.wg.Wait()
}

// Close abandons alerts still in flight and waits for them to return.
func (m *AlertMonitor) Close() {
	m.cancel()
	m.wg.Wait()
}

// AlarmSummary describes the readings that accompany an alarm.
func AlarmSummary(r telemetry.Reading) string {
	var parts []string
	if r.Temperature != nil {
		parts = append(parts, fmt.Sprintf("temperature %.1f °C", *r.Temperature))
	}
	if r.Humidity != nil {
		parts = append(parts, fmt.Sprintf("humidity %.1f %%", *r.Humidity))
	}
	if r.Gas != nil {
		parts = append(parts, fmt.Sprintf("gas %d ADC", *r.Gas))
	}
	if r.MotorSpeed != nil {
		parts = append(parts, fmt.Sprintf("motor %d/255", *r.MotorSpeed))
	}
	if len(parts) == 0 {
		return "alarm active, no sensor values reported"
	}
	return strings.Join(parts, ", ")
}

func ignoredFetchError(err error) bool {
	return errors.Is(err, apperrors.ErrNotConfigured) ||
		errors.Is(err, apperrors.ErrSessionClosed) ||
		errors.Is(err, context.Canceled)
}
