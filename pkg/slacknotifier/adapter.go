// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package slacknotifier

import (
	"context"
	"fmt"
	"time"

	"github.com/soothill/hvac-supervisor/pkg/interfaces"
)

// AlertAdapter formats supervisor alerts for Slack.
type AlertAdapter struct {
	notifier interfaces.Notifier
}

var _ interfaces.AlertNotifier = (*AlertAdapter)(nil)

// NewAlertAdapter creates a new adapter.
func NewAlertAdapter(notifier interfaces.Notifier) *AlertAdapter {
	return &AlertAdapter{notifier: notifier}
}

// SendUpstreamFailure sends an alert when a telemetry endpoint stops answering
func (a *AlertAdapter) SendUpstreamFailure(ctx context.Context, key string, err error) error {
	return a.notifier.SendAlert(ctx, "danger", "⚠️ Telemetry Source Unavailable",
		fmt.Sprintf("Fetching %s failed: %v\nThe dashboard keeps showing the last good values.", key, err))
}

// SendUpstreamRecovery sends an alert when a telemetry endpoint recovers
func (a *AlertAdapter) SendUpstreamRecovery(ctx context.Context, key string, downtime time.Duration) error {
	return a.notifier.SendAlert(ctx, "good", "✅ Telemetry Source Restored",
		fmt.Sprintf("Fetching %s works again after %s.", key, downtime.Round(time.Second)))
}

// SendAlarmRaised sends an alert when the installation alarm turns on
func (a *AlertAdapter) SendAlarmRaised(ctx context.Context, summary string) error {
	return a.notifier.SendAlert(ctx, "danger", "🚨 HVAC Alarm Active", summary)
}

// SendAlarmCleared sends an alert when the alarm turns off again
func (a *AlertAdapter) SendAlarmCleared(ctx context.Context) error {
	return a.notifier.SendAlert(ctx, "good", "✅ HVAC Alarm Cleared", "The installation alarm is no longer active.")
}

// IsEnabled returns whether Slack notifications are enabled
func (a *AlertAdapter) IsEnabled() bool {
	return a.notifier.IsEnabled()
}
