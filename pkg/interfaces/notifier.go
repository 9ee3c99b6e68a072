// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// SendAlert sends a notification with the given level, title, and message.
	SendAlert(ctx context.Context, level, title, message string) error
	// IsEnabled returns true if the notifier is configured and enabled.
	IsEnabled() bool
}

// AlertNotifier sends the supervisor's operational alerts.
type AlertNotifier interface {
	// SendUpstreamFailure reports that a telemetry key can no longer be fetched.
	SendUpstreamFailure(ctx context.Context, key string, err error) error
	// SendUpstreamRecovery reports that fetching works again after downtime.
	SendUpstreamRecovery(ctx context.Context, key string, downtime time.Duration) error
	// SendAlarmRaised reports that the installation alarm became active.
	SendAlarmRaised(ctx context.Context, summary string) error
	// SendAlarmCleared reports that the alarm is no longer active.
	SendAlarmCleared(ctx context.Context) error
	// IsEnabled returns true if alerts are actually delivered.
	IsEnabled() bool
}
