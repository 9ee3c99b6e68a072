// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// DataSource reads raw telemetry from an upstream. Implementations return
// decoded JSON values untouched; coercion happens in the telemetry package.
type DataSource interface {
	// FetchLatest returns the most recent reading as a JSON object.
	FetchLatest(ctx context.Context) (map[string]any, error)

	// FetchHistory returns the historical series as a list of JSON objects.
	FetchHistory(ctx context.Context) ([]map[string]any, error)

	// HistoryEnabled reports whether a history endpoint is configured.
	HistoryEnabled() bool

	// Name identifies the source kind in logs ("http", "redis", "mqtt").
	Name() string
}
