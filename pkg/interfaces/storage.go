// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"

	"github.com/soothill/hvac-supervisor/telemetry"
)

// ReadingRecorder mirrors freshly fetched readings into a time-series store.
type ReadingRecorder interface {
	// Record writes one reading; readings without a date are stamped now.
	Record(ctx context.Context, reading telemetry.Reading) error

	// Flush ensures all pending writes are completed
	Flush()

	// Close gracefully shuts down the storage connection
	Close()

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error
}
