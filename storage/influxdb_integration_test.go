// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/soothill/hvac-supervisor/pkg/coerce"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// startInfluxDB runs a throwaway InfluxDB 2 container and returns a connected
// recorder for site "it".
func startInfluxDB(t *testing.T) *InfluxDBStorage {
	t.Helper()
	ctx := context.Background()

	influxContainer, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("test-org", "test-bucket", "test-user", "test-password"),
		influxdb.WithV2AdminToken("test-token"),
	)
	if err != nil {
		t.Fatalf("Failed to start InfluxDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := influxContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	url, err := influxContainer.ConnectionUrl(ctx)
	if err != nil {
		t.Fatalf("Failed to get InfluxDB URL: %v", err)
	}

	storage, err := NewInfluxDBStorage(url, "test-token", "test-org", "test-bucket", "it")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(storage.Close)
	return storage
}

// TestIntegration_RecordAndQuery writes readings and reads the newest back
func TestIntegration_RecordAndQuery(t *testing.T) {
	storage := startInfluxDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	older := now.Add(-2 * time.Minute)
	readings := []telemetry.Reading{
		{Temperature: coerce.Float(20.0), Gas: coerce.Int(500), Date: &older},
		{Temperature: coerce.Float(22.5), Gas: coerce.Int(800), MotorSpeed: coerce.Int(140), Mode: telemetry.ModeConfort, Date: &now},
	}
	for _, r := range readings {
		if err := storage.Record(ctx, r); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	storage.Flush()

	// Wait for data to be queryable
	time.Sleep(2 * time.Second)

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	latest, err := storage.QueryLatestReading(queryCtx)
	if err != nil {
		t.Fatalf("QueryLatestReading() error = %v", err)
	}
	if latest.Temperature == nil || *latest.Temperature != 22.5 {
		t.Errorf("Temperature = %v, want 22.5", latest.Temperature)
	}
	if latest.MotorSpeed == nil || *latest.MotorSpeed != 140 {
		t.Errorf("MotorSpeed = %v, want 140", latest.MotorSpeed)
	}
	if latest.Mode != telemetry.ModeConfort {
		t.Errorf("Mode = %q, want CONFORT", latest.Mode)
	}
}

// TestIntegration_QueryEmptyBucket reports no data
func TestIntegration_QueryEmptyBucket(t *testing.T) {
	storage := startInfluxDB(t)

	_, err := storage.QueryLatestReading(context.Background())
	if err == nil {
		t.Error("QueryLatestReading() on empty bucket should return an error")
	}
}

// TestIntegration_Health tests the health check
func TestIntegration_Health(t *testing.T) {
	storage := startInfluxDB(t)
	ctx := context.Background()

	if err := storage.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := storage.Health(timeoutCtx); err != nil {
		t.Errorf("Health() with timeout error = %v", err)
	}
}

// TestIntegration_RecordCancelledContext rejects writes after cancellation
func TestIntegration_RecordCancelledContext(t *testing.T) {
	storage := startInfluxDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Record(ctx, telemetry.Reading{Temperature: coerce.Float(19)}); err == nil {
		t.Error("Record() with cancelled context should fail")
	}
}
