// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage holds the per-session snapshot cache and the optional
// backends readings can be read from or mirrored to.
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// Measurement is the InfluxDB measurement readings are written to.
const Measurement = "hvac_reading"

const influxBackend = "influxdb"

// InfluxDBStorage mirrors readings into InfluxDB.
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
	site     string
	now      func() time.Time
}

// NewInfluxDBStorage creates a new InfluxDB recorder. site is stored as a tag
// on every point so several supervisors can share a bucket.
func NewInfluxDBStorage(url, token, org, bucket, site string) (*InfluxDBStorage, error) {
	if url == "" {
		return nil, apperrors.NewConfigError("influxdb.url", "", apperrors.ErrNotConfigured)
	}

	client := influxdb2.NewClient(url, token)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, apperrors.NewStorageError("connect", influxBackend, err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, apperrors.NewStorageError("health", influxBackend, fmt.Errorf("status %s: %s", health.Status, message))
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	writeAPI := client.WriteAPI(org, bucket)

	// Handle async write errors
	go func() {
		for err := range writeAPI.Errors() {
			metrics.InfluxDBWriteErrors.Inc()
			logger.Error().Err(err).Msg("InfluxDB write error")
		}
	}()

	return &InfluxDBStorage{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
		org:      org,
		site:     site,
		now:      time.Now,
	}, nil
}

// Record queues one reading for writing. Fields the reading lacks are left
// out of the point; a reading carrying nothing but the alarm flag is skipped.
func (s *InfluxDBStorage) Record(ctx context.Context, reading telemetry.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := readingPoint(reading, s.site, s.now())
	if !ok {
		logger.Debug().Msg("Skipping reading with no numeric fields")
		return nil
	}
	s.writeAPI.WritePoint(p)
	metrics.InfluxDBWritesTotal.Inc()
	return nil
}

// Flush forces all pending writes to complete
func (s *InfluxDBStorage) Flush() {
	s.writeAPI.Flush()
}

// Close closes the InfluxDB client and flushes pending writes
func (s *InfluxDBStorage) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.writeAPI.Flush()
	s.client.Close()
}

// Health pings the server.
func (s *InfluxDBStorage) Health(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return apperrors.NewStorageError("ping", influxBackend, err)
	}
	if !ok {
		return apperrors.NewStorageError("ping", influxBackend, fmt.Errorf("server not ready"))
	}
	return nil
}

// QueryLatestReading reads back the most recent point written for this site
// within the last hour.
func (s *InfluxDBStorage) QueryLatestReading(ctx context.Context) (telemetry.Reading, error) {
	queryAPI := s.client.QueryAPI(s.org)

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -1h)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.site == "%s")
			|> last()
	`, s.bucket, Measurement, s.site)

	result, err := queryAPI.Query(ctx, query)
	if err != nil {
		return telemetry.Reading{}, apperrors.NewStorageError("query", influxBackend, err)
	}
	defer func() {
		_ = result.Close()
	}()

	raw := make(map[string]any)
	for result.Next() {
		record := result.Record()
		raw[telemetry.FieldDate] = record.Time()
		if mode, ok := record.ValueByKey(telemetry.FieldMode).(string); ok {
			raw[telemetry.FieldMode] = mode
		}
		raw[record.Field()] = record.Value()
	}

	if result.Err() != nil {
		return telemetry.Reading{}, apperrors.NewStorageError("query", influxBackend, result.Err())
	}
	if len(raw) == 0 {
		return telemetry.Reading{}, apperrors.ErrNoData
	}

	return telemetry.ParseReading(raw), nil
}

// readingPoint converts a reading into a point. The reading's own date is
// used when it has one.
func readingPoint(r telemetry.Reading, site string, now time.Time) (*write.Point, bool) {
	fields := make(map[string]interface{})
	measured := 0
	for _, name := range telemetry.NumericFields() {
		if v, ok := r.Value(name); ok {
			fields[name] = v
			if name != telemetry.FieldAlarm {
				measured++
			}
		}
	}
	if measured == 0 {
		return nil, false
	}

	tags := map[string]string{}
	if site != "" {
		tags["site"] = site
	}
	if r.Mode != telemetry.ModeUnspecified {
		tags[telemetry.FieldMode] = string(r.Mode)
	}

	ts := now
	if r.Date != nil {
		ts = *r.Date
	}
	return influxdb2.NewPoint(Measurement, tags, fields, ts), true
}
