// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
	"github.com/soothill/hvac-supervisor/telemetry"
)

const redisBackend = "redis"

// redisReader is the subset of the go-redis client the source needs.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisSource reads telemetry that an ingest pipeline keeps in Redis: the
// latest reading as a JSON string, the history as a list of JSON objects.
type RedisSource struct {
	rdb        redisReader
	latestKey  string
	historyKey string
	maxHistory int64
}

// RedisOptions configures NewRedisSource.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	LatestKey  string
	HistoryKey string
	// MaxHistory caps LRANGE; zero or less reads the whole list.
	MaxHistory int
}

// NewRedisSource connects to Redis and verifies the connection.
func NewRedisSource(ctx context.Context, opts RedisOptions) (*RedisSource, error) {
	if opts.Addr == "" {
		return nil, apperrors.NewConfigError("redis.addr", "", apperrors.ErrNotConfigured)
	}
	if opts.LatestKey == "" {
		return nil, apperrors.NewConfigError("redis.latest_key", "", apperrors.ErrNotConfigured)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperrors.NewStorageError("connect", redisBackend, err)
	}

	logger.Info().Str("addr", opts.Addr).Str("latest_key", opts.LatestKey).Msg("Connected to Redis")
	return newRedisSource(rdb, opts), nil
}

func newRedisSource(rdb redisReader, opts RedisOptions) *RedisSource {
	return &RedisSource{
		rdb:        rdb,
		latestKey:  opts.LatestKey,
		historyKey: opts.HistoryKey,
		maxHistory: int64(opts.MaxHistory),
	}
}

// Name implements interfaces.DataSource.
func (s *RedisSource) Name() string {
	return redisBackend
}

// HistoryEnabled reports whether a history key is configured.
func (s *RedisSource) HistoryEnabled() bool {
	return s.historyKey != ""
}

// FetchLatest reads and decodes the latest reading.
func (s *RedisSource) FetchLatest(ctx context.Context) (map[string]any, error) {
	val, err := s.rdb.Get(ctx, s.latestKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NewFetchError(KeyLatest, s.latestKey, 0, apperrors.ErrNoData)
	}
	if err != nil {
		return nil, apperrors.NewFetchError(KeyLatest, s.latestKey, 0, err)
	}
	return telemetry.DecodeLatest(s.latestKey, []byte(val))
}

// FetchHistory reads the history list in stored order. A missing key is an
// empty series.
func (s *RedisSource) FetchHistory(ctx context.Context) ([]map[string]any, error) {
	if !s.HistoryEnabled() {
		return nil, apperrors.NewFetchError(KeyHistory, "", 0, apperrors.ErrNotConfigured)
	}

	stop := int64(-1)
	if s.maxHistory > 0 {
		stop = s.maxHistory - 1
	}
	items, err := s.rdb.LRange(ctx, s.historyKey, 0, stop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.NewFetchError(KeyHistory, s.historyKey, 0, err)
	}

	rows := make([]map[string]any, 0, len(items))
	for i, item := range items {
		row, err := telemetry.DecodeObject(fmt.Sprintf("%s[%d]", s.historyKey, i), []byte(item))
		if err != nil {
			logger.Warn().Err(err).Str("key", s.historyKey).Int("index", i).
				Msg("Dropping undecodable history entry")
			metrics.HistoryRecordsDropped.Inc()
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Health pings Redis.
func (s *RedisSource) Health(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.NewStorageError("ping", redisBackend, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisSource) Close() error {
	return s.rdb.Close()
}
