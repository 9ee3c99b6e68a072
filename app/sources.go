// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/soothill/hvac-supervisor/config"
	"github.com/soothill/hvac-supervisor/dashboard"
	"github.com/soothill/hvac-supervisor/monitoring"
	"github.com/soothill/hvac-supervisor/pkg/interfaces"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/storage"
)

var errBrokerDown = errors.New("mqtt broker not connected")

// sources holds the upstream connections shared by every session.
type sources struct {
	kind string
	// shared serves http and redis sessions directly. Behind an MQTT feed it
	// only serves history and may be nil.
	shared interfaces.DataSource
	http   *monitoring.HTTPSource
	redis  *storage.RedisSource
	feed   *monitoring.LiveFeed
}

func httpSourceOptions(cfg *config.Config) []monitoring.SourceOption {
	opts := []monitoring.SourceOption{
		monitoring.WithTimeouts(cfg.Sources.LatestTimeout, cfg.Sources.HistoryTimeout),
		monitoring.WithBreaker(cfg.Sources.BreakerFailures, cfg.Sources.BreakerReset),
	}
	if cfg.Sources.RateLimit > 0 {
		opts = append(opts, monitoring.WithRateLimit(cfg.Sources.RateLimit, cfg.Sources.RateBurst))
	}
	return opts
}

// openSources connects the configured source kind. The MQTT feed is created
// but not connected; see App.startLiveFeed.
func openSources(ctx context.Context, cfg *config.Config) (*sources, error) {
	src := &sources{kind: cfg.Sources.Kind}

	switch cfg.Sources.Kind {
	case config.SourceRedis:
		rs, err := storage.NewRedisSource(ctx, storage.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			LatestKey:  cfg.Redis.LatestKey,
			HistoryKey: cfg.Redis.HistoryKey,
			MaxHistory: cfg.Redis.MaxHistory,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open redis source: %w", err)
		}
		src.redis, src.shared = rs, rs

	case config.SourceMQTT:
		feed, err := monitoring.NewLiveFeed(monitoring.LiveFeedOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create live feed: %w", err)
		}
		src.feed = feed
		if cfg.Sources.HistoryURL != "" {
			hs, err := monitoring.NewHistorySource(cfg.Sources.HistoryURL, httpSourceOptions(cfg)...)
			if err != nil {
				return nil, err
			}
			src.http, src.shared = hs, hs
		}

	default:
		hs, err := monitoring.NewHTTPSource(cfg.Sources.LatestURL, cfg.Sources.HistoryURL, httpSourceOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		src.http, src.shared = hs, hs
	}

	logger.Info().Str("kind", src.kind).Bool("history", src.historyEnabled()).Msg("Reading source ready")
	return src, nil
}

func (s *sources) historyEnabled() bool {
	return s.shared != nil && s.shared.HistoryEnabled()
}

// factory returns the per-session source constructor.
func (s *sources) factory() dashboard.SourceFactory {
	return func(live *monitoring.LiveState) interfaces.DataSource {
		if s.feed != nil {
			return monitoring.NewLiveSource(live, s.shared)
		}
		return s.shared
	}
}

// registrar returns the feed as a LiveRegistrar, or nil without one.
func (s *sources) registrar() dashboard.LiveRegistrar {
	if s.feed == nil {
		return nil
	}
	return s.feed
}

// fetchLatest reads the latest payload outside any session, for readiness checks.
func (s *sources) fetchLatest(ctx context.Context) (map[string]any, error) {
	if s.feed != nil {
		if !s.feed.Connected() {
			return nil, errBrokerDown
		}
		return map[string]any{}, nil
	}
	return s.shared.FetchLatest(ctx)
}

func (s *sources) close() {
	if s.feed != nil {
		s.feed.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close redis source")
		}
	}
}
