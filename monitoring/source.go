// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// Upstream request timeouts.
const (
	DefaultLatestTimeout  = 8 * time.Second
	DefaultHistoryTimeout = 12 * time.Second
)

// Breaker defaults: open after this many consecutive failures, retry
// after the reset timeout.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
)

const (
	keyLatest  = "latest"
	keyHistory = "history"
)

// HTTPSource fetches readings from the telemetry HTTP API.
type HTTPSource struct {
	http       *resty.Client
	latestURL  string
	historyURL string

	latestTimeout  time.Duration
	historyTimeout time.Duration

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	breakerFailures uint32
	breakerReset    time.Duration
}

// SourceOption configures an HTTPSource.
type SourceOption func(*HTTPSource)

// WithSourceTransport replaces the traced default transport.
func WithSourceTransport(rt http.RoundTripper) SourceOption {
	return func(s *HTTPSource) {
		s.http.SetTransport(rt)
	}
}

// WithTimeouts overrides the per-request timeouts. Zero keeps the default.
func WithTimeouts(latest, history time.Duration) SourceOption {
	return func(s *HTTPSource) {
		if latest > 0 {
			s.latestTimeout = latest
		}
		if history > 0 {
			s.historyTimeout = history
		}
	}
}

// WithRateLimit caps outgoing requests across all sessions sharing the source.
func WithRateLimit(perSecond float64, burst int) SourceOption {
	return func(s *HTTPSource) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failures uint32, reset time.Duration) SourceOption {
	return func(s *HTTPSource) {
		if failures > 0 {
			s.breakerFailures = failures
		}
		if reset > 0 {
			s.breakerReset = reset
		}
	}
}

// NewHTTPSource creates a source. latestURL is required; an empty historyURL
// disables history.
func NewHTTPSource(latestURL, historyURL string, opts ...SourceOption) (*HTTPSource, error) {
	if latestURL == "" {
		return nil, apperrors.NewConfigError("sources.latest_url", "", apperrors.ErrNotConfigured)
	}
	return newHTTPSource(latestURL, historyURL, opts), nil
}

// NewHistorySource creates a source that only serves history, for use behind
// a live feed.
func NewHistorySource(historyURL string, opts ...SourceOption) (*HTTPSource, error) {
	if historyURL == "" {
		return nil, apperrors.NewConfigError("sources.history_url", "", apperrors.ErrNotConfigured)
	}
	return newHTTPSource("", historyURL, opts), nil
}

func newHTTPSource(latestURL, historyURL string, opts []SourceOption) *HTTPSource {
	s := &HTTPSource{
		http: resty.New().
			SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
		latestURL:       latestURL,
		historyURL:      historyURL,
		latestTimeout:   DefaultLatestTimeout,
		historyTimeout:  DefaultHistoryTimeout,
		breakerFailures: DefaultBreakerFailures,
		breakerReset:    DefaultBreakerReset,
	}
	for _, opt := range opts {
		opt(s)
	}

	threshold := s.breakerFailures
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     s.breakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Upstream circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("upstream").Set(float64(gobreaker.StateClosed))

	return s
}

// Name implements interfaces.DataSource.
func (s *HTTPSource) Name() string {
	return "http"
}

// HistoryEnabled reports whether a history URL is configured.
func (s *HTTPSource) HistoryEnabled() bool {
	return s.historyURL != ""
}

// FetchLatest GETs the latest reading.
func (s *HTTPSource) FetchLatest(ctx context.Context) (map[string]any, error) {
	if s.latestURL == "" {
		return nil, apperrors.NewFetchError(keyLatest, "", 0, apperrors.ErrNotConfigured)
	}
	body, err := s.get(ctx, keyLatest, s.latestURL, s.latestTimeout)
	if err != nil {
		return nil, err
	}
	return telemetry.DecodeLatest(s.latestURL, body)
}

// FetchHistory GETs the history series.
func (s *HTTPSource) FetchHistory(ctx context.Context) ([]map[string]any, error) {
	if !s.HistoryEnabled() {
		return nil, apperrors.NewFetchError(keyHistory, "", 0, apperrors.ErrNotConfigured)
	}
	body, err := s.get(ctx, keyHistory, s.historyURL, s.historyTimeout)
	if err != nil {
		return nil, err
	}
	return telemetry.DecodeHistory(s.historyURL, body)
}

// BreakerState returns the current breaker state.
func (s *HTTPSource) BreakerState() gobreaker.State {
	return s.breaker.State()
}

func (s *HTTPSource) get(ctx context.Context, key, endpoint string, timeout time.Duration) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, apperrors.NewFetchError(key, endpoint, 0, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var status int
	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.http.R().SetContext(ctx).Get(endpoint)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = errors.Join(apperrors.ErrTimeout, err)
			}
			return nil, err
		}
		status = resp.StatusCode()
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("unexpected status %d", status)
		}
		return resp.Body(), nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errors.Join(apperrors.ErrCircuitOpen, err)
		}
		logger.Debug().Err(err).Str("key", key).Str("endpoint", endpoint).Int("status", status).
			Msg("Upstream fetch failed")
		return nil, apperrors.NewFetchError(key, endpoint, status, err)
	}

	return result.([]byte), nil
}
