// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package dispatch posts command payloads to the actuator gateway.
//
// Every call issues exactly one POST; nothing is retried.
package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/soothill/hvac-supervisor/command"
	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
)

// DefaultTimeout bounds a single command round trip.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept for display.
const maxErrorBody = 512

// Command names used in errors, logs and metrics.
const (
	CommandMotor = "motor"
	CommandRoom  = "room"
	CommandRaw   = "raw"
)

// RequestIDHeader carries a unique id per POST for gateway-side correlation.
const RequestIDHeader = "X-Request-ID"

// Client sends commands to the configured sinks.
type Client struct {
	http *resty.Client

	mu       sync.RWMutex
	motorURL string
	roomURL  string
	timeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the traced default transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.SetTransport(rt)
	}
}

// WithTimeout sets the per-command timeout used by SendMotor and SendRoom.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a client. Either URL may be empty, which disables that command.
func New(motorURL, roomURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		motorURL: motorURL,
		roomURL:  roomURL,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MotorEnabled reports whether a motor command sink is configured.
func (c *Client) MotorEnabled() bool {
	return c.motorEndpoint() != ""
}

// RoomEnabled reports whether a room command sink is configured.
func (c *Client) RoomEnabled() bool {
	return c.roomEndpoint() != ""
}

// SetEndpoints swaps the command sinks, e.g. after a configuration reload.
func (c *Client) SetEndpoints(motorURL, roomURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motorURL = motorURL
	c.roomURL = roomURL
}

func (c *Client) motorEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.motorURL
}

func (c *Client) roomEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomURL
}

// Send posts payload as JSON to endpoint and returns the response body.
func (c *Client) Send(ctx context.Context, endpoint string, payload any, timeout time.Duration) ([]byte, error) {
	return c.send(ctx, CommandRaw, endpoint, payload, timeout)
}

// SendMotor sends a motor command to the motor sink.
func (c *Client) SendMotor(ctx context.Context, cmd command.MotorCommand) ([]byte, error) {
	endpoint := c.motorEndpoint()
	if endpoint == "" {
		return nil, apperrors.NewConfigError("commands.motor_url", "", apperrors.ErrNotConfigured)
	}
	return c.send(ctx, CommandMotor, endpoint, cmd, c.timeout)
}

// SendRoom validates and sends a room command. An invalid payload is
// returned as *command.ValidationError without any request being made.
func (c *Client) SendRoom(ctx context.Context, cmd command.RoomCommand) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	endpoint := c.roomEndpoint()
	if endpoint == "" {
		return nil, apperrors.NewConfigError("commands.room_url", "", apperrors.ErrNotConfigured)
	}
	return c.send(ctx, CommandRoom, endpoint, cmd, c.timeout)
}

func (c *Client) send(ctx context.Context, name, endpoint string, payload any, timeout time.Duration) ([]byte, error) {
	if endpoint == "" {
		return nil, apperrors.NewConfigError("endpoint", "", apperrors.ErrNotConfigured)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := uuid.NewString()
	start := time.Now()
	metrics.DispatchTotal.WithLabelValues(name).Inc()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, requestID).
		SetBody(payload).
		Post(endpoint)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(apperrors.ErrTimeout, err)
		}
		metrics.DispatchErrors.WithLabelValues(name, string(apperrors.DispatchTransport)).Inc()
		logger.Warn().Err(err).
			Str("command", name).
			Str("endpoint", endpoint).
			Str("request_id", requestID).
			Msg("Command dispatch failed")
		return nil, apperrors.NewTransportError(name, endpoint, err)
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		metrics.DispatchErrors.WithLabelValues(name, string(apperrors.DispatchUpstream)).Inc()
		logger.Warn().
			Str("command", name).
			Str("endpoint", endpoint).
			Str("request_id", requestID).
			Int("status", resp.StatusCode()).
			Msg("Command rejected by gateway")
		return body, apperrors.NewUpstreamError(name, endpoint, resp.StatusCode(), truncate(body))
	}

	logger.Info().
		Str("command", name).
		Str("request_id", requestID).
		Int("status", resp.StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("Command dispatched")
	return body, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
