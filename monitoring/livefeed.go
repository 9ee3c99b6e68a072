// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/interfaces"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
	"github.com/soothill/hvac-supervisor/telemetry"
)

const disconnectQuiesceMs = 250

// LiveState holds the last message received for one session.
type LiveState struct {
	mu         sync.RWMutex
	latest     map[string]any
	receivedAt time.Time
	count      uint64
}

// NewLiveState creates an empty state.
func NewLiveState() *LiveState {
	return &LiveState{}
}

// Update replaces the stored payload. raw must not be modified afterwards.
func (s *LiveState) Update(raw map[string]any, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = raw
	s.receivedAt = at
	s.count++
}

// Snapshot returns a copy of the last payload and when it arrived.
func (s *LiveState) Snapshot() (map[string]any, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, time.Time{}, false
	}
	out := make(map[string]any, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out, s.receivedAt, true
}

// Count returns how many messages this state has received.
func (s *LiveState) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// LiveFeedOptions configures the MQTT connection.
type LiveFeedOptions struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// LiveFeed subscribes to the telemetry topic and fans every valid message
// out to the registered session states.
type LiveFeed struct {
	opts   LiveFeedOptions
	client mqtt.Client

	mu     sync.RWMutex
	states map[uint64]*LiveState
	nextID atomic.Uint64
	now    func() time.Time
	log    zerolog.Logger
}

// NewLiveFeed creates an unconnected feed.
func NewLiveFeed(opts LiveFeedOptions) (*LiveFeed, error) {
	if opts.Broker == "" {
		return nil, apperrors.NewConfigError("mqtt.broker", "", apperrors.ErrNotConfigured)
	}
	if opts.Topic == "" {
		return nil, apperrors.NewConfigError("mqtt.topic", "", apperrors.ErrNotConfigured)
	}
	if opts.QoS > 2 {
		return nil, apperrors.NewConfigError("mqtt.qos", fmt.Sprint(opts.QoS), apperrors.ErrInvalidConfig)
	}
	return &LiveFeed{
		opts:   opts,
		states: make(map[uint64]*LiveState),
		now:    time.Now,
		log:    logger.Component("livefeed"),
	}, nil
}

// Connect dials the broker and subscribes. The subscription is renewed on
// every reconnect.
func (f *LiveFeed) Connect(ctx context.Context) error {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(f.opts.Broker).
		SetClientID(f.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetOnConnectHandler(f.subscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			metrics.LiveFeedErrors.Inc()
			f.log.Warn().Err(err).Str("broker", f.opts.Broker).Msg("MQTT connection lost")
		})
	if f.opts.Username != "" {
		clientOpts.SetUsername(f.opts.Username)
		clientOpts.SetPassword(f.opts.Password)
	}

	f.client = mqtt.NewClient(clientOpts)
	token := f.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return apperrors.NewFetchError("mqtt", f.opts.Broker, 0, err)
		}
	case <-ctx.Done():
		return apperrors.NewFetchError("mqtt", f.opts.Broker, 0, ctx.Err())
	}

	f.log.Info().Str("broker", f.opts.Broker).Str("topic", f.opts.Topic).Msg("Connected to MQTT broker")
	return nil
}

func (f *LiveFeed) subscribe(client mqtt.Client) {
	token := client.Subscribe(f.opts.Topic, f.opts.QoS, f.handleMessage)
	if token.Wait() && token.Error() != nil {
		metrics.LiveFeedErrors.Inc()
		f.log.Error().Err(token.Error()).Str("topic", f.opts.Topic).Msg("MQTT subscribe failed")
	}
}

func (f *LiveFeed) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	f.ingest(msg.Topic(), msg.Payload())
}

// ingest decodes one payload and hands it to every registered state.
// Malformed payloads are dropped; the states keep their previous value.
func (f *LiveFeed) ingest(topic string, payload []byte) {
	raw, err := telemetry.DecodeObject(topic, payload)
	if err != nil {
		metrics.LiveFeedErrors.Inc()
		f.log.Warn().Err(err).Str("topic", topic).Int("bytes", len(payload)).Msg("Dropping malformed MQTT payload")
		return
	}
	metrics.LiveFeedMessages.Inc()

	at := f.now()
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, state := range f.states {
		state.Update(raw, at)
	}
}

// Register attaches a session state. The returned function detaches it.
func (f *LiveFeed) Register(state *LiveState) func() {
	id := f.nextID.Add(1)
	f.mu.Lock()
	f.states[id] = state
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.states, id)
		f.mu.Unlock()
	}
}

// Subscribers returns the number of registered states.
func (f *LiveFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.states)
}

// Connected reports whether the broker connection is up.
func (f *LiveFeed) Connected() bool {
	return f.client != nil && f.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (f *LiveFeed) Close() {
	if f.client != nil && f.client.IsConnected() {
		f.client.Disconnect(disconnectQuiesceMs)
		f.log.Info().Msg("Disconnected from MQTT broker")
	}
}

// LiveSource serves the latest reading from a session's live state and
// delegates history to another source.
type LiveSource struct {
	state   *LiveState
	history interfaces.DataSource
}

// NewLiveSource creates a source; history may be nil.
func NewLiveSource(state *LiveState, history interfaces.DataSource) *LiveSource {
	return &LiveSource{state: state, history: history}
}

// Name implements interfaces.DataSource.
func (s *LiveSource) Name() string {
	return "mqtt"
}

// HistoryEnabled reports whether history is available from the delegate.
func (s *LiveSource) HistoryEnabled() bool {
	return s.history != nil && s.history.HistoryEnabled()
}

// FetchLatest returns the last message received, or ErrNoData before the
// first one.
func (s *LiveSource) FetchLatest(ctx context.Context) (map[string]any, error) {
	raw, _, ok := s.state.Snapshot()
	if !ok {
		return nil, apperrors.NewFetchError(keyLatest, "mqtt", 0, apperrors.ErrNoData)
	}
	return raw, nil
}

// FetchHistory delegates to the history source.
func (s *LiveSource) FetchHistory(ctx context.Context) ([]map[string]any, error) {
	if !s.HistoryEnabled() {
		return nil, apperrors.NewFetchError(keyHistory, "", 0, apperrors.ErrNotConfigured)
	}
	return s.history.FetchHistory(ctx)
}
