// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
)

func newTestFeed(t *testing.T) *LiveFeed {
	t.Helper()
	feed, err := NewLiveFeed(LiveFeedOptions{Broker: "tcp://localhost:1883", Topic: "hvac/latest"})
	require.NoError(t, err)
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return at }
	return feed
}

func TestNewLiveFeedValidation(t *testing.T) {
	tests := []struct {
		name string
		opts LiveFeedOptions
	}{
		{"no broker", LiveFeedOptions{Topic: "t"}},
		{"no topic", LiveFeedOptions{Broker: "tcp://b:1883"}},
		{"bad qos", LiveFeedOptions{Broker: "tcp://b:1883", Topic: "t", QoS: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLiveFeed(tt.opts)
			assert.True(t, apperrors.IsConfigError(err))
		})
	}
}

func TestLiveFeedFansOutToSessions(t *testing.T) {
	feed := newTestFeed(t)
	a, b := NewLiveState(), NewLiveState()
	feed.Register(a)
	feed.Register(b)

	feed.ingest("hvac/latest", []byte(`{"temperature_lt": 22.1, "gaz": 800}`))

	for _, state := range []*LiveState{a, b} {
		raw, at, ok := state.Snapshot()
		require.True(t, ok)
		assert.Equal(t, json.Number("22.1"), raw["temperature_lt"])
		assert.Equal(t, 2025, at.Year())
		assert.Equal(t, uint64(1), state.Count())
	}
}

func TestLiveFeedUnregister(t *testing.T) {
	feed := newTestFeed(t)
	state := NewLiveState()
	unregister := feed.Register(state)
	assert.Equal(t, 1, feed.Subscribers())

	unregister()
	assert.Equal(t, 0, feed.Subscribers())

	feed.ingest("hvac/latest", []byte(`{"gaz": 1}`))
	_, _, ok := state.Snapshot()
	assert.False(t, ok)
}

func TestLiveFeedDropsMalformedPayload(t *testing.T) {
	feed := newTestFeed(t)
	state := NewLiveState()
	feed.Register(state)

	feed.ingest("hvac/latest", []byte(`{"gaz": 5}`))
	feed.ingest("hvac/latest", []byte(`not json`))
	feed.ingest("hvac/latest", []byte(`[1, 2]`))

	raw, _, ok := state.Snapshot()
	require.True(t, ok)
	assert.Equal(t, json.Number("5"), raw["gaz"])
	assert.Equal(t, uint64(1), state.Count())
}

func TestLiveStateSnapshotIsACopy(t *testing.T) {
	state := NewLiveState()
	state.Update(map[string]any{"gaz": 1}, time.Now())

	raw, _, _ := state.Snapshot()
	raw["gaz"] = 999

	again, _, _ := state.Snapshot()
	assert.Equal(t, 1, again["gaz"])
}

func TestLiveSource(t *testing.T) {
	state := NewLiveState()
	src := NewLiveSource(state, nil)

	assert.Equal(t, "mqtt", src.Name())
	assert.False(t, src.HistoryEnabled())

	_, err := src.FetchLatest(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoData)

	state.Update(map[string]any{"gaz": json.Number("42")}, time.Now())
	raw, err := src.FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, json.Number("42"), raw["gaz"])

	_, err = src.FetchHistory(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)
}

func TestLiveSourceDelegatesHistory(t *testing.T) {
	upstream := newUpstream(t, http.StatusOK, `[{"id": 1}, {"id": 2}, {"id": 3}]`, nil)
	history, err := NewHTTPSource("http://unused", upstream.URL)
	require.NoError(t, err)

	src := NewLiveSource(NewLiveState(), history)
	require.True(t, src.HistoryEnabled())

	rows, err := src.FetchHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
