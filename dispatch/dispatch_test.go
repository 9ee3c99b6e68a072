// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/hvac-supervisor/command"
	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
)

type recordedRequest struct {
	method      string
	contentType string
	requestID   string
	body        map[string]any
}

func newSink(t *testing.T, status int, calls *int32, last *recordedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		raw, _ := io.ReadAll(r.Body)
		last.method = r.Method
		last.contentType = r.Header.Get("Content-Type")
		last.requestID = r.Header.Get(RequestIDHeader)
		last.body = map[string]any{}
		_ = json.Unmarshal(raw, &last.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSendMotor(t *testing.T) {
	var calls int32
	var last recordedRequest
	sink := newSink(t, http.StatusOK, &calls, &last)

	client := New(sink.URL, "")
	body, err := client.SendMotor(context.Background(), command.BuildMotorCommand(120, true))

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.MethodPost, last.method)
	assert.Contains(t, last.contentType, "application/json")
	assert.NotEmpty(t, last.requestID)
	assert.Equal(t, map[string]any{"target_speed": 120.0, "mute": 1.0}, last.body)
}

func TestSendRoomValid(t *testing.T) {
	var calls int32
	var last recordedRequest
	sink := newSink(t, http.StatusOK, &calls, &last)

	cmd, err := command.BuildRoomCommand("ON", 75, 18, 24, 28, 40, 70)
	require.NoError(t, err)

	client := New("", sink.URL)
	_, err = client.SendRoom(context.Background(), cmd)

	require.NoError(t, err)
	assert.Equal(t, "on", last.body["lampMode"])
	assert.Equal(t, 75.0, last.body["brightness"])
}

func TestSendRoomInvalidNeverPosts(t *testing.T) {
	var calls int32
	var last recordedRequest
	sink := newSink(t, http.StatusOK, &calls, &last)

	cmd, _ := command.BuildRoomCommand("Auto", 30, 25, 24, 28, 40, 70)

	client := New("", sink.URL)
	_, err := client.SendRoom(context.Background(), cmd)

	var verr *command.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(command.ConstraintTemperatureOrder))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSendUpstreamError(t *testing.T) {
	var calls int32
	var last recordedRequest
	sink := newSink(t, http.StatusInternalServerError, &calls, &last)

	client := New(sink.URL, "")
	_, err := client.SendMotor(context.Background(), command.StopMotorCommand(false))

	var derr *apperrors.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, apperrors.DispatchUpstream, derr.Kind)
	assert.Equal(t, http.StatusInternalServerError, derr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "non-2xx must not be retried")
}

func TestSendUnreachableSink(t *testing.T) {
	sink := httptest.NewServer(http.NotFoundHandler())
	url := sink.URL
	sink.Close()

	client := New(url, "")
	_, err := client.SendMotor(context.Background(), command.BuildMotorCommand(100, false))

	var derr *apperrors.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, apperrors.DispatchTransport, derr.Kind)
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer sink.Close()
	defer close(release)

	client := New("", "")
	_, err := client.Send(context.Background(), sink.URL, command.BuildMotorCommand(1, false), 50*time.Millisecond)

	var derr *apperrors.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, apperrors.DispatchTransport, derr.Kind)
	assert.True(t, errors.Is(err, apperrors.ErrTimeout))
}

func TestSendNotConfigured(t *testing.T) {
	client := New("", "")

	assert.False(t, client.MotorEnabled())
	assert.False(t, client.RoomEnabled())

	_, err := client.SendMotor(context.Background(), command.BuildMotorCommand(1, false))
	assert.True(t, apperrors.IsConfigError(err))
	assert.True(t, errors.Is(err, apperrors.ErrNotConfigured))

	_, err = client.SendRoom(context.Background(), command.DefaultRoomCommand())
	assert.True(t, apperrors.IsConfigError(err))

	_, err = client.Send(context.Background(), "", map[string]int{"a": 1}, time.Second)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestSetEndpoints(t *testing.T) {
	client := New("", "")
	client.SetEndpoints("http://gw/cmd", "http://gw/salle")
	assert.True(t, client.MotorEnabled())
	assert.True(t, client.RoomEnabled())
}

func TestRequestIDsAreUnique(t *testing.T) {
	var calls int32
	var last recordedRequest
	sink := newSink(t, http.StatusOK, &calls, &last)

	client := New(sink.URL, "")
	_, err := client.SendMotor(context.Background(), command.BuildMotorCommand(10, false))
	require.NoError(t, err)
	first := last.requestID

	_, err = client.SendMotor(context.Background(), command.BuildMotorCommand(10, false))
	require.NoError(t, err)
	assert.NotEqual(t, first, last.requestID)
}
