// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFetchError(t *testing.T) {
	baseErr := fmt.Errorf("bad gateway")
	err := NewFetchError("latest", "http://gw/api/latest", 502, baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "fetch latest") || !strings.Contains(errMsg, "502") {
		t.Errorf("Error() = %q, want message containing 'fetch latest' and '502'", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	if !IsFetchError(err) {
		t.Error("IsFetchError() should return true for FetchError")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatal("errors.As() should extract FetchError")
	}
	if fe.Key != "latest" {
		t.Errorf("FetchError.Key = %q, want %q", fe.Key, "latest")
	}
}

func TestFetchErrorWithoutStatus(t *testing.T) {
	err := NewFetchError("history", "http://gw/api/history", 0, fmt.Errorf("connection refused"))
	if strings.Contains(err.Error(), "status") {
		t.Errorf("Error() = %q, should not mention a status", err.Error())
	}
}

func TestParseError(t *testing.T) {
	baseErr := fmt.Errorf("invalid character '<'")
	err := NewParseError("latest", baseErr)

	if !strings.Contains(err.Error(), "parse latest") {
		t.Errorf("Error() = %q, want message containing 'parse latest'", err.Error())
	}
	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}
	if !IsParseError(err) {
		t.Error("IsParseError() should return true for ParseError")
	}
}

func TestDispatchError(t *testing.T) {
	tests := []struct {
		name     string
		err      *DispatchError
		wantKind DispatchKind
		contains string
	}{
		{
			name:     "transport",
			err:      NewTransportError("motor", "http://gw/cmd", fmt.Errorf("dial tcp: connection refused")),
			wantKind: DispatchTransport,
			contains: "connection refused",
		},
		{
			name:     "upstream",
			err:      NewUpstreamError("room", "http://gw/salle", 500, "boom"),
			wantKind: DispatchUpstream,
			contains: "status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.wantKind)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want message containing %q", tt.err.Error(), tt.contains)
			}
			wrapped := fmt.Errorf("send: %w", tt.err)
			if !IsDispatchError(wrapped) {
				t.Error("IsDispatchError() should see through wrapping")
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	baseErr := fmt.Errorf("connection timeout")
	err := NewStorageError("write", "influxdb", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "storage") || !strings.Contains(errMsg, "write") || !strings.Contains(errMsg, "influxdb") {
		t.Errorf("Error() = %q, want message containing 'storage', 'write', and 'influxdb'", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("errors.As() should extract StorageError")
	}
	if se.Backend != "influxdb" {
		t.Errorf("StorageError.Backend = %q, want %q", se.Backend, "influxdb")
	}
}

func TestConfigError(t *testing.T) {
	baseErr := fmt.Errorf("is required")
	err := NewConfigError("sources.latest_url", "", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "config") || !strings.Contains(errMsg, "sources.latest_url") {
		t.Errorf("Error() = %q, want message containing 'config' and 'sources.latest_url'", errMsg)
	}

	if !IsConfigError(err) {
		t.Error("IsConfigError() should return true for ConfigError")
	}

	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatal("errors.As() should extract ConfigError")
	}
	if ce.Field != "sources.latest_url" {
		t.Errorf("ConfigError.Field = %q, want %q", ce.Field, "sources.latest_url")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("refresh.interval", "30s", "must be between 2s and 15s")

	errMsg := err.Error()
	if !strings.Contains(errMsg, "validation") || !strings.Contains(errMsg, "refresh.interval") {
		t.Errorf("Error() = %q, want message containing 'validation' and 'refresh.interval'", errMsg)
	}

	if !IsValidationError(err) {
		t.Error("IsValidationError() should return true for ValidationError")
	}
}

func TestNotificationError(t *testing.T) {
	baseErr := fmt.Errorf("webhook failed")
	err := NewNotificationError("slack", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "notification") || !strings.Contains(errMsg, "slack") {
		t.Errorf("Error() = %q, want message containing 'notification' and 'slack'", errMsg)
	}

	if !IsNotificationError(err) {
		t.Error("IsNotificationError() should return true for NotificationError")
	}
}

func TestSentinelErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"ErrNotConfigured", ErrNotConfigured},
		{"ErrNoData", ErrNoData},
		{"ErrTimeout", ErrTimeout},
		{"ErrCircuitOpen", ErrCircuitOpen},
		{"ErrInvalidConfig", ErrInvalidConfig},
		{"ErrSessionClosed", ErrSessionClosed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Error() == "" {
				t.Errorf("%s has empty error message", tc.name)
			}

			wrapped := fmt.Errorf("operation failed: %w", tc.err)
			if !errors.Is(wrapped, tc.err) {
				t.Errorf("errors.Is() should find wrapped %s", tc.name)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	fetchErr := NewFetchError("latest", "redis:latest", 0, ErrCircuitOpen)
	storageErr := NewStorageError("get", "redis", fetchErr)

	if !errors.Is(storageErr, ErrCircuitOpen) {
		t.Error("errors.Is() should find sentinel through chain")
	}

	var fe *FetchError
	if !errors.As(storageErr, &fe) {
		t.Error("errors.As() should find FetchError in chain")
	}
}

func TestErrorsWithoutUnderlyingError(t *testing.T) {
	if NewFetchError("latest", "", 0, nil).Error() == "" {
		t.Error("FetchError without underlying error should have message")
	}
	if NewParseError("history", nil).Error() == "" {
		t.Error("ParseError without underlying error should have message")
	}
	if NewStorageError("write", "", nil).Error() == "" {
		t.Error("StorageError without underlying error should have message")
	}
	if NewConfigError("field", "", nil).Error() == "" {
		t.Error("ConfigError without underlying error should have message")
	}
}

func TestIsHelperWithWrongType(t *testing.T) {
	genericErr := fmt.Errorf("generic error")

	checks := map[string]func(error) bool{
		"IsFetchError":        IsFetchError,
		"IsParseError":        IsParseError,
		"IsDispatchError":     IsDispatchError,
		"IsStorageError":      IsStorageError,
		"IsConfigError":       IsConfigError,
		"IsValidationError":   IsValidationError,
		"IsNotificationError": IsNotificationError,
	}
	for name, check := range checks {
		if check(genericErr) {
			t.Errorf("%s() should return false for generic error", name)
		}
	}
}
