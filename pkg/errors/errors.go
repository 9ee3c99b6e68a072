// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the HVAC supervisor.
//
// Every failure that crosses a component boundary is one of the types below,
// so the HTTP layer can turn it into a user-visible message without string
// matching.
//
// # Example Usage
//
//	err := errors.NewFetchError("latest", "http://gw/api/latest", 502, fmt.Errorf("bad gateway"))
//	if errors.IsFetchError(err) {
//	    log.Printf("upstream unavailable: %v", err)
//	}
//
//	var de *errors.DispatchError
//	if errors.As(err, &de) && de.Kind == errors.DispatchUpstream {
//	    log.Printf("gateway rejected command with status %d", de.Status)
//	}
package errors

import (
	"errors"
	"fmt"
)

// FetchError represents a failed read from a telemetry source.
type FetchError struct {
	Key      string // Snapshot key being fetched ("latest", "history")
	Endpoint string // Source endpoint or key
	Status   int    // HTTP status when the upstream answered, 0 otherwise
	Err      error  // Underlying error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s (%s): status %d: %v", e.Key, e.Endpoint, e.Status, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s (%s): %v", e.Key, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("fetch %s failed", e.Key)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new fetch error.
func NewFetchError(key, endpoint string, status int, err error) *FetchError {
	return &FetchError{Key: key, Endpoint: endpoint, Status: status, Err: err}
}

// IsFetchError checks if an error is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// ParseError represents an upstream payload that could not be decoded at all.
// Individual malformed fields never produce a ParseError; they degrade to absent.
type ParseError struct {
	Source string // Where the payload came from
	Err    error  // Underlying decode error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse %s failed", e.Source)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new parse error.
func NewParseError(source string, err error) *ParseError {
	return &ParseError{Source: source, Err: err}
}

// IsParseError checks if an error is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// DispatchKind classifies a failed command dispatch.
type DispatchKind string

const (
	// DispatchTransport covers network failures and timeouts.
	DispatchTransport DispatchKind = "transport"
	// DispatchUpstream covers non-2xx answers from the command sink.
	DispatchUpstream DispatchKind = "upstream"
)

// DispatchError represents a command that did not reach the actuator gateway.
type DispatchError struct {
	Command  string       // Command name ("motor", "room")
	Endpoint string       // Sink URL
	Kind     DispatchKind // transport or upstream
	Status   int          // HTTP status for upstream failures
	Body     string       // Response body for upstream failures (truncated)
	Err      error        // Underlying error
}

func (e *DispatchError) Error() string {
	if e.Kind == DispatchUpstream {
		return fmt.Sprintf("dispatch %s: upstream status %d: %s", e.Command, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("dispatch %s (%s): %v", e.Command, e.Kind, e.Err)
	}
	return fmt.Sprintf("dispatch %s failed", e.Command)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a dispatch error for network failures.
func NewTransportError(command, endpoint string, err error) *DispatchError {
	return &DispatchError{Command: command, Endpoint: endpoint, Kind: DispatchTransport, Err: err}
}

// NewUpstreamError creates a dispatch error for a non-2xx answer.
func NewUpstreamError(command, endpoint string, status int, body string) *DispatchError {
	return &DispatchError{
		Command:  command,
		Endpoint: endpoint,
		Kind:     DispatchUpstream,
		Status:   status,
		Body:     body,
		Err:      fmt.Errorf("status %d", status),
	}
}

// IsDispatchError checks if an error is a DispatchError.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Op      string // Operation being performed (e.g., "write", "get", "lrange")
	Backend string // Backend involved ("influxdb", "redis")
	Err     error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("storage %s (backend=%s): %v", e.Op, e.Backend, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, backend string, err error) *StorageError {
	return &StorageError{Op: op, Backend: backend, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidationError represents a data validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Invalid value
	Reason  string // Why validation failed
	Details error  // Additional details (optional)
}

func (e *ValidationError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("validation error: field %q with value %v: %s (%v)", e.Field, e.Value, e.Reason, e.Details)
	}
	return fmt.Sprintf("validation error: field %q with value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotificationError represents an error sending notifications.
type NotificationError struct {
	Type string // Notification type (e.g., "slack")
	Err  error  // Underlying error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notification %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("notification %s failed", e.Type)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// NewNotificationError creates a new notification error.
func NewNotificationError(notifType string, err error) *NotificationError {
	return &NotificationError{Type: notifType, Err: err}
}

// IsNotificationError checks if an error is a NotificationError.
func IsNotificationError(err error) bool {
	var ne *NotificationError
	return errors.As(err, &ne)
}

// Sentinel errors for common conditions
var (
	// ErrNotConfigured indicates an optional endpoint was left empty
	ErrNotConfigured = errors.New("endpoint not configured")

	// ErrNoData indicates a source has nothing to serve yet
	ErrNoData = errors.New("no data")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")

	// ErrCircuitOpen indicates the upstream circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSessionClosed indicates the owning session was torn down
	ErrSessionClosed = errors.New("session closed")
)
