// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package logger provides the process-wide structured logger used by every
// component of the HVAC supervisor. It wraps zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats accepted by InitializeWithFormat.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	log     zerolog.Logger
	console = true
)

// Initialize sets up the global logger with the specified level and a
// human-readable console writer.
func Initialize(level string) {
	InitializeWithFormat(level, FormatConsole)
}

// InitializeWithFormat sets up the global logger with the specified level and
// output format ("console" or "json"). Unknown formats fall back to console.
func InitializeWithFormat(level, format string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	console = !strings.EqualFold(format, FormatJSON)

	log = zerolog.New(writer(os.Stdout)).
		Level(logLevel).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "panic":
		return zerolog.PanicLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &log
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return log.Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With creates a child logger with additional fields
func With() zerolog.Context {
	return log.With()
}

// SetOutput sets the output writer for the logger, keeping the current format.
func SetOutput(w io.Writer) {
	log = log.Output(writer(w))
}

func writer(w io.Writer) io.Writer {
	if console {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stdout}
	}
	return w
}
