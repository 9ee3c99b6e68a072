// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the HVAC supervisor.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/soothill/hvac-supervisor/dashboard"
	"github.com/soothill/hvac-supervisor/dispatch"
	"github.com/soothill/hvac-supervisor/monitoring"
	"github.com/soothill/hvac-supervisor/pkg/coerce"
	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/util"
	"github.com/soothill/hvac-supervisor/storage"
)

// Source kinds.
const (
	SourceHTTP  = "http"
	SourceRedis = "redis"
	SourceMQTT  = "mqtt"
)

// Config represents the application configuration
type Config struct {
	Sources       SourcesConfig       `yaml:"sources"`
	Commands      CommandsConfig      `yaml:"commands"`
	Cache         CacheConfig         `yaml:"cache"`
	Refresh       RefreshConfig       `yaml:"refresh"`
	Display       DisplayConfig       `yaml:"display"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Server        ServerConfig        `yaml:"server"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Redis         RedisConfig         `yaml:"redis"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	View          *dashboard.ViewSpec `yaml:"view"`
}

// SourcesConfig selects where readings come from.
type SourcesConfig struct {
	Kind            string        `yaml:"kind" validate:"oneof=http redis mqtt"`
	LatestURL       string        `yaml:"latest_url" validate:"omitempty,url"`
	HistoryURL      string        `yaml:"history_url" validate:"omitempty,url"`
	LatestTimeout   time.Duration `yaml:"latest_timeout" validate:"gte=0"`
	HistoryTimeout  time.Duration `yaml:"history_timeout" validate:"gte=0"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" validate:"gte=0"`
}

// CommandsConfig holds the command sink endpoints. Either may be empty.
type CommandsConfig struct {
	MotorURL string        `yaml:"motor_url" validate:"omitempty,url"`
	RoomURL  string        `yaml:"room_url" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// CacheConfig holds per-key staleness windows.
type CacheConfig struct {
	LatestTTL  time.Duration `yaml:"latest_ttl" validate:"gte=0"`
	HistoryTTL time.Duration `yaml:"history_ttl" validate:"gte=0"`
}

// RefreshConfig bounds the auto-refresh interval.
type RefreshConfig struct {
	MinInterval     time.Duration `yaml:"min_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	DefaultInterval time.Duration `yaml:"default_interval"`
}

// DisplayConfig holds presentation settings.
type DisplayConfig struct {
	// Timezone is applied to naive timestamps.
	Timezone     string `yaml:"timezone"`
	HistoryOrder string `yaml:"history_order" validate:"omitempty,oneof=newest oldest"`
}

// SessionsConfig holds session lifetime settings.
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	MaxSessions int           `yaml:"max_sessions" validate:"gte=0"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gt=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gt=0"`
}

// InfluxDBConfig holds the optional reading recorder settings.
type InfluxDBConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	Site         string `yaml:"site"`
}

// Enabled reports whether readings should be recorded.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// RedisConfig holds the Redis source settings.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" validate:"gte=0"`
	LatestKey  string `yaml:"latest_key"`
	HistoryKey string `yaml:"history_key"`
	MaxHistory int    `yaml:"max_history" validate:"gte=0"`
}

// MQTTConfig holds the live feed settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos" validate:"lte=2"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NotificationsConfig holds alerting settings.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies overrides and defaults, and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"SOURCE_KIND", &c.Sources.Kind},
		{"API_LATEST", &c.Sources.LatestURL},
		{"API_HISTORY", &c.Sources.HistoryURL},
		{"API_CMD", &c.Commands.MotorURL},
		{"API_SALLE_CMD", &c.Commands.RoomURL},
		{"DISPLAY_TIMEZONE", &c.Display.Timezone},
		{"LISTEN_ADDR", &c.Server.Addr},
		{"INFLUXDB_URL", &c.InfluxDB.URL},
		{"INFLUXDB_TOKEN", &c.InfluxDB.Token},
		{"INFLUXDB_ORG", &c.InfluxDB.Organization},
		{"INFLUXDB_BUCKET", &c.InfluxDB.Bucket},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_TOPIC", &c.MQTT.Topic},
		{"SLACK_WEBHOOK_URL", &c.Notifications.SlackWebhookURL},
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_FORMAT", &c.Logging.Format},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	if interval := os.Getenv("REFRESH_INTERVAL"); interval != "" {
		duration, parseErr := parseInterval(interval)
		if parseErr == nil {
			c.Refresh.DefaultInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse REFRESH_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Sources.Kind == "" {
		c.Sources.Kind = SourceHTTP
	}
	if c.Sources.LatestTimeout == 0 {
		c.Sources.LatestTimeout = monitoring.DefaultLatestTimeout
	}
	if c.Sources.HistoryTimeout == 0 {
		c.Sources.HistoryTimeout = monitoring.DefaultHistoryTimeout
	}
	if c.Sources.BreakerFailures == 0 {
		c.Sources.BreakerFailures = monitoring.DefaultBreakerFailures
	}
	if c.Sources.BreakerReset == 0 {
		c.Sources.BreakerReset = monitoring.DefaultBreakerReset
	}
	if c.Commands.Timeout == 0 {
		c.Commands.Timeout = dispatch.DefaultTimeout
	}
	if c.Cache.LatestTTL == 0 {
		c.Cache.LatestTTL = storage.DefaultLatestTTL
	}
	if c.Cache.HistoryTTL == 0 {
		c.Cache.HistoryTTL = storage.DefaultHistoryTTL
	}
	if c.Refresh.MinInterval == 0 {
		c.Refresh.MinInterval = monitoring.DefaultMinInterval
	}
	if c.Refresh.MaxInterval == 0 {
		c.Refresh.MaxInterval = monitoring.DefaultMaxInterval
	}
	if c.Refresh.DefaultInterval == 0 {
		c.Refresh.DefaultInterval = monitoring.DefaultRefreshInterval
	}
	if c.Display.Timezone == "" {
		c.Display.Timezone = coerce.DefaultTimezone
	}
	if c.Display.HistoryOrder == "" {
		c.Display.HistoryOrder = dashboard.OrderNewest
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = dashboard.DefaultIdleTimeout
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = dashboard.DefaultMaxSessions
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.InfluxDB.Site == "" {
		c.InfluxDB.Site = "default"
	}
	if c.Redis.LatestKey == "" {
		c.Redis.LatestKey = "hvac:latest"
	}
	if c.Redis.HistoryKey == "" {
		c.Redis.HistoryKey = "hvac:history"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "hvac-supervisor"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logger.FormatConsole
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns a validator that reports yaml field names.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateTags(); err != nil {
		return err
	}

	checks := []func() error{
		c.validateSources,
		c.validateRefresh,
		c.validateDisplay,
		c.validateInfluxDB,
		c.validateLogging,
		c.validateView,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}

	return nil
}

// validateTags runs the struct tag rules and reports the first failure.
func (c *Config) validateTags() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	return apperrors.NewConfigError(field, fmt.Sprint(fe.Value()),
		fmt.Errorf("failed %q rule", fe.Tag()))
}

// validateSources checks that the selected source kind has what it needs.
func (c *Config) validateSources() error {
	switch c.Sources.Kind {
	case SourceHTTP:
		if c.Sources.LatestURL == "" {
			return apperrors.NewConfigError("sources.latest_url", "", errors.New("is required for the http source (API_LATEST)"))
		}
	case SourceRedis:
		if c.Redis.Addr == "" {
			return apperrors.NewConfigError("redis.addr", "", errors.New("is required for the redis source"))
		}
	case SourceMQTT:
		if c.MQTT.Broker == "" {
			return apperrors.NewConfigError("mqtt.broker", "", errors.New("is required for the mqtt source"))
		}
		if c.MQTT.Topic == "" {
			return apperrors.NewConfigError("mqtt.topic", "", errors.New("is required for the mqtt source"))
		}
	}
	return nil
}

// validateRefresh checks min <= default <= max.
func (c *Config) validateRefresh() error {
	r := c.Refresh
	if r.MinInterval < time.Second {
		return apperrors.NewConfigError("refresh.min_interval", r.MinInterval.String(), errors.New("must be at least 1 second"))
	}
	if r.MaxInterval < r.MinInterval {
		return apperrors.NewConfigError("refresh.max_interval", r.MaxInterval.String(), errors.New("must not be below refresh.min_interval"))
	}
	if r.DefaultInterval < r.MinInterval || r.DefaultInterval > r.MaxInterval {
		return apperrors.NewConfigError("refresh.default_interval", r.DefaultInterval.String(),
			fmt.Errorf("must be between %s and %s", r.MinInterval, r.MaxInterval))
	}
	return nil
}

// validateDisplay checks the timezone resolves.
func (c *Config) validateDisplay() error {
	if _, err := coerce.LoadLocation(c.Display.Timezone); err != nil {
		return apperrors.NewConfigError("display.timezone", c.Display.Timezone, err)
	}
	return nil
}

// validateInfluxDB validates the InfluxDB configuration when recording is enabled
func (c *Config) validateInfluxDB() error {
	if !c.InfluxDB.Enabled() {
		return nil
	}

	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return apperrors.NewConfigError("influxdb.url", c.InfluxDB.URL, errors.New("is not a valid URL"))
	}

	// Check for HTTPS in production-like URLs (not localhost/127.0.0.1)
	if securityErr := validateURLSecurity(parsedURL); securityErr != nil {
		return securityErr
	}

	if c.InfluxDB.Token == "" {
		return apperrors.NewConfigError("influxdb.token", "", errors.New("is required"))
	}
	if len(c.InfluxDB.Token) < 8 {
		return apperrors.NewConfigError("influxdb.token", "[redacted]", errors.New("must be at least 8 characters long"))
	}
	if c.InfluxDB.Organization == "" {
		return apperrors.NewConfigError("influxdb.organization", "", errors.New("is required"))
	}
	if c.InfluxDB.Bucket == "" {
		return apperrors.NewConfigError("influxdb.bucket", "", errors.New("is required"))
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return apperrors.NewConfigError("influxdb.url", parsedURL.String(),
			fmt.Errorf("must use HTTPS for non-local connections (got %s)", parsedURL.Scheme))
	}

	return nil
}

// validateLogging validates the logging configuration
func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return apperrors.NewConfigError("logging.level", c.Logging.Level,
			errors.New("must be one of: debug, info, warn, error, fatal, panic"))
	}

	return nil
}

// validateView compiles the configured view so rule errors surface at load time.
func (c *Config) validateView() error {
	if c.View == nil {
		return nil
	}
	if _, err := c.View.Compile(); err != nil {
		return apperrors.NewConfigError("view", "", err)
	}
	return nil
}

// ViewSpec returns the configured dashboard layout, or the built-in one.
func (c *Config) ViewSpec() dashboard.ViewSpec {
	if c.View != nil {
		return *c.View
	}
	return dashboard.DefaultViewSpec()
}

// Location returns the display timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := coerce.LoadLocation(c.Display.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
