// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/soothill/hvac-supervisor/app"
	"github.com/soothill/hvac-supervisor/config"
	"github.com/soothill/hvac-supervisor/pkg/logger"
)

const healthCheckTimeout = 10 * time.Second

type options struct {
	configPath     string
	listenAddr     string
	healthCheck    bool
	validateConfig bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("hvac-supervisor", flag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.listenAddr, "listen", "", "HTTP API listen address (overrides server.addr)")
	fs.BoolVar(&opts.healthCheck, "health-check", false, "Check the upstream source and exit")
	fs.BoolVar(&opts.validateConfig, "validate-config", false, "Validate configuration file and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if opts.healthCheck {
		os.Exit(performHealthCheck(opts.configPath))
	}

	if opts.validateConfig {
		os.Exit(performConfigValidation(opts.configPath, os.Stdout))
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.listenAddr != "" {
		cfg.Server.Addr = opts.listenAddr
	}

	logger.InitializeWithFormat(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info().Msg("Starting HVAC supervisor")
	logger.Info().Str("source", cfg.Sources.Kind).
		Dur("refresh_interval", cfg.Refresh.DefaultInterval).
		Str("timezone", cfg.Display.Timezone).
		Msg("Configuration loaded")

	configChan := make(chan *config.Config)
	configWatcher := config.NewWatcher(opts.configPath, configChan)

	application, err := app.New(cfg, configWatcher)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)
	application.Run(configChan)
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}
	logger.Initialize("error")

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := app.CheckUpstream(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: latest reading source is reachable")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string, out io.Writer) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Fprintln(out, "\n✅ Configuration validation PASSED")
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Source: %s\n", cfg.Sources.Kind)
	fmt.Fprintf(out, "  Latest URL: %s\n", orDisabled(cfg.Sources.LatestURL))
	fmt.Fprintf(out, "  History URL: %s\n", orDisabled(cfg.Sources.HistoryURL))
	fmt.Fprintf(out, "  Motor command URL: %s\n", orDisabled(cfg.Commands.MotorURL))
	fmt.Fprintf(out, "  Room command URL: %s\n", orDisabled(cfg.Commands.RoomURL))
	fmt.Fprintf(out, "  Cache TTL: latest %s, history %s\n", cfg.Cache.LatestTTL, cfg.Cache.HistoryTTL)
	fmt.Fprintf(out, "  Refresh: %s (bounds %s to %s)\n", cfg.Refresh.DefaultInterval, cfg.Refresh.MinInterval, cfg.Refresh.MaxInterval)
	fmt.Fprintf(out, "  Timezone: %s\n", cfg.Display.Timezone)
	fmt.Fprintf(out, "  Listen address: %s\n", cfg.Server.Addr)
	fmt.Fprintf(out, "  Log Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  InfluxDB recorder: %s\n", orDisabled(cfg.InfluxDB.URL))

	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Fprintln(out, "  Slack Notifications: Enabled")
	} else {
		fmt.Fprintln(out, "  Slack Notifications: Disabled")
	}

	fmt.Fprintln(out, "\nAll validation checks passed. Configuration is ready for use.")
	return 0
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
