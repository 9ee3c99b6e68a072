// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the HVAC supervisor together and serves its HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/soothill/hvac-supervisor/config"
	"github.com/soothill/hvac-supervisor/dashboard"
	"github.com/soothill/hvac-supervisor/dispatch"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/slacknotifier"
	"github.com/soothill/hvac-supervisor/storage"
	"github.com/soothill/hvac-supervisor/telemetry"
)

const (
	signalChannelSize     = 1
	connectTimeout        = 10 * time.Second
	readinessCheckTimeout = 2 * time.Second
	flushTimeout          = 10 * time.Second
)

// App represents the main application
type App struct {
	cfg           *config.Config
	cfgMu         sync.RWMutex
	server        *http.Server
	sources       *sources
	manager       *dashboard.Manager
	dispatcher    *dispatch.Client
	notifier      *slacknotifier.Notifier
	alerts        *dashboard.AlertMonitor
	recorder      *storage.InfluxDBStorage
	readyCache    *storage.SnapshotCache
	apiLimiter    *rate.Limiter
	opsLimiter    *rate.Limiter
	configWatcher *config.Watcher
	startedAt     time.Time
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a new application instance. configWatcher may be nil.
func New(cfg *config.Config, configWatcher *config.Watcher) (*App, error) {
	app := &App{
		cfg:           cfg,
		configWatcher: configWatcher,
		startedAt:     time.Now(),
	}

	if err := app.initializeComponents(); err != nil {
		app.closeComponents()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

// initializeComponents initializes all application components
func (a *App) initializeComponents() error {
	cfg := a.cfg

	a.notifier = slacknotifier.New(cfg.Notifications.SlackWebhookURL)
	if a.notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}
	a.alerts = dashboard.NewAlertMonitor(slacknotifier.NewAlertAdapter(a.notifier))

	connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var err error
	a.sources, err = openSources(connectCtx, cfg)
	if err != nil {
		return err
	}

	if cfg.InfluxDB.Enabled() {
		a.recorder, err = storage.NewInfluxDBStorage(
			cfg.InfluxDB.URL,
			cfg.InfluxDB.Token,
			cfg.InfluxDB.Organization,
			cfg.InfluxDB.Bucket,
			cfg.InfluxDB.Site,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize InfluxDB: %w", err)
		}
	} else {
		logger.Info().Msg("Reading recorder disabled (no InfluxDB URL configured)")
	}

	view, err := cfg.ViewSpec().Compile()
	if err != nil {
		return fmt.Errorf("failed to compile view: %w", err)
	}

	opts := dashboard.ManagerOptions{
		View:            view,
		Normalizer:      telemetry.NewNormalizer(cfg.Location()),
		NewSource:       a.sources.factory(),
		Feed:            a.sources.registrar(),
		Alerts:          a.alerts,
		LatestTTL:       cfg.Cache.LatestTTL,
		HistoryTTL:      cfg.Cache.HistoryTTL,
		MinInterval:     cfg.Refresh.MinInterval,
		MaxInterval:     cfg.Refresh.MaxInterval,
		DefaultInterval: cfg.Refresh.DefaultInterval,
		IdleTimeout:     cfg.Sessions.IdleTimeout,
		MaxSessions:     cfg.Sessions.MaxSessions,
	}
	if a.recorder != nil {
		opts.Recorder = a.recorder
	}
	a.manager, err = dashboard.NewManager(opts)
	if err != nil {
		return err
	}

	a.dispatcher = dispatch.New(cfg.Commands.MotorURL, cfg.Commands.RoomURL, dispatch.WithTimeout(cfg.Commands.Timeout))
	if !a.dispatcher.MotorEnabled() {
		logger.Warn().Msg("Motor command endpoint not configured, motor commands disabled")
	}
	if !a.dispatcher.RoomEnabled() {
		logger.Warn().Msg("Room command endpoint not configured, room commands disabled")
	}

	a.readyCache = storage.NewSnapshotCache()
	a.readyCache.Register(storage.KeyLatest, cfg.Cache.LatestTTL, func(ctx context.Context) (any, error) {
		return a.sources.fetchLatest(ctx)
	})

	a.apiLimiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	a.opsLimiter = rate.NewLimiter(10, 20)

	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Config returns the configuration in effect.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Run starts the application and blocks until shutdown. configChan may be nil.
func (a *App) Run(configChan <-chan *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	if a.configWatcher != nil {
		a.configWatcher.Start(ctx)
		defer a.configWatcher.Stop()
	}

	a.startServer()
	a.setupSignalHandler()
	a.startConfigWatcher(configChan)
	a.startLiveFeed(ctx)
	a.startSessionReaper(ctx)

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	a.performCleanup()
}

// startServer starts the HTTP API server
func (a *App) startServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting HTTP API server")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP API server failed")
			a.cancel()
		}
	}()
}

// startLiveFeed connects the MQTT feed in the background; the client keeps
// retrying on its own.
func (a *App) startLiveFeed(ctx context.Context) {
	feed := a.sources.feed
	if feed == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := feed.Connect(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to connect live feed")
			a.alerts.ObserveFetch("mqtt", err)
		}
	}()
}

func (a *App) startSessionReaper(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.manager.Run(ctx)
		logger.Info().Msg("Session reaper shutting down")
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.Shutdown()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown stops the HTTP server and makes Run return.
func (a *App) Shutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config().Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// performCleanup waits for goroutines, then flushes and closes every
// component.
func (a *App) performCleanup() {
	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	a.manager.Shutdown()
	a.closeComponents()
	logger.Info().Msg("All goroutines finished, exiting")
}

func (a *App) closeComponents() {
	if a.readyCache != nil {
		a.readyCache.Close()
	}
	if a.alerts != nil {
		a.alerts.Close()
	}
	if a.sources != nil {
		a.sources.close()
	}
	if a.recorder == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()

	flushDone := make(chan struct{})
	go func() {
		a.recorder.Flush()
		close(flushDone)
	}()

	select {
	case <-flushDone:
		logger.Info().Msg("InfluxDB flush completed")
	case <-flushCtx.Done():
		logger.Warn().Msg("InfluxDB flush timeout - some readings may be lost")
	}
	a.recorder.Close()
}

// UpdateConfig applies the settings that can change without a restart.
func (a *App) UpdateConfig(newCfg *config.Config) {
	a.cfgMu.Lock()
	old := a.cfg
	a.cfg = newCfg
	a.cfgMu.Unlock()
	logger.Info().Msg("Application configuration updated")

	logger.InitializeWithFormat(newCfg.Logging.Level, newCfg.Logging.Format)
	a.dispatcher.SetEndpoints(newCfg.Commands.MotorURL, newCfg.Commands.RoomURL)
	a.notifier.UpdateWebhookURL(newCfg.Notifications.SlackWebhookURL)
	a.manager.SetDefaultInterval(newCfg.Refresh.DefaultInterval)

	if view, err := newCfg.ViewSpec().Compile(); err == nil {
		a.manager.SetView(view)
	} else {
		logger.Error().Err(err).Msg("Keeping previous view, new one does not compile")
	}

	if old.Sources != newCfg.Sources || old.Redis != newCfg.Redis || old.MQTT != newCfg.MQTT ||
		old.InfluxDB != newCfg.InfluxDB || old.Server.Addr != newCfg.Server.Addr {
		logger.Warn().Msg("Source, recorder and listen address changes take effect after a restart")
	}

	logger.Info().Dur("refresh_interval", newCfg.Refresh.DefaultInterval).
		Bool("motor_enabled", a.dispatcher.MotorEnabled()).
		Bool("room_enabled", a.dispatcher.RoomEnabled()).
		Msg("Live settings reloaded")
}

// startConfigWatcher starts a goroutine to listen for config file changes and reloads
func (a *App) startConfigWatcher(configChan <-chan *config.Config) {
	if configChan == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case newCfg := <-configChan:
				a.UpdateConfig(newCfg)
			}
		}
	}()
}

// ready reports whether the latest reading can be fetched and, when
// recording, whether InfluxDB is healthy.
func (a *App) ready(ctx context.Context) error {
	if _, err := a.readyCache.Get(ctx, storage.KeyLatest); err != nil {
		return fmt.Errorf("latest source: %w", err)
	}
	if a.recorder != nil {
		if err := a.recorder.Health(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	cfg := a.Config()
	logger.Info().
		Str("source", a.sources.kind).
		Bool("history_enabled", a.sources.historyEnabled()).
		Bool("motor_enabled", a.dispatcher.MotorEnabled()).
		Bool("room_enabled", a.dispatcher.RoomEnabled()).
		Bool("recorder_enabled", a.recorder != nil).
		Dur("refresh_interval", cfg.Refresh.DefaultInterval).
		Dur("uptime", time.Since(a.startedAt)).
		Msg("Configuration state")

	logger.Info().
		Int("open_sessions", a.manager.Len()).
		Strs("upstreams_down", a.alerts.Down()).
		Msg("Session state")

	if a.sources.http != nil {
		logger.Info().Str("breaker", a.sources.http.BreakerState().String()).Msg("Upstream circuit breaker")
	}
	if feed := a.sources.feed; feed != nil {
		logger.Info().
			Bool("connected", feed.Connected()).
			Int("subscribers", feed.Subscribers()).
			Msg("Live feed state")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// CheckUpstream fetches the latest reading once with the given configuration
// and, when recording is enabled, pings InfluxDB.
func CheckUpstream(ctx context.Context, cfg *config.Config) error {
	src, err := openSources(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.close()

	if src.feed != nil {
		if err := src.feed.Connect(ctx); err != nil {
			return err
		}
	}
	if _, err := src.fetchLatest(ctx); err != nil {
		return fmt.Errorf("latest source: %w", err)
	}

	if cfg.InfluxDB.Enabled() {
		recorder, err := storage.NewInfluxDBStorage(cfg.InfluxDB.URL, cfg.InfluxDB.Token,
			cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket, cfg.InfluxDB.Site)
		if err != nil {
			return err
		}
		defer recorder.Close()
		if err := recorder.Health(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
