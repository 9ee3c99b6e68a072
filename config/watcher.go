// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/soothill/hvac-supervisor/pkg/logger"
)

// Watcher reloads the configuration file on SIGHUP or on Trigger and
// publishes each successfully loaded Config on its channel.
type Watcher struct {
	path       string
	load       func(path string) (*Config, error)
	configChan chan<- *Config
	reloadChan chan os.Signal
	cancelFunc context.CancelFunc
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(path string, configChan chan<- *Config) *Watcher {
	return &Watcher{
		path:       path,
		load:       Load,
		configChan: configChan,
		reloadChan: make(chan os.Signal, 1),
	}
}

// Start begins watching for SIGHUP signals to trigger a configuration reload.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancelFunc = context.WithCancel(ctx)
	signal.Notify(w.reloadChan, syscall.SIGHUP)

	go w.watch(ctx)
}

// Trigger requests a reload as if SIGHUP had been received. A reload already
// pending absorbs the request.
func (w *Watcher) Trigger() {
	select {
	case w.reloadChan <- syscall.SIGHUP:
	default:
	}
}

// Stop stops the configuration watcher.
func (w *Watcher) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	signal.Stop(w.reloadChan)
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reloadChan:
			logger.Info().Str("path", w.path).Msg("Reloading configuration")
			cfg, err := w.load(w.path)
			if err != nil {
				// The running configuration stays in effect.
				logger.Error().Err(err).Msg("failed to reload configuration")
				continue
			}
			select {
			case w.configChan <- cfg:
				logger.Info().
					Dur("refresh_interval", cfg.Refresh.DefaultInterval).
					Bool("slack_enabled", cfg.Notifications.SlackWebhookURL != "").
					Msg("configuration reloaded successfully")
			case <-ctx.Done():
				return
			}
		}
	}
}
