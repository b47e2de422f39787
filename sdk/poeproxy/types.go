package poeproxy

import (
	"context"

	"github.com/poeproxy/poe-openai-proxy/sdk/config"
)

// WatcherFactory creates a watcher for configuration changes.
// The reload callback receives the updated configuration when changes are detected.
//
// Parameters:
//   - configPath: The path to the configuration file to watch
//   - reload: The callback function to call when changes are detected
//
// Returns:
//   - *WatcherWrapper: A watcher wrapper instance
//   - error: An error if watcher creation fails
type WatcherFactory func(configPath string, reload func(*config.Config)) (*WatcherWrapper, error)

// WatcherWrapper exposes the subset of watcher methods required by the service.
type WatcherWrapper struct {
	start func(ctx context.Context) error
	stop  func() error

	setConfig func(cfg *config.Config)
}

// NewWatcherWrapper builds a wrapper from plain functions; nil functions are no-ops.
func NewWatcherWrapper(start func(ctx context.Context) error, stop func() error, setConfig func(cfg *config.Config)) *WatcherWrapper {
	return &WatcherWrapper{start: start, stop: stop, setConfig: setConfig}
}

// Start proxies to the underlying watcher Start implementation.
func (w *WatcherWrapper) Start(ctx context.Context) error {
	if w == nil || w.start == nil {
		return nil
	}
	return w.start(ctx)
}

// Stop proxies to the underlying watcher Stop implementation.
func (w *WatcherWrapper) Stop() error {
	if w == nil || w.stop == nil {
		return nil
	}
	return w.stop()
}

// SetConfig updates the watcher configuration cache.
func (w *WatcherWrapper) SetConfig(cfg *config.Config) {
	if w == nil || w.setConfig == nil {
		return
	}
	w.setConfig(cfg)
}
