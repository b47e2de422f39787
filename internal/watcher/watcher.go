// Package watcher watches the configuration file and triggers hot reloads.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"gopkg.in/yaml.v3"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration when its file changes and hands the new
// value to a callback.
type Watcher struct {
	configPath        string
	config            *config.Config
	mu                sync.RWMutex
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	reloadCallback    func(*config.Config)
	watcher           *fsnotify.Watcher
	lastConfigHash    string
	oldConfigYaml     []byte
	// load turns the file into a config; main adds environment overrides.
	load func(path string) (*config.Config, error)
}

// NewWatcher creates a watcher for configPath. reloadCallback runs on the
// watcher goroutine after each successful reload.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsw, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     filepath.Clean(configPath),
		reloadCallback: reloadCallback,
		watcher:        fsw,
		load:           config.LoadConfig,
	}, nil
}

// SetLoader replaces the function used to load the file on change.
func (w *Watcher) SetLoader(load func(path string) (*config.Config, error)) {
	if load != nil {
		w.load = load
	}
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
	w.oldConfigYaml, _ = yaml.Marshal(cfg)
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
