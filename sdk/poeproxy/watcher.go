package poeproxy

import (
	"context"
	"os"
	"strings"

	"github.com/poeproxy/poe-openai-proxy/internal/watcher"
	"github.com/poeproxy/poe-openai-proxy/sdk/config"
)

func defaultWatcherFactory(configPath string, reload func(*config.Config)) (*WatcherWrapper, error) {
	w, err := watcher.NewWatcher(configPath, reload)
	if err != nil {
		return nil, err
	}
	w.SetLoader(loadWithEnv)

	return &WatcherWrapper{
		start: func(ctx context.Context) error {
			return w.Start(ctx)
		},
		stop: func() error {
			return w.Stop()
		},
		setConfig: func(cfg *config.Config) {
			w.SetConfig(cfg)
		},
	}, nil
}

// loadWithEnv reloads the file and reapplies environment overrides so that
// settings supplied through the environment survive a reload.
func loadWithEnv(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigOptional(path, true)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides(LookupEnv)
	return cfg, nil
}

// LookupEnv returns the trimmed value of the first non-empty environment variable in keys.
func LookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}
