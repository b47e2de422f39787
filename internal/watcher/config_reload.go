package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/util"
	"gopkg.in/yaml.v3"

	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func (w *Watcher) primeHash() {
	if data, err := os.ReadFile(w.configPath); err == nil && len(data) > 0 {
		w.mu.Lock()
		w.lastConfigHash = hashBytes(data)
		w.mu.Unlock()
	}
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	newHash := hashBytes(data)

	w.mu.RLock()
	currentHash := w.lastConfigHash
	w.mu.RUnlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.mu.Lock()
		w.lastConfigHash = newHash
		w.mu.Unlock()
	}
}

func (w *Watcher) reloadConfig() bool {
	newConfig, errLoadConfig := w.load(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.mu.Lock()
	var oldConfig *config.Config
	_ = yaml.Unmarshal(w.oldConfigYaml, &oldConfig)
	w.oldConfigYaml, _ = yaml.Marshal(newConfig)
	w.config = newConfig
	w.mu.Unlock()

	util.SetLogLevel(newConfig)
	if oldConfig != nil {
		if details := BuildConfigChangeDetails(oldConfig, newConfig); len(details) > 0 {
			log.Debugf("config changes detected:")
			for _, d := range details {
				log.Debugf("  %s", d)
			}
		} else {
			log.Debugf("no material config field changes detected")
		}
	}

	log.Infof("config successfully reloaded")
	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
	return true
}

// BuildConfigChangeDetails lists the settings that differ between two
// configurations. Secrets are reported as changed without their values.
func BuildConfigChangeDetails(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var details []string
	add := func(name string, from, to any) {
		if fmt.Sprint(from) != fmt.Sprint(to) {
			details = append(details, fmt.Sprintf("%s: %v -> %v", name, from, to))
		}
	}
	add("debug", oldCfg.Debug, newCfg.Debug)
	add("port", oldCfg.Port, newCfg.Port)
	add("logging-to-file", oldCfg.LoggingToFile, newCfg.LoggingToFile)
	add("proxy-url", formatProxyURL(oldCfg.ProxyURL), formatProxyURL(newCfg.ProxyURL))
	add("streaming.keepalive-seconds", oldCfg.Streaming.KeepAliveSeconds, newCfg.Streaming.KeepAliveSeconds)
	add("poe.base-url", oldCfg.Poe.BaseURL, newCfg.Poe.BaseURL)
	add("poe.request-timeout-seconds", oldCfg.Poe.RequestTimeoutSeconds, newCfg.Poe.RequestTimeoutSeconds)
	add("upload.max-file-size-mb", oldCfg.Upload.MaxFileSizeMB, newCfg.Upload.MaxFileSizeMB)
	add("upload.allowed-types", len(oldCfg.Upload.AllowedTypes), len(newCfg.Upload.AllowedTypes))
	add("rate-limit.requests-per-minute", oldCfg.RateLimit.RequestsPerMinute, newCfg.RateLimit.RequestsPerMinute)
	add("models", len(oldCfg.Models), len(newCfg.Models))
	add("api-keys count", len(oldCfg.APIKeys), len(newCfg.APIKeys))
	if len(oldCfg.APIKeys) == len(newCfg.APIKeys) && !slices.Equal(oldCfg.APIKeys, newCfg.APIKeys) {
		details = append(details, "api-keys: values updated")
	}
	if oldCfg.Poe.APIKey != newCfg.Poe.APIKey {
		details = append(details, "poe.api-key: updated")
	}
	return details
}

func formatProxyURL(raw string) string {
	if raw == "" {
		return "<none>"
	}
	return util.MaskSensitiveQuery(raw)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
