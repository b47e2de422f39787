package poeproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/api"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/metrics"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/store"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	sdkaccess "github.com/poeproxy/poe-openai-proxy/sdk/access"
	"github.com/poeproxy/poe-openai-proxy/sdk/config"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Service wraps the proxy server with lifecycle management.
type Service struct {
	cfgMu      sync.RWMutex
	cfg        *config.Config
	configPath string

	backend        translator.Backend
	watcherFactory WatcherFactory
	watcher        *WatcherWrapper
	hooks          Hooks
	accessManager  *sdkaccess.Manager
	registry       *prometheus.Registry
	serverOptions  []api.ServerOption

	poe       *poeBackend
	collector *metrics.Collector
	uploads   *upload.Service
	server    *api.Server
	serverErr chan error
	pprof     *pprofServer

	shutdownOnce sync.Once
}

// poeBackend forwards to the current Poe client so that credential and
// endpoint changes apply to new requests after a reload.
type poeBackend struct {
	current atomic.Pointer[poe.Client]
}

func newPoeBackend(cfg *config.Config) *poeBackend {
	b := &poeBackend{}
	b.current.Store(poe.NewClient(cfg))
	return b
}

func (b *poeBackend) Stream(ctx context.Context, req poe.QueryRequest) <-chan poe.Event {
	return b.current.Load().Stream(ctx, req)
}

func (b *poeBackend) Upload(ctx context.Context, name, contentType string, data []byte) (poe.Attachment, error) {
	return b.current.Load().Upload(ctx, name, contentType, data)
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Run starts the HTTP server and the configuration watcher and blocks until
// ctx is cancelled or the server fails.
//
// Parameters:
//   - ctx: The context controlling the service lifetime
//
// Returns:
//   - error: An error if startup fails or the server stops unexpectedly
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("poeproxy: service is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if errShutdown := s.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("service shutdown returned error: %v", errShutdown)
		}
	}()

	if s.hooks.OnBeforeStart != nil {
		s.hooks.OnBeforeStart(s.cfg)
	}

	cfg := s.Config()
	s.collector = metrics.NewCollector(s.registry)
	s.poe = newPoeBackend(cfg)

	backend := s.backend
	if backend == nil {
		backend = s.poe
	}
	var uploadBackend upload.Backend = s.poe
	if custom, ok := s.backend.(upload.Backend); ok {
		uploadBackend = custom
	}

	var mirror upload.Mirror
	objectMirror, err := store.NewObjectMirror(cfg.Upload.Mirror)
	if err != nil {
		return fmt.Errorf("poeproxy: failed to initialise upload mirror: %w", err)
	}
	if objectMirror != nil {
		mirror = objectMirror
		log.Infof("upload mirror enabled, bucket: %s", cfg.Upload.Mirror.Bucket)
	}

	s.uploads = upload.NewService(cfg.Upload, uploadBackend, mirror)
	s.uploads.SetObserver(s.collector.Upload)
	s.server = api.NewServer(cfg, backend, s.uploads, s.collector, s.accessManager, s.serverOptions...)
	s.applyPprofConfig(cfg)

	s.serverErr = make(chan error, 1)
	go func() {
		s.serverErr <- s.server.Start()
	}()
	time.Sleep(100 * time.Millisecond)
	fmt.Printf("API server started successfully on: %s:%d\n", cfg.Host, cfg.Port)

	if s.hooks.OnAfterStart != nil {
		s.hooks.OnAfterStart(s)
	}

	watcherWrapper, err := s.watcherFactory(s.configPath, s.applyConfig)
	if err != nil {
		return fmt.Errorf("poeproxy: failed to create watcher: %w", err)
	}
	s.watcher = watcherWrapper
	watcherWrapper.SetConfig(cfg)
	if err = watcherWrapper.Start(ctx); err != nil {
		return fmt.Errorf("poeproxy: failed to start watcher: %w", err)
	}
	log.Info("file watcher started for config changes")

	select {
	case <-ctx.Done():
		log.Debug("service context cancelled, shutting down...")
		return ctx.Err()
	case errServer := <-s.serverErr:
		if errServer == nil {
			return nil
		}
		return errServer
	}
}

// applyConfig is the reload callback. Components that cannot change in place
// are rebuilt or reported as requiring a restart.
func (s *Service) applyConfig(newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	s.cfgMu.Lock()
	oldCfg := s.cfg
	s.cfg = newCfg
	s.cfgMu.Unlock()

	if oldCfg != nil {
		if oldCfg.Poe != newCfg.Poe || oldCfg.ProxyURL != newCfg.ProxyURL {
			s.poe.current.Store(poe.NewClient(newCfg))
			log.Info("poe client rebuilt from reloaded configuration")
		}
		if oldCfg.Upload.Mirror != newCfg.Upload.Mirror {
			log.Warn("upload mirror settings changed; restart to apply")
		}
		if oldCfg.LoggingToFile != newCfg.LoggingToFile || oldCfg.LogsMaxTotalSizeMB != newCfg.LogsMaxTotalSizeMB {
			if errLog := logging.ConfigureLogOutput(newCfg); errLog != nil {
				log.Errorf("failed to reconfigure log output: %v", errLog)
			}
		}
	}

	if s.server != nil {
		s.server.UpdateClients(newCfg)
	}
	s.applyPprofConfig(newCfg)
}

// Shutdown gracefully stops background workers and the HTTP server.
// It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				log.Errorf("failed to stop file watcher: %v", err)
				shutdownErr = err
			}
		}
		if s.server != nil {
			if err := s.server.Stop(ctx); err != nil {
				log.Errorf("error stopping API server: %v", err)
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}
		if err := s.shutdownPprof(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	})
	return shutdownErr
}
