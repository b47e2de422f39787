// Package poeproxy provides the service implementation for the Poe OpenAI proxy.
// It wires the bot client, upload pipeline, metrics and HTTP server together and
// manages their lifecycle, including configuration hot reload.
package poeproxy

import (
	"fmt"

	"github.com/poeproxy/poe-openai-proxy/internal/api"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	sdkaccess "github.com/poeproxy/poe-openai-proxy/sdk/access"
	"github.com/poeproxy/poe-openai-proxy/sdk/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Builder constructs a Service instance with customizable dependencies.
// It provides a fluent interface for configuring the backend, file watching,
// HTTP server options and lifecycle hooks.
type Builder struct {
	// cfg holds the application configuration.
	cfg *config.Config

	// configPath is the path to the configuration file.
	configPath string

	// backend replaces the Poe client, mainly for tests and embedding.
	backend translator.Backend

	// watcherFactory creates file watcher instances.
	watcherFactory WatcherFactory

	// hooks provides lifecycle callbacks.
	hooks Hooks

	// accessManager handles request authentication providers.
	accessManager *sdkaccess.Manager

	// registry receives the proxy metrics.
	registry *prometheus.Registry

	// serverOptions contains additional server configuration options.
	serverOptions []api.ServerOption
}

// Hooks allows callers to plug into service lifecycle stages.
type Hooks struct {
	// OnBeforeStart is called before the service starts, allowing configuration
	// modifications or additional setup.
	OnBeforeStart func(*config.Config)

	// OnAfterStart is called after the service has started successfully,
	// providing access to the service instance for additional operations.
	OnAfterStart func(*Service)
}

// NewBuilder creates a Builder with default dependencies left unset.
// Use the fluent interface methods to configure the service before calling Build().
//
// Returns:
//   - *Builder: A new builder instance ready for configuration
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the configuration instance used by the service.
//
// Parameters:
//   - cfg: The application configuration
//
// Returns:
//   - *Builder: The builder instance for method chaining
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithConfigPath sets the absolute configuration file path used for reload watching.
//
// Parameters:
//   - path: The absolute path to the configuration file
//
// Returns:
//   - *Builder: The builder instance for method chaining
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// WithBackend overrides the bot backend. The default is a Poe client built from the configuration.
func (b *Builder) WithBackend(backend translator.Backend) *Builder {
	b.backend = backend
	return b
}

// WithWatcherFactory allows customizing the watcher factory that handles reloads.
func (b *Builder) WithWatcherFactory(factory WatcherFactory) *Builder {
	b.watcherFactory = factory
	return b
}

// WithHooks registers lifecycle hooks executed around service startup.
func (b *Builder) WithHooks(h Hooks) *Builder {
	b.hooks = h
	return b
}

// WithRequestAccessManager overrides the request authentication manager.
func (b *Builder) WithRequestAccessManager(mgr *sdkaccess.Manager) *Builder {
	b.accessManager = mgr
	return b
}

// WithMetricsRegistry registers the proxy metrics with registry instead of a private one.
func (b *Builder) WithMetricsRegistry(registry *prometheus.Registry) *Builder {
	b.registry = registry
	return b
}

// WithServerOptions appends server configuration options used during construction.
func (b *Builder) WithServerOptions(opts ...api.ServerOption) *Builder {
	b.serverOptions = append(b.serverOptions, opts...)
	return b
}

// Build validates inputs, applies defaults, and returns a ready-to-run service.
func (b *Builder) Build() (*Service, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("poeproxy: configuration is required")
	}
	if b.configPath == "" {
		return nil, fmt.Errorf("poeproxy: configuration path is required")
	}

	watcherFactory := b.watcherFactory
	if watcherFactory == nil {
		watcherFactory = defaultWatcherFactory
	}

	accessManager := b.accessManager
	if accessManager == nil {
		accessManager = sdkaccess.NewManager()
	}

	service := &Service{
		cfg:            b.cfg,
		configPath:     b.configPath,
		backend:        b.backend,
		watcherFactory: watcherFactory,
		hooks:          b.hooks,
		accessManager:  accessManager,
		registry:       b.registry,
		serverOptions:  append([]api.ServerOption(nil), b.serverOptions...),
	}
	return service, nil
}
