// Package api provides the HTTP API server implementation for the Poe OpenAI proxy.
// It wires the OpenAI-compatible handlers into a Gin engine together with
// authentication, rate limiting, metrics and health endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/access"
	"github.com/poeproxy/poe-openai-proxy/internal/buildinfo"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/metrics"
	"github.com/poeproxy/poe-openai-proxy/internal/registry"
	"github.com/poeproxy/poe-openai-proxy/internal/translator"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	"github.com/poeproxy/poe-openai-proxy/internal/util"
	"github.com/poeproxy/poe-openai-proxy/sdk/api/handlers"
	"github.com/poeproxy/poe-openai-proxy/sdk/api/handlers/openai"
	log "github.com/sirupsen/logrus"
)

const serviceBanner = "Poe-OpenAI-Wrapper is running."

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	routerConfigurator func(*gin.Engine, *handlers.BaseAPIHandler, *config.Config)
	files              *upload.FileRegistry
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithRouterConfigurator appends a callback after default routes are registered.
func WithRouterConfigurator(fn func(*gin.Engine, *handlers.BaseAPIHandler, *config.Config)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.routerConfigurator = fn
	}
}

// WithFileRegistry shares a file registry with the server instead of creating one.
func WithFileRegistry(files *upload.FileRegistry) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.files = files
	}
}

// Server represents the main API server.
// It encapsulates the Gin engine, HTTP server and the components that are
// reconfigured when the configuration file changes.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	// handlers contains the shared API handler state.
	handlers *handlers.BaseAPIHandler

	// openai serves the OpenAI-compatible endpoints.
	openai *openai.OpenAIAPIHandler

	mu  sync.RWMutex
	cfg *config.Config

	accessManager *access.Manager
	limiter       *access.Limiter
	uploads       *upload.Service
	catalog       *registry.Catalog
	metrics       *metrics.Collector

	metricsEnabled atomic.Bool
	metricsPath    string
}

// NewServer creates and initializes a new API server.
//
// Parameters:
//   - cfg: The application configuration
//   - backend: The bot backend used for every query
//   - uploads: The attachment upload service
//   - collector: The metrics collector, may be nil
//   - accessManager: The request authentication manager
//   - opts: Optional server configuration
//
// Returns:
//   - *Server: A new server instance
func NewServer(cfg *config.Config, backend translator.Backend, uploads *upload.Service, collector *metrics.Collector, accessManager *access.Manager, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}
	engine.Use(corsMiddleware())

	if accessManager == nil {
		accessManager = access.NewManager()
	}
	access.ApplyConfig(accessManager, cfg)

	catalog := registry.NewCatalog(cfg.Models)
	base := handlers.NewBaseAPIHandlers(&cfg.SDKConfig, backend, catalog, collector)

	s := &Server{
		engine:        engine,
		handlers:      base,
		openai:        openai.NewOpenAIAPIHandler(base, uploads, optionState.files),
		cfg:           cfg,
		accessManager: accessManager,
		limiter:       access.NewLimiter(cfg.RateLimit),
		uploads:       uploads,
		catalog:       catalog,
		metrics:       collector,
		metricsPath:   cfg.Metrics.Path,
	}
	s.metricsEnabled.Store(cfg.Metrics.Enable)

	s.setupRoutes()
	if optionState.routerConfigurator != nil {
		optionState.routerConfigurator(engine, base, cfg)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.root)
	s.engine.GET("/health", s.health)
	if s.metricsPath != "" {
		s.engine.GET(s.metricsPath, s.serveMetrics)
	}

	v1 := s.engine.Group("/v1")
	v1.Use(access.Middleware(s.accessManager, s.limiter))
	{
		v1.GET("/models", s.openai.OpenAIModels)
		v1.GET("/models/:model", s.openai.OpenAIModel)
		v1.POST("/chat/completions", s.openai.ChatCompletions)
		v1.POST("/completions", s.openai.Completions)
		v1.POST("/moderations", s.openai.Moderations)

		v1.POST("/files", s.openai.CreateFile)
		v1.POST("/files/upload", s.openai.UploadFiles)
		v1.GET("/files", s.openai.ListFiles)
		v1.GET("/files/:id", s.openai.GetFile)
		v1.DELETE("/files/:id", s.openai.DeleteFile)
	}
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  serviceBanner,
		"version":  buildinfo.Version,
		"docs_url": "/docs",
	})
}

func (s *Server) health(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) serveMetrics(c *gin.Context) {
	if !s.metricsEnabled.Load() || s.metrics == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	logging.SkipGinRequestLogging(c)
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Engine exposes the Gin engine, mainly for tests and embedding.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start begins listening for and serving HTTP requests.
// It blocks until the server is stopped.
//
// Returns:
//   - error: An error if the server fails to start
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Infof("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
//
// Parameters:
//   - ctx: The context for graceful shutdown
//
// Returns:
//   - error: An error if the server fails to stop
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Debug("API server stopped")
	return nil
}

// corsMiddleware allows any origin, method and header.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if headers := c.GetHeader("Access-Control-Request-Headers"); headers != "" {
			c.Header("Access-Control-Allow-Headers", headers)
		} else {
			c.Header("Access-Control-Allow-Headers", "*")
		}
		if origin != "*" {
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// UpdateClients applies a reloaded configuration to every component that
// supports live changes. Host and port changes require a restart.
//
// Parameters:
//   - cfg: The new application configuration
func (s *Server) UpdateClients(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	oldCfg := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if oldCfg != nil && oldCfg.Debug != cfg.Debug {
		util.SetLogLevel(cfg)
	}
	if oldCfg != nil && (oldCfg.Host != cfg.Host || oldCfg.Port != cfg.Port) {
		log.Warnf("listen address changed to %s:%d; restart to apply", cfg.Host, cfg.Port)
	}
	if oldCfg != nil && strings.TrimSpace(oldCfg.Metrics.Path) != strings.TrimSpace(cfg.Metrics.Path) {
		log.Warnf("metrics path changed to %s; restart to apply", cfg.Metrics.Path)
	}

	access.ApplyConfig(s.accessManager, cfg)
	s.limiter.Update(cfg.RateLimit)
	if s.uploads != nil {
		s.uploads.UpdateConfig(cfg.Upload)
	}
	s.catalog.Update(cfg.Models)
	s.metricsEnabled.Store(cfg.Metrics.Enable)
	s.handlers.UpdateClients(&cfg.SDKConfig)

	log.Infof("server clients and configuration updated: %d api keys, %d model overrides", len(cfg.APIKeys), len(cfg.Models))
}
