// Package api exposes server option helpers for embedding the proxy.
//
// It wraps internal server option types so external projects can configure the embedded
// HTTP server without importing internal packages.
package api

import (
	"github.com/gin-gonic/gin"
	internalapi "github.com/poeproxy/poe-openai-proxy/internal/api"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	"github.com/poeproxy/poe-openai-proxy/sdk/api/handlers"
	"github.com/poeproxy/poe-openai-proxy/sdk/config"
)

// ServerOption customises HTTP server construction.
type ServerOption = internalapi.ServerOption

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption { return internalapi.WithMiddleware(mw...) }

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return internalapi.WithEngineConfigurator(fn)
}

// WithRouterConfigurator appends a callback after default routes are registered.
func WithRouterConfigurator(fn func(*gin.Engine, *handlers.BaseAPIHandler, *config.Config)) ServerOption {
	return internalapi.WithRouterConfigurator(fn)
}

// WithFileRegistry shares a file registry with the server.
func WithFileRegistry(files *upload.FileRegistry) ServerOption {
	return internalapi.WithFileRegistry(files)
}
