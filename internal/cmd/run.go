// Package cmd provides command-line interface functionality for the Poe OpenAI proxy.
// It wires the service builder to process signals so the server shuts down
// gracefully on SIGINT and SIGTERM.
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/poeproxy/poe-openai-proxy/internal/api"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/sdk/poeproxy"
	log "github.com/sirupsen/logrus"
)

// StartService builds and runs the proxy service until a termination signal
// is received.
//
// Parameters:
//   - cfg: The application configuration
//   - configPath: The path to the configuration file, watched for changes
//   - opts: Additional server options
func StartService(cfg *config.Config, configPath string, opts ...api.ServerOption) {
	service, err := poeproxy.NewBuilder().
		WithConfig(cfg).
		WithConfigPath(configPath).
		WithServerOptions(opts...).
		Build()
	if err != nil {
		log.Errorf("failed to build proxy service: %v", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("proxy service terminated with error: %v", err)
		return
	}
	log.Info("proxy service stopped")
}
