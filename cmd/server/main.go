// Package main provides the entry point for the Poe OpenAI proxy server.
// The server exposes an OpenAI-compatible API and forwards every request to
// Poe bots, so OpenAI clients and libraries can talk to Poe unchanged.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/poeproxy/poe-openai-proxy/internal/buildinfo"
	"github.com/poeproxy/poe-openai-proxy/internal/cmd"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/util"
	"github.com/poeproxy/poe-openai-proxy/sdk/poeproxy"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main is the entry point of the application.
// It loads the .env file and the configuration, applies environment
// overrides, configures logging and runs the proxy service.
func main() {
	fmt.Printf("Poe OpenAI Proxy Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	// The file is optional: a deployment can be configured entirely through the environment.
	cfg, err := config.LoadConfigOptional(configFilePath, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}
	cfg.ApplyEnvOverrides(poeproxy.LookupEnv)

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	log.Infof("Poe OpenAI Proxy Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	util.SetLogLevel(cfg)

	if cfg.Poe.APIKey == "" {
		log.Error("POE_API_KEY is not set; set it in the environment or under poe.api-key in the config file")
		return
	}
	if base := util.WritablePath(); base != "" {
		log.Debugf("writable base path: %s", base)
	}

	cmd.StartService(cfg, configFilePath)
}
