// Package config provides the public SDK configuration API.
//
// It re-exports the server configuration types so handler packages can depend
// on a stable import path without reaching into internal packages.
package config

import internalconfig "github.com/poeproxy/poe-openai-proxy/internal/config"

type SDKConfig = internalconfig.SDKConfig
type StreamingConfig = internalconfig.StreamingConfig

type Config = internalconfig.Config

func LoadConfig(configFile string) (*Config, error) { return internalconfig.LoadConfig(configFile) }

func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	return internalconfig.LoadConfigOptional(configFile, optional)
}
