package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 8000
	DefaultPoeBaseURL      = "https://api.poe.com"
	DefaultPoeUploadURL    = "https://www.quora.com/poe_api/file_upload_3RD_PARTY_POST"
	DefaultMaxFileSizeMB   = 50
	DefaultUploadCacheTTL  = 3600
	DefaultRequestTimeout  = 600
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30
	DefaultMetricsPath     = "/metrics"
	DefaultPprofAddr       = "127.0.0.1:8316"
)

// DefaultAllowedFileTypes lists the MIME types accepted for uploads when the
// configuration does not provide its own list.
var DefaultAllowedFileTypes = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"application/pdf",
	"application/json",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the network interface the server binds to. Empty means all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"port"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// Poe configures the upstream bot protocol client.
	Poe PoeConfig `yaml:"poe" json:"poe"`

	// Upload configures attachment validation, caching and mirroring.
	Upload UploadConfig `yaml:"upload" json:"upload"`

	// RateLimit configures per-key request throttling.
	RateLimit RateLimitConfig `yaml:"rate-limit" json:"rate-limit"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Pprof configures the optional profiling listener.
	Pprof PprofConfig `yaml:"pprof" json:"pprof"`

	// Models overrides or extends the built-in model catalog.
	Models []ModelConfig `yaml:"models" json:"models"`
}

// PprofConfig holds the net/http/pprof listener settings.
type PprofConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Addr   string `yaml:"addr" json:"addr"`
}

// PoeConfig holds upstream connection settings.
type PoeConfig struct {
	APIKey                string        `yaml:"api-key" json:"-"`
	BaseURL               string        `yaml:"base-url" json:"base-url"`
	UploadURL             string        `yaml:"upload-url" json:"upload-url"`
	RequestTimeoutSeconds int           `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`
	Breaker               BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding stream initiation.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max-failures" json:"max-failures"`
	// TimeoutSeconds is how long the circuit stays open before probing again.
	TimeoutSeconds int `yaml:"timeout-seconds" json:"timeout-seconds"`
}

// UploadConfig holds attachment handling settings.
type UploadConfig struct {
	MaxFileSizeMB   int          `yaml:"max-file-size-mb" json:"max-file-size-mb"`
	AllowedTypes    []string     `yaml:"allowed-types" json:"allowed-types"`
	CacheTTLSeconds int          `yaml:"cache-ttl-seconds" json:"cache-ttl-seconds"`
	Mirror          MirrorConfig `yaml:"mirror" json:"mirror"`
}

// MirrorConfig points at an optional S3-compatible bucket that receives a copy of
// every uploaded attachment. An empty endpoint disables mirroring.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// RateLimitConfig configures request throttling. RequestsPerMinute <= 0 disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests-per-minute" json:"requests-per-minute"`
	Burst             int `yaml:"burst" json:"burst"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Path   string `yaml:"path" json:"path"`
}

// ModelConfig describes one catalog entry supplied through configuration.
type ModelConfig struct {
	ID          string `yaml:"id" json:"id"`
	ClientName  string `yaml:"client-name" json:"client-name"`
	PoeName     string `yaml:"poe-name" json:"poe-name"`
	Reasoning   bool   `yaml:"reasoning" json:"reasoning"`
	NativeTools bool   `yaml:"native-tools" json:"native-tools"`
}

// LoadConfig reads and parses the YAML configuration file at configFile.
//
// Parameters:
//   - configFile: The path to the configuration file
//
// Returns:
//   - *Config: The loaded configuration with defaults applied
//   - error: An error if the file cannot be read or parsed
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file. When optional is true, a missing
// or empty file yields a default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (errors.Is(err, os.ErrNotExist) || strings.TrimSpace(configFile) == "") {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config file %s is empty", configFile)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.Poe.BaseURL) == "" {
		cfg.Poe.BaseURL = DefaultPoeBaseURL
	}
	cfg.Poe.BaseURL = strings.TrimRight(cfg.Poe.BaseURL, "/")
	if strings.TrimSpace(cfg.Poe.UploadURL) == "" {
		cfg.Poe.UploadURL = DefaultPoeUploadURL
	}
	if cfg.Poe.RequestTimeoutSeconds <= 0 {
		cfg.Poe.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if cfg.Poe.Breaker.MaxFailures == 0 {
		cfg.Poe.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Poe.Breaker.TimeoutSeconds <= 0 {
		cfg.Poe.Breaker.TimeoutSeconds = DefaultBreakerTimeout
	}
	if cfg.Upload.MaxFileSizeMB <= 0 {
		cfg.Upload.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if len(cfg.Upload.AllowedTypes) == 0 {
		cfg.Upload.AllowedTypes = append([]string(nil), DefaultAllowedFileTypes...)
	}
	if cfg.Upload.CacheTTLSeconds <= 0 {
		cfg.Upload.CacheTTLSeconds = DefaultUploadCacheTTL
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerMinute
	}
	if strings.TrimSpace(cfg.Metrics.Path) == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	cfg.APIKeys = normalizeKeys(cfg.APIKeys)
}

// ApplyEnvOverrides applies environment variables on top of the file configuration.
// lookup returns the trimmed value for the first present key.
func (cfg *Config) ApplyEnvOverrides(lookup func(keys ...string) (string, bool)) {
	if lookup == nil {
		return
	}
	if value, ok := lookup("POE_API_KEY", "poe_api_key"); ok {
		cfg.Poe.APIKey = value
	}
	if value, ok := lookup("LOCAL_API_KEY", "local_api_key"); ok {
		cfg.APIKeys = normalizeKeys(append(cfg.APIKeys, strings.Split(value, ",")...))
	}
	if value, ok := lookup("PORT", "port"); ok {
		if port, err := strconv.Atoi(value); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if value, ok := lookup("MAX_FILE_SIZE_MB", "max_file_size_mb"); ok {
		if size, err := strconv.Atoi(value); err == nil && size > 0 {
			cfg.Upload.MaxFileSizeMB = size
		}
	}
	if value, ok := lookup("DEBUG", "debug"); ok {
		if debug, err := strconv.ParseBool(value); err == nil {
			cfg.Debug = debug
		}
	}
	if value, ok := lookup("PROXY_URL", "proxy_url"); ok {
		cfg.ProxyURL = value
	}
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
