// Package config loads worksync settings from YAML with environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sitecrew/worksync/internal/connectivity"
	"github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/scheduler"
)

// Config holds all worksync configuration.
type Config struct {
	// Local state
	DataDir string      `yaml:"data_dir"`
	Store   StoreConfig `yaml:"store"`

	// Hosted backend
	Remote RemoteConfig `yaml:"remote"`

	// Online/offline detection
	Connectivity ConnectivityConfig `yaml:"connectivity"`

	// Background retries of the mutation queue
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Local HTTP/websocket API
	Server ServerConfig `yaml:"server"`

	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, memory
}

// RemoteConfig configures the REST backend.
type RemoteConfig struct {
	Driver      string `yaml:"driver"` // http, memory
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	Timeout     string `yaml:"timeout"`
}

// ConnectivityConfig configures the health prober.
type ConnectivityConfig struct {
	Mode             string `yaml:"mode"` // auto, online, offline
	ProbeURL         string `yaml:"probe_url"`
	ProbeInterval    string `yaml:"probe_interval"`
	ProbeTimeout     string `yaml:"probe_timeout"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

// SchedulerConfig configures background flushing.
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetryInterval string `yaml:"retry_interval"`
	MaxBackoff    string `yaml:"max_backoff"`
	FlushTimeout  string `yaml:"flush_timeout"`
}

// ServerConfig configures the local API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Store:   StoreConfig{Driver: "sqlite"},
		Remote: RemoteConfig{
			Driver:  "http",
			Timeout: "15s",
		},
		Connectivity: ConnectivityConfig{
			Mode:             string(connectivity.ModeAuto),
			ProbeInterval:    "10s",
			ProbeTimeout:     "3s",
			FailureThreshold: 2,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			RetryInterval: "1m",
			MaxBackoff:    "1h",
			FlushTimeout:  "5m",
		},
		Server:  ServerConfig{Addr: "127.0.0.1:8787"},
		Logging: LoggingConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "worksync")
	}
	return ".worksync"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrConfig, "failed to read config", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to parse config", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to write config", err)
	}
	return nil
}

// applyEnvOverrides applies WORKSYNC_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WORKSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WORKSYNC_STORE"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("WORKSYNC_REMOTE"); v != "" {
		c.Remote.Driver = v
	}
	if v := os.Getenv("WORKSYNC_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("WORKSYNC_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("WORKSYNC_ACCESS_TOKEN"); v != "" {
		c.Remote.AccessToken = v
	}
	if v := os.Getenv("WORKSYNC_CONNECTIVITY_MODE"); v != "" {
		c.Connectivity.Mode = v
	}
	if v := os.Getenv("WORKSYNC_PROBE_URL"); v != "" {
		c.Connectivity.ProbeURL = v
	}
	if v := os.Getenv("WORKSYNC_SCHEDULER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Scheduler.Enabled = enabled
		}
	}
	if v := os.Getenv("WORKSYNC_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("WORKSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetRemoteTimeout returns the remote request timeout.
func (c *Config) GetRemoteTimeout() time.Duration {
	return parseDuration(c.Remote.Timeout, 15*time.Second)
}

// GetLogLevel returns the configured level, falling back to info.
func (c *Config) GetLogLevel() logging.LogLevel {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}

// GetConnectivityMode returns the configured mode, falling back to auto.
func (c *Config) GetConnectivityMode() connectivity.Mode {
	mode, _ := connectivity.ParseMode(c.Connectivity.Mode)
	return mode
}

// ProberConfig converts the connectivity section.
func (c *Config) ProberConfig() connectivity.ProberConfig {
	def := connectivity.DefaultProberConfig()
	threshold := c.Connectivity.FailureThreshold
	if threshold <= 0 {
		threshold = def.FailureThreshold
	}
	return connectivity.ProberConfig{
		URL:              c.Connectivity.ProbeURL,
		Interval:         parseDuration(c.Connectivity.ProbeInterval, def.Interval),
		Timeout:          parseDuration(c.Connectivity.ProbeTimeout, def.Timeout),
		FailureThreshold: threshold,
		Mode:             c.GetConnectivityMode(),
	}
}

// SchedulerConfig converts the scheduler section.
func (c *Config) SchedulerConfig() *scheduler.Config {
	def := scheduler.DefaultConfig()
	return &scheduler.Config{
		RetryInterval: parseDuration(c.Scheduler.RetryInterval, def.RetryInterval),
		MaxBackoff:    parseDuration(c.Scheduler.MaxBackoff, def.MaxBackoff),
		FlushTimeout:  parseDuration(c.Scheduler.FlushTimeout, def.FlushTimeout),
	}
}

var (
	ValidStoreDrivers  = []string{"sqlite", "memory"}
	ValidRemoteDrivers = []string{"http", "memory"}
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidStoreDrivers, c.Store.Driver) {
		return errors.Newf(errors.ErrConfig, "invalid store driver: %s (valid: %v)", c.Store.Driver, ValidStoreDrivers)
	}
	if c.Store.Driver == "sqlite" && c.DataDir == "" {
		return errors.New(errors.ErrConfig, "data_dir is required for the sqlite store")
	}
	if !contains(ValidRemoteDrivers, c.Remote.Driver) {
		return errors.Newf(errors.ErrConfig, "invalid remote driver: %s (valid: %v)", c.Remote.Driver, ValidRemoteDrivers)
	}
	if c.Remote.Driver == "http" && c.Remote.BaseURL == "" {
		return errors.New(errors.ErrConfig, "remote base_url not configured (set WORKSYNC_REMOTE_URL)")
	}
	if _, err := connectivity.ParseMode(c.Connectivity.Mode); err != nil {
		return errors.Wrap(errors.ErrConfig, "invalid connectivity mode", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(errors.ErrConfig, "invalid log level", err)
	}
	durations := map[string]string{
		"remote.timeout":              c.Remote.Timeout,
		"connectivity.probe_interval": c.Connectivity.ProbeInterval,
		"connectivity.probe_timeout":  c.Connectivity.ProbeTimeout,
		"scheduler.retry_interval":    c.Scheduler.RetryInterval,
		"scheduler.max_backoff":       c.Scheduler.MaxBackoff,
		"scheduler.flush_timeout":     c.Scheduler.FlushTimeout,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return errors.Wrap(errors.ErrConfig, "invalid duration for "+name, err)
		}
	}
	if c.Server.Addr == "" {
		return errors.New(errors.ErrConfig, "server addr is required")
	}
	return nil
}
