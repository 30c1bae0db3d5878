// Package config provides configuration management for replisync.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Home        string            `yaml:"home"`
	Server      ServerConfig      `yaml:"server"`
	Replica     ReplicaConfig     `yaml:"replica"`
	Retry       RetryConfig       `yaml:"retry"`
	Network     NetworkConfig     `yaml:"network"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Events      EventsConfig      `yaml:"events"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Journal     JournalConfig     `yaml:"journal"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig defines the remote synchronization service and its auth endpoint.
type ServerConfig struct {
	URL      string       `yaml:"url"`
	AuthURL  string       `yaml:"auth_url"`
	AuthMode string       `yaml:"auth_mode"` // http or oauth2
	OAuth2   OAuth2Config `yaml:"oauth2"`
}

// OAuth2Config defines the OAuth2 client used when auth_mode is oauth2.
// When Issuer is set the token endpoint is discovered from it.
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Issuer       string   `yaml:"issuer"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// ReplicaConfig defines the local replica.
type ReplicaConfig struct {
	Path                string `yaml:"path"`
	SyncIntervalSeconds int    `yaml:"sync_interval_seconds"`
}

// RetryConfig defines the authentication retry loop.
type RetryConfig struct {
	MaxDelaySeconds int     `yaml:"max_delay_seconds"`
	Scale           float64 `yaml:"scale"`
	Workers         int     `yaml:"workers"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
}

// NetworkConfig defines connectivity probing.
// An empty ProbeAddress derives host:port from server.url.
type NetworkConfig struct {
	ProbeAddress         string `yaml:"probe_address"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `yaml:"probe_timeout_seconds"`
}

// CredentialsConfig defines where login material comes from.
type CredentialsConfig struct {
	Provider string `yaml:"provider"`
	Identity string `yaml:"identity"`
	File     string `yaml:"file"`
}

// RefreshConfig defines automatic token refresh.
type RefreshConfig struct {
	MarginSeconds int `yaml:"margin_seconds"`
}

// EventsConfig defines the WebSocket event stream listener.
type EventsConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig defines the transition journal database.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the replisync home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// MaxDelay returns the retry delay cap.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelaySeconds) * time.Second
}

// RefreshMargin returns how long before expiry a token is refreshed.
func (c *Config) RefreshMargin() time.Duration {
	return time.Duration(c.Refresh.MarginSeconds) * time.Second
}

// SyncInterval returns the replica sync interval, zero when disabled.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Replica.SyncIntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Network.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the connectivity probe dial timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Network.ProbeTimeoutSeconds) * time.Second
}

// ResolvePath expands a leading ~/ and resolves relative paths against Home.
func (c *Config) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	p = ExpandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ExpandHome(c.Home), p)
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// DefaultHome returns the default replisync home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".replisync"
	}
	return filepath.Join(home, ".replisync")
}
