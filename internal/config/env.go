package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mrz1836/go-sanitize"
)

// Environment variable names.
const (
	EnvHome         = "REPLISYNC_HOME"
	EnvServerURL    = "REPLISYNC_SERVER_URL"
	EnvAuthURL      = "REPLISYNC_AUTH_URL"
	EnvIdentity     = "REPLISYNC_IDENTITY"
	EnvOutputFormat = "REPLISYNC_OUTPUT_FORMAT"
	EnvVerbose      = "REPLISYNC_VERBOSE"
	EnvLogLevel     = "REPLISYNC_LOG_LEVEL"
	EnvMaxDelay     = "REPLISYNC_MAX_DELAY"
	EnvNoColor      = "NO_COLOR"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.Server.URL = SanitizeURL(v)
	}

	if v := os.Getenv(EnvAuthURL); v != "" {
		cfg.Server.AuthURL = SanitizeURL(v)
	}

	if v := os.Getenv(EnvIdentity); v != "" {
		cfg.Credentials.Identity = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}

	// REPLISYNC_MAX_DELAY caps the retry backoff, in seconds
	if v := os.Getenv(EnvMaxDelay); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Retry.MaxDelaySeconds = secs
		}
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL cleans a URL string by removing invalid characters and trimming whitespace.
// Server URLs pasted from dashboards often carry stray quotes or spaces.
func SanitizeURL(url string) string {
	return sanitize.URL(strings.TrimSpace(url))
}
