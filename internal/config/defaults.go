package config

// Default retry and refresh settings.
const (
	DefaultMaxDelaySeconds      = 300
	DefaultWorkers              = 4
	DefaultRatePerSecond        = 2.0
	DefaultBurst                = 4
	DefaultProbeIntervalSeconds = 5
	DefaultProbeTimeoutSeconds  = 3
	DefaultRefreshMarginSeconds = 60
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.replisync",
		Server: ServerConfig{
			AuthMode: "http",
		},
		Replica: ReplicaConfig{
			Path:                "replica.db",
			SyncIntervalSeconds: 0, // sync on demand only
		},
		Retry: RetryConfig{
			MaxDelaySeconds: DefaultMaxDelaySeconds,
			Scale:           1.0,
			Workers:         DefaultWorkers,
			RatePerSecond:   DefaultRatePerSecond,
			Burst:           DefaultBurst,
		},
		Network: NetworkConfig{
			ProbeIntervalSeconds: DefaultProbeIntervalSeconds,
			ProbeTimeoutSeconds:  DefaultProbeTimeoutSeconds,
		},
		Credentials: CredentialsConfig{
			Provider: "password",
		},
		Refresh: RefreshConfig{
			MarginSeconds: DefaultRefreshMarginSeconds,
		},
		Journal: JournalConfig{
			Path: "journal.db",
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "replisync.log",
		},
	}
}
