package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/replisync/internal/config"
)

func TestLoadSave_RoundTrip(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := config.Defaults()
	cfg.Server.URL = "libsql://replica.example.com"
	cfg.Server.AuthMode = "oauth2"
	cfg.Server.OAuth2.Scopes = []string{"sync", "offline_access"}
	cfg.Credentials.Identity = "alice@example.com"
	cfg.Output.Verbose = true

	require.NoError(t, config.Save(cfg, path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Version, loaded.Version)
	assert.Equal(t, cfg.Server.URL, loaded.Server.URL)
	assert.Equal(t, "oauth2", loaded.Server.AuthMode)
	assert.Equal(t, []string{"sync", "offline_access"}, loaded.Server.OAuth2.Scopes)
	assert.Equal(t, "alice@example.com", loaded.Credentials.Identity)
	assert.Equal(t, cfg.Output.Verbose, loaded.Output.Verbose)
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "~/.replisync", cfg.Home)
	assert.Equal(t, "http", cfg.Server.AuthMode)
	assert.Equal(t, 300, cfg.Retry.MaxDelaySeconds)
	assert.InDelta(t, 1.0, cfg.Retry.Scale, 0.0001)
	assert.Equal(t, config.DefaultWorkers, cfg.Retry.Workers)
	assert.Equal(t, "password", cfg.Credentials.Provider)
	assert.Equal(t, "auto", cfg.Output.DefaultFormat)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestDurations(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()

	assert.Equal(t, 5*time.Minute, cfg.MaxDelay())
	assert.Equal(t, time.Minute, cfg.RefreshMargin())
	assert.Equal(t, time.Duration(0), cfg.SyncInterval())
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval())
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  url: libsql://db.example.com\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "libsql://db.example.com", cfg.Server.URL)
	assert.Equal(t, "http", cfg.Server.AuthMode)
	assert.Equal(t, 300, cfg.Retry.MaxDelaySeconds)
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("invalid: yaml: content: ["), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestSave_CreatesDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subdir", "config.yaml")

	require.NoError(t, config.Save(config.Defaults(), path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolvePath(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Home = "/srv/replisync"

	assert.Equal(t, "/srv/replisync/replica.db", cfg.ResolvePath("replica.db"))
	assert.Equal(t, "/data/replica.db", cfg.ResolvePath("/data/replica.db"))
	assert.Empty(t, cfg.ResolvePath(""))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x.db"), cfg.ResolvePath("~/x.db"))
}

func TestConfigPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/home/user/.replisync/config.yaml", config.Path("/home/user/.replisync"))
}

func TestDefaultHome(t *testing.T) {
	t.Parallel()
	assert.Contains(t, config.DefaultHome(), ".replisync")
}

func TestApplyEnvironment(t *testing.T) {
	cfg := config.Defaults()

	t.Setenv("REPLISYNC_HOME", "/custom/home")
	t.Setenv("REPLISYNC_SERVER_URL", "  libsql://custom.example.com  ")
	t.Setenv("REPLISYNC_AUTH_URL", "https://auth.example.com/token")
	t.Setenv("REPLISYNC_IDENTITY", "bob")
	t.Setenv("REPLISYNC_OUTPUT_FORMAT", "JSON")
	t.Setenv("REPLISYNC_VERBOSE", "true")
	t.Setenv("REPLISYNC_LOG_LEVEL", "debug")
	t.Setenv("REPLISYNC_MAX_DELAY", "60")

	config.ApplyEnvironment(cfg)

	assert.Equal(t, "/custom/home", cfg.Home)
	assert.Equal(t, "libsql://custom.example.com", cfg.Server.URL)
	assert.Equal(t, "https://auth.example.com/token", cfg.Server.AuthURL)
	assert.Equal(t, "bob", cfg.Credentials.Identity)
	assert.Equal(t, "json", cfg.Output.DefaultFormat)
	assert.True(t, cfg.Output.Verbose)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 60, cfg.Retry.MaxDelaySeconds)
}

func TestApplyEnvironment_NoColor(t *testing.T) {
	cfg := config.Defaults()

	t.Setenv("NO_COLOR", "1")
	config.ApplyEnvironment(cfg)

	assert.Equal(t, "never", cfg.Output.Color)
}

func TestApplyEnvironment_MaxDelay_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"invalid string", "abc"},
		{"zero", "0"},
		{"negative", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			t.Setenv("REPLISYNC_MAX_DELAY", tt.value)
			config.ApplyEnvironment(cfg)
			assert.Equal(t, config.DefaultMaxDelaySeconds, cfg.Retry.MaxDelaySeconds)
		})
	}
}
