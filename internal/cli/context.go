package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/auth"
	"github.com/mrz1836/replisync/internal/binding"
	"github.com/mrz1836/replisync/internal/config"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/network"
	"github.com/mrz1836/replisync/internal/output"
)

type cmdContextKey struct{}

// CommandContext holds dependencies for CLI commands.
type CommandContext struct {
	Cfg *config.Config
	Log *config.Logger
	Fmt *output.Formatter

	// Keyring stores login secrets and token cache keys. Nil means the OS keyring.
	Keyring credentials.Keyring
	// Factory builds the authentication client selected by server.auth_mode.
	Factory *auth.Factory
	// Binder overrides the libsql binder used by run.
	Binder binding.Binder
	// Network overrides the TCP probe used by run.
	Network network.Watcher
	// CacheOptions tune the token cache.
	CacheOptions []credentials.CacheOption
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(cfg *config.Config, log *config.Logger, fmtr *output.Formatter) *CommandContext {
	return &CommandContext{
		Cfg:     cfg,
		Log:     log,
		Fmt:     fmtr,
		Factory: auth.NewFactory(),
	}
}

// WithKeyring sets the keyring.
func (c *CommandContext) WithKeyring(kr credentials.Keyring) *CommandContext {
	c.Keyring = kr
	return c
}

// WithBinder sets the storage binder.
func (c *CommandContext) WithBinder(b binding.Binder) *CommandContext {
	c.Binder = b
	return c
}

// WithNetwork sets the connectivity watcher.
func (c *CommandContext) WithNetwork(w network.Watcher) *CommandContext {
	c.Network = w
	return c
}

func (c *CommandContext) keyring() credentials.Keyring {
	if c.Keyring == nil {
		c.Keyring = credentials.NewOSKeyring()
	}
	return c.Keyring
}

// Secrets returns the login secret store.
func (c *CommandContext) Secrets() *credentials.Secrets {
	return credentials.NewSecrets(c.keyring())
}

// TokenCache returns the encrypted token cache under the home directory.
func (c *CommandContext) TokenCache() *credentials.FileCache {
	return credentials.NewFileCache(filepath.Join(config.ExpandHome(c.Cfg.Home), "tokens"), c.keyring(), c.CacheOptions...)
}

// SetCmdContext stores cc on the command's context.
func SetCmdContext(cmd *cobra.Command, cc *CommandContext) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	cmd.SetContext(context.WithValue(base, cmdContextKey{}, cc))
}

// GetCmdContext returns the CommandContext stored on cmd, or nil.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cc, _ := ctx.Value(cmdContextKey{}).(*CommandContext)
	return cc
}

// contextWithTimeout returns a timeout context rooted in the command context.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, d)
}
