// Package cli implements the replisync command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/config"
	"github.com/mrz1836/replisync/internal/output"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	cmdCtx    *CommandContext

	// configureContext adjusts each new CommandContext. Tests use it to
	// inject fakes.
	configureContext func(*CommandContext)

	buildInfo BuildInfo

	enrichOnce sync.Once
)

// Command group IDs.
const (
	groupSession     = "session"
	groupCredentials = "credentials"
	groupConfig      = "config"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "replisync",
	Short: "Keep a local replica bound to its synchronization service",
	Long: `replisync runs a synchronization session for a local database replica.

The session authenticates against the synchronization service, binds the
replica, refreshes tokens before they expire and re-authenticates with
exponential backoff when the service or the network goes away. Every state
change is journaled and can be streamed over WebSocket or scraped as
Prometheus metrics.`,
	Example: `  replisync login alice
  replisync run
  replisync history --limit 20`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initGlobals(cmd)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version information",
	Long:    `Print the replisync version, commit and build date.`,
	Example: `  replisync version`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if formatter != nil && formatter.IsJSON() {
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"version": valueOr(buildInfo.Version, "dev"),
				"commit":  valueOr(buildInfo.Commit, "unknown"),
				"date":    valueOr(buildInfo.Date, "unknown"),
			})
		}
		outln(cmd.OutOrStdout(), "replisync "+formatVersion(buildInfo))
		return nil
	},
}

// Execute runs the root command.
func Execute(info BuildInfo) error {
	buildInfo = info
	rootCmd.Version = formatVersion(info)
	enrichOnce.Do(enrichHelp)

	if err := rootCmd.Execute(); err != nil {
		formatErr(err)
		return err
	}
	return nil
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return syncerr.ExitCode(err)
}

// formatErr prints err to stderr in the active output format.
func formatErr(err error) {
	format := output.FormatText
	if formatter != nil {
		format = formatter.Format()
	}
	_ = output.FormatError(os.Stderr, err, format)
}

// enrichHelp lists subcommands in the Long text of every parent below root
// and appends the state legend where requested.
func enrichHelp() {
	walkCommands(rootCmd, func(cmd *cobra.Command) {
		if cmd != rootCmd {
			enrichParentLong(cmd)
		}
		appendStateLegend(cmd)
	})
}

func formatVersion(info BuildInfo) string {
	return fmt.Sprintf("%s (commit: %s, built: %s)",
		valueOr(info.Version, "dev"),
		valueOr(info.Commit, "unknown"),
		valueOr(info.Date, "unknown"))
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// initGlobals initializes global configuration, logger, and formatter.
func initGlobals(cmd *cobra.Command) error {
	// Determine home directory
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	// Load or create config
	var err error
	cfg, err = config.Load(config.Path(home))
	if err != nil {
		if !os.IsNotExist(err) {
			return syncerr.WithCause(
				syncerr.WithDetails(syncerr.ErrConfigInvalid, map[string]string{"path": config.Path(home)}),
				err,
			)
		}
		// Use defaults if config doesn't exist
		cfg = config.Defaults()
	}
	cfg.Home = home

	// Apply environment variable overrides
	config.ApplyEnvironment(cfg)

	// Override with command-line flags
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}

	// Initialize logger
	logger, err = config.NewLogger(config.ParseLogLevel(cfg.Logging.Level), cfg.ResolvePath(cfg.Logging.File))
	if err != nil {
		// Use null logger if we can't create the file
		logger = config.NullLogger()
	}

	// Initialize formatter
	explicit := output.ParseFormat(cfg.Output.DefaultFormat)
	formatter = output.NewFormatter(output.DetectFormat(os.Stdout, explicit), os.Stdout)

	cmdCtx = NewCommandContext(cfg, logger, formatter)
	if configureContext != nil {
		configureContext(cmdCtx)
	}
	SetCmdContext(cmd, cmdCtx)
	return nil
}

// cleanup releases resources.
func cleanup() {
	if logger != nil {
		_ = logger.Close()
	}
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() *config.Logger {
	return logger
}

// Formatter returns the global output formatter.
func Formatter() *output.Formatter {
	return formatter
}

// Context returns the global command context.
func Context() *CommandContext {
	return cmdCtx
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupSession, Title: "Session:"},
		&cobra.Group{ID: groupCredentials, Title: "Credentials:"},
		&cobra.Group{ID: groupConfig, Title: "Configuration:"},
	)
	rootCmd.SetHelpCommandGroupID(groupConfig)
	rootCmd.SetCompletionCommandGroupID(groupConfig)

	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "replisync data directory (default: ~/.replisync)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	versionCmd.GroupID = groupConfig
	rootCmd.AddCommand(versionCmd)
}
