package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/config"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// secretKeys are masked by config show.
//
//nolint:gochecknoglobals // Static lookup table
var secretKeys = map[string]bool{
	"server.oauth2.client_secret": true,
}

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify replisync configuration settings.`,
}

// configInitCmd initializes the configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.replisync/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.`,
	Example: `  replisync config init
  replisync config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// configShowCmd shows the current configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration: the config file with environment
overrides applied. Secrets are masked.`,
	Example: `  replisync config show
  replisync config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// configGetCmd gets a specific configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree.`,
	Example: `  replisync config get server.url
  replisync config get retry.max_delay_seconds`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeConfigKeys,
	RunE:              runConfigGet,
}

// configSetCmd sets a configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its path.

The path uses dot notation to navigate the configuration tree. The value is
validated and the configuration file is updated immediately.`,
	Example: `  replisync config set server.url libsql://db.example.com
  replisync config set retry.max_delay_seconds 120
  replisync config set logging.level debug`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKeys,
	RunE:              runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	configCmd.GroupID = groupConfig
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

func completeConfigKeys(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var keys []string
	for _, k := range config.Keys() {
		if strings.HasPrefix(k, toComplete) {
			keys = append(keys, k)
		}
	}
	return keys, cobra.ShellCompDirectiveNoFileComp
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	configPath := config.Path(config.ExpandHome(cc.Cfg.Home))

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return syncerr.WithSuggestion(
			syncerr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", configPath),
		)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultCfg := config.Defaults()
	defaultCfg.Home = cc.Cfg.Home

	if err := config.Save(defaultCfg, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	out(w, "Configuration initialized at %s\n", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - server.url: The synchronization service (libsql://...)")
	outln(w, "  - server.auth_url: Where credentials are exchanged for tokens")
	outln(w, "  - credentials.identity: The account to log in as")
	outln(w, "  - logging.level: Log level (off/error/debug)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	w := cmd.OutOrStdout()

	if cc.Fmt.IsJSON() {
		return displayConfigJSON(w, cc.Cfg)
	}
	return displayConfigText(w, cc.Cfg)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	value, err := cc.Cfg.Get(args[0])
	if err != nil {
		return err
	}

	outln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	path, value := args[0], args[1]

	// Write to the file as stored, without environment overrides
	configPath := config.Path(config.ExpandHome(cc.Cfg.Home))
	fileCfg, err := config.Load(configPath)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		fileCfg = config.Defaults()
		fileCfg.Home = cc.Cfg.Home
	default:
		return syncerr.WithCause(
			syncerr.WithDetails(syncerr.ErrConfigInvalid, map[string]string{"path": configPath}),
			err,
		)
	}

	if err := fileCfg.Set(path, value); err != nil {
		return err
	}
	if err := config.Save(fileCfg, configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	stored, _ := fileCfg.Get(path)
	out(cmd.OutOrStdout(), "Set %s = %s\n", strings.ToLower(strings.TrimSpace(path)), maskValue(path, stored))
	return nil
}

func maskValue(key, value string) string {
	if value == "" {
		return "(not configured)"
	}
	if !secretKeys[key] {
		return value
	}
	if len(value) >= 4 {
		return value[:4] + "..."
	}
	return "***..."
}

// displayConfigText shows the config grouped by section.
func displayConfigText(w io.Writer, c *config.Config) error {
	outln(w, "Configuration:")
	outln(w)
	out(w, "  home: %s\n", c.Home)

	section := ""
	for _, key := range config.Keys() {
		dot := strings.IndexByte(key, '.')
		if dot < 0 {
			continue
		}
		if s := key[:dot]; s != section {
			section = s
			outln(w)
			out(w, "  %s:\n", section)
		}
		value, err := c.Get(key)
		if err != nil {
			return err
		}
		out(w, "    %s: %s\n", key[dot+1:], maskValue(key, value))
	}
	return nil
}

// displayConfigJSON shows the config as a flat object of dotted keys.
func displayConfigJSON(w io.Writer, c *config.Config) error {
	values := make(map[string]string, len(config.Keys()))
	for _, key := range config.Keys() {
		value, err := c.Get(key)
		if err != nil {
			return err
		}
		if value != "" {
			value = maskValue(key, value)
		}
		values[key] = value
	}
	return writeJSON(w, struct {
		Version int               `json:"version"`
		Values  map[string]string `json:"values"`
	}{Version: c.Version, Values: values})
}
