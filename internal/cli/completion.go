package cli

import (
	"github.com/spf13/cobra"
)

// completionCmd generates shell completion scripts.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for replisync.

To load completions:

Bash:
  $ source <(replisync completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ replisync completion bash > /etc/bash_completion.d/replisync
  # macOS:
  $ replisync completion bash > $(brew --prefix)/etc/bash_completion.d/replisync

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ replisync completion zsh > "${fpath[1]}/_replisync"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ replisync completion fish | source

  # To load completions for each session, execute once:
  $ replisync completion fish > ~/.config/fish/completions/replisync.fish

PowerShell:
  PS> replisync completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> replisync completion powershell > replisync.ps1
  # and source this file from your PowerShell profile.
`,
	Example: `  replisync completion bash
  replisync completion zsh > "${fpath[1]}/_replisync"`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(w, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(w)
		case "fish":
			return cmd.Root().GenFishCompletion(w, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(w)
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	completionCmd.GroupID = groupConfig
	rootCmd.AddCommand(completionCmd)
}
