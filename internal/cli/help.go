package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/session"
)

// annotationStates marks commands whose help ends with the state legend.
const annotationStates = "replisync/states"

var stateHelp = map[session.State]string{
	session.StateInitial:                "created, not started",
	session.StateStarted:                "started, nothing bound yet",
	session.StateUnbound:                "idle, waiting for bind",
	session.StateBinding:                "attaching the replica, authenticating first if needed",
	session.StateAuthenticating:         "exchanging credentials for tokens, with backoff",
	session.StateAuthenticationRequired: "tokens expired or credentials rejected",
	session.StateBound:                  "replica attached to the service",
	session.StateStopped:                "terminal",
}

// walkCommands visits every command in the tree depth-first.
func walkCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, sub := range cmd.Commands() {
		walkCommands(sub, fn)
	}
}

// enrichParentLong appends a dynamically generated subcommand list to a parent
// command's Long description.
func enrichParentLong(cmd *cobra.Command) {
	if !cmd.HasSubCommands() {
		return
	}

	var sb strings.Builder
	sb.WriteString(cmd.Long)
	sb.WriteString("\n\nSubcommands:\n")

	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			fmt.Fprintf(&sb, "  %-16s %s\n", sub.Name(), sub.Short)
		}
	}

	cmd.Long = sb.String()
}

// appendStateLegend lists the session states after the Long description of
// commands annotated with annotationStates.
func appendStateLegend(cmd *cobra.Command) {
	if _, ok := cmd.Annotations[annotationStates]; !ok {
		return
	}

	var sb strings.Builder
	sb.WriteString(cmd.Long)
	sb.WriteString("\n\nSession states:\n")
	for _, st := range session.States() {
		fmt.Fprintf(&sb, "  %-24s %s\n", st, stateHelp[st])
	}
	cmd.Long = sb.String()
}
