package cli

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/journal"
	"github.com/mrz1836/replisync/internal/output"
	"github.com/mrz1836/replisync/internal/session"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

const historyTimeout = 10 * time.Second

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	historySession string
	historyType    string
	historyLimit   int
)

// historyCmd lists journaled session events.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded session events",
	Long: `List the most recent session events from the journal, oldest first.

Every run records state transitions, authentication outcomes and errors in
the journal database (journal.path, relative to the home directory).`,
	Example: `  replisync history
  replisync history --type auth_failed --limit 5
  replisync history --session 01JA2B3C4D5E6F7G8H9J0KMNPQ -o json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	historyCmd.GroupID = groupSession
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historySession, "session", "", "only events of this session ID")
	historyCmd.Flags().StringVar(&historyType, "type", "", "only events of this type (e.g. state_entered, auth_failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", journal.DefaultLimit, "maximum number of events")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	if historyLimit < 1 {
		return syncerr.WithDetails(syncerr.ErrInvalidInput, map[string]string{"limit": fmt.Sprint(historyLimit), "valid": ">= 1"})
	}

	entries, err := readHistory(cmd, cc, journal.ListOptions{
		Session: historySession,
		Type:    historyType,
		Limit:   historyLimit,
	})
	if err != nil {
		return err
	}
	slices.Reverse(entries)

	if cc.Fmt.IsJSON() {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return writeJSON(cmd.OutOrStdout(), entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		outln(w, "No events recorded")
		return nil
	}

	color := output.UseColor(w, output.ParseColorMode(cc.Cfg.Output.Color))
	tbl := output.NewTable("TIME", "SESSION", "EVENT", "STATE", "DETAIL")
	for _, e := range entries {
		tbl.AddRow(
			e.At.Local().Format("2006-01-02 15:04:05.000"),
			shortID(e.Session),
			output.StateColor(e.Type, color),
			historyState(e, color),
			historyDetail(e),
		)
	}
	return tbl.Render(w)
}

// readHistory opens the journal read-side. A missing journal is empty.
func readHistory(cmd *cobra.Command, cc *CommandContext, opts journal.ListOptions) ([]journal.Entry, error) {
	path := cc.Cfg.ResolvePath(cc.Cfg.Journal.Path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	j, err := journal.Open(path, cc.Log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = j.Close() }()

	ctx, cancel := contextWithTimeout(cmd, historyTimeout)
	defer cancel()
	return j.List(ctx, opts)
}

func historyState(e journal.Entry, color bool) string {
	switch session.EventType(e.Type) {
	case session.EventStateEntered:
		return e.From + " -> " + output.StateColor(e.To, color)
	case session.EventStateExited:
		return output.StateColor(e.From, color) + " -> " + e.To
	default:
		return output.StateColor(e.To, color)
	}
}

func historyDetail(e journal.Entry) string {
	var d string
	if e.Attempt > 0 || e.Next > 0 {
		d = fmt.Sprintf("attempt %d, next in %s", e.Attempt, e.Next)
	}
	if e.Error != "" {
		if d != "" {
			d += ": "
		}
		d += e.Error
	}
	return d
}

// shortID trims a ULID session ID to its random tail, which is what differs
// between sessions started close together.
func shortID(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return id[len(id)-keep:]
}
