package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/config"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/journal"
	"github.com/mrz1836/replisync/internal/output"
	"github.com/mrz1836/replisync/internal/session"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// statusCmd reports stored credentials, cached tokens and the last session state.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credentials, cached tokens and the last session state",
	Long: `Show whether a secret is stored for the configured identity, whether
cached tokens are still valid, and the last state a session reached according
to the journal.`,
	Example: `  replisync status
  replisync status -o json`,
	Annotations: map[string]string{annotationStates: ""},
	Args:        cobra.NoArgs,
	RunE:        runStatus,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	statusCmd.GroupID = groupSession
	rootCmd.AddCommand(statusCmd)
}

type tokenStatus struct {
	Present bool       `json:"present"`
	Valid   bool       `json:"valid"`
	Expires *time.Time `json:"expires,omitempty"`
}

type statusView struct {
	Server       string      `json:"server,omitempty"`
	Identity     string      `json:"identity,omitempty"`
	Provider     string      `json:"provider"`
	SecretStored bool        `json:"secret_stored"`
	Access       tokenStatus `json:"access_token"`
	Refresh      tokenStatus `json:"refresh_token"`
	LastSession  string      `json:"last_session,omitempty"`
	LastState    string      `json:"last_state,omitempty"`
	LastChange   *time.Time  `json:"last_change,omitempty"`
}

func newTokenStatus(t credentials.Token, now time.Time) tokenStatus {
	ts := tokenStatus{Present: !t.IsZero(), Valid: t.ValidAt(now)}
	if !t.Expires.IsZero() {
		exp := t.Expires
		ts.Expires = &exp
	}
	return ts
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	now := time.Now()

	view := statusView{
		Server:   config.SanitizeURL(cc.Cfg.Server.URL),
		Identity: cc.Cfg.Credentials.Identity,
		Provider: cc.Cfg.Credentials.Provider,
	}

	creds, err := loadCredentials(cc)
	switch {
	case err == nil:
		view.SecretStored = true
		view.Identity = creds.Identity
		view.Provider = creds.Provider
		tokens, err := cc.TokenCache().Load(creds.Fingerprint())
		if err == nil {
			view.Access = newTokenStatus(tokens.Access, now)
			view.Refresh = newTokenStatus(tokens.Refresh, now)
		} else if !errors.Is(err, syncerr.ErrCacheNotFound) {
			cc.Log.Error("status: reading token cache: %v", err)
		}
	case errors.Is(err, syncerr.ErrMissingCredentials), errors.Is(err, syncerr.ErrInvalidInput):
	default:
		return err
	}

	entries, err := readHistory(cmd, cc, journal.ListOptions{Type: string(session.EventStateEntered), Limit: 1})
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		view.LastSession = entries[0].Session
		view.LastState = entries[0].To
		at := entries[0].At
		view.LastChange = &at
	}

	if cc.Fmt.IsJSON() {
		return writeJSON(cmd.OutOrStdout(), view)
	}
	renderStatus(cmd, cc, view)
	return nil
}

func renderStatus(cmd *cobra.Command, cc *CommandContext, v statusView) {
	w := cmd.OutOrStdout()
	color := output.UseColor(w, output.ParseColorMode(cc.Cfg.Output.Color))

	tbl := output.NewTable("KEY", "VALUE")
	tbl.SetNoHeader(true)
	tbl.AddRow("Server:", valueOr(v.Server, "(not configured)"))
	tbl.AddRow("Identity:", valueOr(v.Identity, "(not configured)"))
	tbl.AddRow("Provider:", v.Provider)
	tbl.AddRow("Secret:", yesNo(v.SecretStored, "stored", "not stored"))
	tbl.AddRow("Access token:", describeToken(v.Access))
	tbl.AddRow("Refresh token:", describeToken(v.Refresh))
	if v.LastState != "" {
		tbl.AddRow("Last state:", output.StateColor(v.LastState, color)+
			" (session "+shortID(v.LastSession)+", "+v.LastChange.Local().Format(time.RFC3339)+")")
	} else {
		tbl.AddRow("Last state:", "(no sessions recorded)")
	}
	_ = tbl.Render(w)
}

func describeToken(t tokenStatus) string {
	switch {
	case !t.Present:
		return "none"
	case t.Expires == nil:
		return "valid, no expiry"
	case t.Valid:
		return "valid until " + t.Expires.Local().Format(time.RFC3339)
	default:
		return "expired " + t.Expires.Local().Format(time.RFC3339)
	}
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
