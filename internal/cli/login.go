package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/output"
	"github.com/mrz1836/replisync/internal/secmem"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// verifyTimeout bounds the authentication round trip of login --verify.
const verifyTimeout = 30 * time.Second

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	loginProvider    string
	loginSecretStdin bool
	loginVerify      bool
	logoutForce      bool
)

// loginCmd stores a login secret in the OS keyring.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var loginCmd = &cobra.Command{
	Use:   "login [identity]",
	Short: "Store a login secret in the OS keyring",
	Long: `Store the secret for an identity in the operating system keyring.

The secret is read with hidden input, or from the first line of stdin with
--secret-stdin. With --verify the credentials are exchanged for tokens once
and the tokens are cached, encrypted, so the next run binds without a
round trip.

When no identity is given, credentials.identity from the config is used.`,
	Example: `  replisync login alice
  echo "$SECRET" | replisync login alice --secret-stdin --verify`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd removes the stored secret and cached tokens.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var logoutCmd = &cobra.Command{
	Use:   "logout [identity]",
	Short: "Remove the stored secret and cached tokens",
	Long: `Remove the secret stored for an identity along with any cached tokens.

Without --force you are asked to confirm.`,
	Example: `  replisync logout alice
  replisync logout --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	loginCmd.GroupID = groupCredentials
	logoutCmd.GroupID = groupCredentials
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringVar(&loginProvider, "provider", "", "credentials provider (default: credentials.provider from config)")
	loginCmd.Flags().BoolVar(&loginSecretStdin, "secret-stdin", false, "read the secret from stdin")
	loginCmd.Flags().BoolVar(&loginVerify, "verify", false, "authenticate once and cache the issued tokens")
	logoutCmd.Flags().BoolVar(&logoutForce, "force", false, "do not ask for confirmation")
}

type loginResult struct {
	Identity      string     `json:"identity"`
	Provider      string     `json:"provider"`
	Verified      bool       `json:"verified"`
	AccessExpires *time.Time `json:"access_expires,omitempty"`
}

func runLogin(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	identity, err := resolveIdentity(cc, args)
	if err != nil {
		return err
	}

	provider := loginProvider
	if provider == "" {
		provider = cc.Cfg.Credentials.Provider
	}

	var secret []byte
	if loginSecretStdin {
		secret, err = readSecret(cmd.InOrStdin())
	} else {
		secret, err = promptNewSecretFn(identity)
	}
	if err != nil {
		return err
	}
	buf := secmem.From(secret)
	defer buf.Destroy()

	creds := credentials.Credentials{Provider: provider, Identity: identity, Secret: string(buf.Bytes())}
	if err := creds.Validate(); err != nil {
		return syncerr.WithCause(syncerr.ErrInvalidInput, err)
	}

	result := loginResult{Identity: identity, Provider: provider}
	if loginVerify {
		tokens, err := verifyCredentials(cmd, cc, creds)
		if err != nil {
			return err
		}
		result.Verified = true
		if !tokens.Access.Expires.IsZero() {
			exp := tokens.Access.Expires
			result.AccessExpires = &exp
		}
	}

	if err := cc.Secrets().Save(identity, creds.Secret); err != nil {
		return err
	}
	cc.Log.Debug("login: stored secret for %s", creds)

	if cc.Fmt.IsJSON() {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	w := cmd.OutOrStdout()
	out(w, "Stored secret for %s (%s)\n", identity, provider)
	if result.Verified {
		outln(w, "Credentials verified; tokens cached")
	}
	return nil
}

// verifyCredentials authenticates once and caches the issued tokens.
func verifyCredentials(cmd *cobra.Command, cc *CommandContext, creds credentials.Credentials) (credentials.Tokens, error) {
	ctx, cancel := contextWithTimeout(cmd, verifyTimeout)
	defer cancel()

	client, err := newAuthClient(ctx, cc)
	if err != nil {
		return credentials.Tokens{}, err
	}
	res, err := client.Authenticate(ctx, creds)
	if err != nil {
		return credentials.Tokens{}, syncerr.Wrap(err, "verifying credentials")
	}

	if err := cc.TokenCache().Save(creds.Fingerprint(), res.Tokens); err != nil {
		// The secret is still worth storing; the next run authenticates again
		cc.Log.Error("login: caching tokens: %v", err)
	}
	return res.Tokens, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	identity, err := resolveIdentity(cc, args)
	if err != nil {
		return err
	}

	if !logoutForce && !promptConfirmFn("Remove the stored secret for "+identity+"?") {
		return syncerr.WithSuggestion(syncerr.ErrGeneral, "logout canceled; use --force to skip confirmation")
	}

	secrets := cc.Secrets()
	secret, err := secrets.Load(identity)
	switch {
	case err == nil:
		creds := credentials.Credentials{Provider: cc.Cfg.Credentials.Provider, Identity: identity, Secret: secret}
		if err := cc.TokenCache().Delete(creds.Fingerprint()); err != nil {
			cc.Log.Error("logout: removing cached tokens: %v", err)
		}
	case errors.Is(err, syncerr.ErrSecretNotFound):
	default:
		return err
	}

	if err := secrets.Delete(identity); err != nil {
		return err
	}

	format := output.FormatText
	if cc.Fmt.IsJSON() {
		format = output.FormatJSON
	}
	return output.FormatSuccess(cmd.OutOrStdout(), "Removed stored credentials for "+identity, format)
}
