package cli

import (
	"context"
	"strings"

	"github.com/mrz1836/replisync/internal/auth"
	"github.com/mrz1836/replisync/internal/credentials"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// resolveIdentity picks the identity from the first argument or the config.
func resolveIdentity(cc *CommandContext, args []string) (string, error) {
	identity := cc.Cfg.Credentials.Identity
	if len(args) > 0 {
		identity = args[0]
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", syncerr.WithSuggestion(
			syncerr.WithDetails(syncerr.ErrInvalidInput, map[string]string{"missing": "identity"}),
			"Pass an identity or run 'replisync config set credentials.identity <name>'",
		)
	}
	return identity, nil
}

// loadCredentials builds the session credentials. A configured credentials
// file wins; otherwise the secret for the configured identity comes from the
// keyring.
func loadCredentials(cc *CommandContext) (credentials.Credentials, error) {
	if file := cc.Cfg.Credentials.File; file != "" {
		return credentials.LoadFile(cc.Cfg.ResolvePath(file))
	}

	identity, err := resolveIdentity(cc, nil)
	if err != nil {
		return credentials.Credentials{}, err
	}
	secret, err := cc.Secrets().Load(identity)
	if err != nil {
		if syncerr.Is(err, syncerr.ErrSecretNotFound) {
			return credentials.Credentials{}, syncerr.WithSuggestion(
				syncerr.WithDetails(syncerr.ErrMissingCredentials, map[string]string{"identity": identity}),
				"Run 'replisync login "+identity+"'",
			)
		}
		return credentials.Credentials{}, err
	}

	c := credentials.Credentials{
		Provider: cc.Cfg.Credentials.Provider,
		Identity: identity,
		Secret:   secret,
	}
	if err := c.Validate(); err != nil {
		return credentials.Credentials{}, syncerr.WithCause(syncerr.ErrMissingCredentials, err)
	}
	return c, nil
}

// newAuthClient builds the configured authentication client, paced by the
// configured rate limit.
func newAuthClient(ctx context.Context, cc *CommandContext) (auth.Client, error) {
	limiter := auth.NewRateLimiter(cc.Cfg.Retry.RatePerSecond, cc.Cfg.Retry.Burst)
	return cc.Factory.New(ctx, cc.Cfg.Server, limiter)
}
