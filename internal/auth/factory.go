package auth

import (
	"context"
	"fmt"
	"sort"

	"github.com/mrz1836/replisync/internal/config"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// Mode names an authentication client implementation.
type Mode string

// Supported modes.
const (
	ModeHTTP   Mode = "http"
	ModeOAuth2 Mode = "oauth2"
)

// ErrUnsupportedMode indicates no client is registered for the mode.
var ErrUnsupportedMode = &syncerr.SyncError{
	Code:     "UNSUPPORTED_AUTH_MODE",
	Message:  "unsupported auth mode",
	ExitCode: syncerr.ExitInput,
}

// Creator builds a Client from server configuration.
type Creator func(ctx context.Context, server config.ServerConfig, limiter *RateLimiter) (Client, error)

// Factory creates authentication clients by mode.
type Factory struct {
	creators map[Mode]Creator
}

// NewFactory creates a factory with the built-in modes registered.
func NewFactory() *Factory {
	f := &Factory{creators: make(map[Mode]Creator)}
	f.Register(ModeHTTP, newHTTPFromConfig)
	f.Register(ModeOAuth2, newOAuth2FromConfig)
	return f
}

// Register adds or replaces the creator for mode.
func (f *Factory) Register(mode Mode, creator Creator) {
	f.creators[mode] = creator
}

// New creates the client selected by server.AuthMode. An empty mode means http.
func (f *Factory) New(ctx context.Context, server config.ServerConfig, limiter *RateLimiter) (Client, error) {
	mode := Mode(server.AuthMode)
	if mode == "" {
		mode = ModeHTTP
	}
	creator, ok := f.creators[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	return creator(ctx, server, limiter)
}

// Modes returns the registered modes in sorted order.
func (f *Factory) Modes() []Mode {
	modes := make([]Mode, 0, len(f.creators))
	for m := range f.creators {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

func newHTTPFromConfig(_ context.Context, server config.ServerConfig, limiter *RateLimiter) (Client, error) {
	url := server.AuthURL
	if url == "" {
		return nil, syncerr.WithSuggestion(
			syncerr.WithDetails(syncerr.ErrConfigInvalid, map[string]string{"missing": "server.auth_url"}),
			"Run 'replisync config set server.auth_url <url>'",
		)
	}
	return NewHTTPClient(url, &HTTPClientOptions{Limiter: limiter}), nil
}

func newOAuth2FromConfig(ctx context.Context, server config.ServerConfig, limiter *RateLimiter) (Client, error) {
	o := server.OAuth2
	tokenURL := o.TokenURL
	if tokenURL == "" && o.Issuer == "" {
		tokenURL = server.AuthURL
	}
	return NewOAuth2Client(ctx, OAuth2Options{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     tokenURL,
		Issuer:       o.Issuer,
		Scopes:       o.Scopes,
		Limiter:      limiter,
	})
}
