package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/retry"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

var (
	// ErrMissingTokenURL indicates neither a token URL nor an issuer was configured.
	ErrMissingTokenURL = errors.New("oauth2 token url or issuer is required")

	// ErrUnsupportedProvider indicates the credentials use a grant the client cannot perform.
	ErrUnsupportedProvider = errors.New("unsupported credentials provider")
)

// OAuth2Options configures an OAuth2Client.
type OAuth2Options struct {
	ClientID     string
	ClientSecret string
	// TokenURL is the token endpoint. When empty it is discovered from Issuer.
	TokenURL string
	// Issuer is an OpenID Connect issuer used for endpoint discovery.
	Issuer string
	Scopes []string

	HTTPClient *http.Client
	Limiter    *RateLimiter
}

// OAuth2Client authenticates with OAuth2 token grants. The credentials
// provider selects the grant: password, refresh_token or client_credentials.
// access_token credentials are passed through without a network call.
type OAuth2Client struct {
	config     oauth2.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

// Compile-time interface check.
var _ Client = (*OAuth2Client)(nil)

// NewOAuth2Client creates a client. When only an issuer is given, the token
// endpoint is discovered through the issuer's OpenID configuration.
func NewOAuth2Client(ctx context.Context, opts OAuth2Options) (*OAuth2Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	endpoint := oauth2.Endpoint{TokenURL: opts.TokenURL, AuthStyle: oauth2.AuthStyleInHeader}
	scopes := slices.Clone(opts.Scopes)

	if opts.TokenURL == "" {
		if opts.Issuer == "" {
			return nil, ErrMissingTokenURL
		}
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), opts.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: discovering issuer %s: %w", syncerr.ErrNetworkError, opts.Issuer, err)
		}
		endpoint = provider.Endpoint()
		if endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
			endpoint.AuthStyle = oauth2.AuthStyleInHeader
		}
		if !slices.Contains(scopes, oidc.ScopeOpenID) {
			scopes = append([]string{oidc.ScopeOpenID}, scopes...)
		}
	}

	return &OAuth2Client{
		config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient: httpClient,
		limiter:    opts.Limiter,
	}, nil
}

// TokenURL returns the token endpoint in use.
func (c *OAuth2Client) TokenURL() string {
	return c.config.Endpoint.TokenURL
}

// Authenticate performs the grant selected by creds.Provider.
func (c *OAuth2Client) Authenticate(ctx context.Context, creds credentials.Credentials) (*Result, error) {
	if creds.Provider == credentials.ProviderAccessToken {
		return &Result{
			Identity: creds.Identity,
			Tokens:   credentials.Tokens{Access: credentials.Token{Value: creds.Secret}},
		}, nil
	}

	if err := c.limiter.Wait(ctx, c.config.Endpoint.TokenURL); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var (
		tok *oauth2.Token
		err error
	)
	switch creds.Provider {
	case credentials.ProviderPassword:
		tok, err = c.config.PasswordCredentialsToken(ctx, creds.Identity, creds.Secret)
	case credentials.ProviderRefreshToken:
		tok, err = c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.Secret}).Token()
	case credentials.ProviderClientCredentials:
		clientID := creds.Identity
		if clientID == "" {
			clientID = c.config.ClientID
		}
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: creds.Secret,
			TokenURL:     c.config.Endpoint.TokenURL,
			Scopes:       c.config.Scopes,
			AuthStyle:    c.config.Endpoint.AuthStyle,
		}
		tok, err = cc.Token(ctx)
	default:
		return nil, retry.Permanent(fmt.Errorf("%w: %q", ErrUnsupportedProvider, creds.Provider))
	}
	if err != nil {
		return nil, mapError(ctx, err)
	}

	return &Result{
		Identity: creds.Identity,
		Tokens: credentials.Tokens{
			Access:  credentials.Token{Value: tok.AccessToken, Expires: tok.Expiry},
			Refresh: credentials.Token{Value: tok.RefreshToken},
		},
	}, nil
}

// mapError sorts a grant error into rejection, transient or cancellation.
func mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		classified := classifyStatus(re.Response.StatusCode, re.Response.Header)
		if re.ErrorCode != "" {
			return fmt.Errorf("%w: %s", classified, re.ErrorCode)
		}
		return classified
	}
	return fmt.Errorf("%w: %w", syncerr.ErrNetworkError, err)
}
