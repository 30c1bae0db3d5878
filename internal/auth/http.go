package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrz1836/replisync/internal/credentials"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// maxResponseBytes bounds the size of an authentication response body.
const maxResponseBytes = 1 << 20

// HTTPClientOptions contains optional configuration for the HTTP client.
type HTTPClientOptions struct {
	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Limiter paces requests. Nil disables pacing.
	Limiter *RateLimiter

	// UserAgent is sent with every request.
	UserAgent string

	// Now overrides the clock used to compute token expiry.
	Now func() time.Time
}

// HTTPClient authenticates against a JSON endpoint.
//
// The request body is the credentials as JSON; a 200 response carries the
// issued tokens with lifetimes in seconds.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	limiter    *RateLimiter
	userAgent  string
	now        func() time.Time
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

type loginRequest struct {
	Provider string            `json:"provider"`
	Identity string            `json:"identity,omitempty"`
	Secret   string            `json:"secret"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type loginResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Identity         string `json:"identity"`
}

// NewHTTPClient creates a client posting to url.
func NewHTTPClient(url string, opts *HTTPClientOptions) *HTTPClient {
	c := &HTTPClient{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "replisync",
		now:        time.Now,
	}

	if opts != nil {
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		}
		c.limiter = opts.Limiter
		if opts.UserAgent != "" {
			c.userAgent = opts.UserAgent
		}
		if opts.Now != nil {
			c.now = opts.Now
		}
	}

	return c
}

// URL returns the endpoint the client posts to.
func (c *HTTPClient) URL() string {
	return c.url
}

// Authenticate posts creds and returns the issued tokens.
func (c *HTTPClient) Authenticate(ctx context.Context, creds credentials.Credentials) (*Result, error) {
	if err := c.limiter.Wait(ctx, c.url); err != nil {
		return nil, err
	}

	body, err := json.Marshal(loginRequest{
		Provider: creds.Provider,
		Identity: creds.Identity,
		Secret:   creds.Secret,
		Extra:    creds.Extra,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", syncerr.ErrNetworkError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, classifyStatus(resp.StatusCode, resp.Header)
	}

	var out loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", syncerr.ErrServerError, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access token", syncerr.ErrServerError)
	}

	now := c.now()
	identity := out.Identity
	if identity == "" {
		identity = creds.Identity
	}

	return &Result{
		Identity: identity,
		Tokens: credentials.Tokens{
			Access:  credentials.Token{Value: out.AccessToken, Expires: expiry(now, out.ExpiresIn)},
			Refresh: credentials.Token{Value: out.RefreshToken, Expires: expiry(now, out.RefreshExpiresIn)},
		},
	}, nil
}
