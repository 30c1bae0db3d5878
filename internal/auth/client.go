// Package auth exchanges credentials for access tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/retry"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// defaultTimeout bounds a single authentication request.
const defaultTimeout = 30 * time.Second

// Result is the outcome of a successful authentication.
type Result struct {
	Tokens   credentials.Tokens
	Identity string
}

// Client authenticates credentials against a remote service.
//
// Errors for which retry.IsPermanent reports true are definitive
// rejections; every other error is transient.
type Client interface {
	Authenticate(ctx context.Context, creds credentials.Credentials) (*Result, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, creds credentials.Credentials) (*Result, error)

// Authenticate calls f.
func (f ClientFunc) Authenticate(ctx context.Context, creds credentials.Credentials) (*Result, error) {
	return f(ctx, creds)
}

// classifyStatus maps a non-success HTTP status to an error.
// 400, 401 and 403 are definitive rejections. 408, 429 and 5xx are transient,
// and carry the server's Retry-After hint. Any other status is permanent.
func classifyStatus(status int, header http.Header) error {
	details := map[string]string{"status": fmt.Sprintf("%d", status)}
	after := retry.ParseRetryAfter(header.Get("Retry-After"))

	switch {
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return syncerr.WithDetails(syncerr.ErrInvalidCredentials, details)
	case status == http.StatusTooManyRequests:
		return retry.WithRetryAfter(syncerr.WithDetails(syncerr.ErrRateLimited, details), after)
	case status == http.StatusRequestTimeout, status >= 500:
		return retry.WithRetryAfter(syncerr.WithDetails(syncerr.ErrServerError, details), after)
	default:
		return retry.Permanent(syncerr.WithDetails(syncerr.ErrAuthentication, details))
	}
}

// expiry converts a lifetime in seconds to an absolute time. Zero or
// negative lifetimes mean the token does not expire.
func expiry(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}
