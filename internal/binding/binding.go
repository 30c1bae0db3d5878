// Package binding attaches a local replica to the synchronization service.
package binding

import (
	"context"
	"errors"
	"strings"
)

// Handle identifies one live binding. The zero Handle is never issued.
type Handle uint64

// Binder is the storage binding layer a session drives.
type Binder interface {
	// Bind attaches the replica at path using token and returns its handle.
	Bind(ctx context.Context, path, token string) (Handle, error)
	// Unbind releases h. Unknown handles return ErrUnknownHandle.
	Unbind(h Handle) error
	// Refresh swaps the token used by h.
	Refresh(h Handle, token string) error
	// NotifyCommit tells the binding that a local commit reached version.
	NotifyCommit(h Handle, version int64) error
}

// unauthorizedMarkers are substrings that identify an auth failure reported
// by the remote in an otherwise untyped error.
var unauthorizedMarkers = []string{"401", "unauthorized", "token expired", "jwt expired"}

// IsUnauthorized reports whether err looks like the remote refused the token.
func IsUnauthorized(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range unauthorizedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
