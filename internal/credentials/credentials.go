// Package credentials holds login material and the tokens derived from it.
//
// Credentials are immutable values: a Store swaps them wholesale and hands
// readers a Snapshot, so a background authentication attempt never observes a
// concurrent replacement.
package credentials

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Known providers. The auth layer decides how each one is exchanged for tokens.
const (
	ProviderPassword          = "password"
	ProviderRefreshToken      = "refresh_token"
	ProviderClientCredentials = "client_credentials"
	ProviderAccessToken       = "access_token"
)

// Errors returned by this package.
var (
	ErrEmptyProvider = errors.New("credentials provider cannot be empty")
	ErrEmptySecret   = errors.New("credentials secret cannot be empty")
	ErrEmptyIdentity = errors.New("credentials identity cannot be empty")
)

// Credentials is opaque login material: a provider plus the secret it accepts.
type Credentials struct {
	Provider string            `yaml:"provider" json:"provider"`
	Identity string            `yaml:"identity" json:"identity"`
	Secret   string            `yaml:"secret" json:"-"`
	Extra    map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Validate checks that the credentials are usable.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return ErrEmptyProvider
	}
	if c.Secret == "" {
		return ErrEmptySecret
	}
	if c.Provider == ProviderPassword && strings.TrimSpace(c.Identity) == "" {
		return ErrEmptyIdentity
	}
	return nil
}

// IsZero reports whether no credentials have been supplied.
func (c Credentials) IsZero() bool {
	return c.Provider == "" && c.Identity == "" && c.Secret == "" && len(c.Extra) == 0
}

// Clone returns a deep copy.
func (c Credentials) Clone() Credentials {
	out := c
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}

// Fingerprint returns a short stable identifier that is safe to log.
// It covers every field, so any change to the secret changes the fingerprint.
func (c Credentials) Fingerprint() string {
	h, _ := blake2b.New256(nil) // nil key never errors
	writeField := func(s string) {
		_, _ = fmt.Fprintf(h, "%d:%s;", len(s), s)
	}
	writeField(c.Provider)
	writeField(c.Identity)
	writeField(c.Secret)

	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(k)
		writeField(c.Extra[k])
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// String never includes the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("%s:%s (%s)", c.Provider, c.Identity, c.Fingerprint())
}

// LoadFile reads credentials from a YAML file.
func LoadFile(path string) (Credentials, error) {
	// #nosec G304 -- credentials file path comes from config
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}

	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parsing credentials file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("credentials file %s: %w", path, err)
	}
	return c, nil
}

// Token is a time-limited proof of authentication.
type Token struct {
	Value   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// ValidAt reports whether the token is usable at now. Tokens without an
// expiry never expire.
func (t Token) ValidAt(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.Expires.IsZero() || now.Before(t.Expires)
}

// Tokens is the pair issued by a successful authentication.
type Tokens struct {
	Access  Token `json:"access_token"`
	Refresh Token `json:"refresh_token"`
}

// IsZero reports whether no tokens are present.
func (t Tokens) IsZero() bool {
	return t.Access.IsZero() && t.Refresh.IsZero()
}
