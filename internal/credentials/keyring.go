package credentials

import (
	"errors"
	"time"

	"github.com/zalando/go-keyring"

	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// ServiceName is the keyring service under which replisync stores secrets.
const ServiceName = "replisync"

const (
	secretKeyPrefix   = "secret:"
	cacheKeyPrefix    = "cache-key:"
	probeTimeout      = 3 * time.Second
	probeService      = "replisync-probe"
	probeUser         = "probe"
	probeValue        = "test"
	keyringGetTimeout = 5 * time.Second
)

// Keyring stores small secrets in an OS-backed secret store.
type Keyring interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// OSKeyring implements Keyring using the OS keychain.
type OSKeyring struct{}

// NewOSKeyring creates a new OS keyring wrapper.
func NewOSKeyring() *OSKeyring {
	return &OSKeyring{}
}

// Set stores a secret in the OS keyring.
func (k *OSKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}

// Get retrieves a secret from the OS keyring.
func (k *OSKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

// Delete removes a secret from the OS keyring.
func (k *OSKeyring) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

// ProbeKeyring reports whether kr can round-trip a value. It gives up after a
// few seconds so a hung keyring daemon cannot stall startup.
func ProbeKeyring(kr Keyring) bool {
	ch := make(chan bool, 1)
	go func() {
		ch <- probeSync(kr)
	}()

	select {
	case ok := <-ch:
		return ok
	case <-time.After(probeTimeout):
		return false
	}
}

func probeSync(kr Keyring) bool {
	if err := kr.Set(probeService, probeUser, probeValue); err != nil {
		return false
	}

	val, err := kr.Get(probeService, probeUser)
	if err != nil || val != probeValue {
		_ = kr.Delete(probeService, probeUser)
		return false
	}

	return kr.Delete(probeService, probeUser) == nil
}

// Secrets stores login secrets in a Keyring, one per identity.
type Secrets struct {
	keyring Keyring
}

// NewSecrets creates a secret store. A nil keyring uses the OS keyring.
func NewSecrets(kr Keyring) *Secrets {
	if kr == nil {
		kr = NewOSKeyring()
	}
	return &Secrets{keyring: kr}
}

// Save stores the secret for identity.
func (s *Secrets) Save(identity, secret string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if err := s.keyring.Set(ServiceName, secretKeyPrefix+identity, secret); err != nil {
		return syncerr.WithCause(syncerr.ErrKeyringUnavailable, err)
	}
	return nil
}

// Load returns the stored secret for identity.
func (s *Secrets) Load(identity string) (string, error) {
	type result struct {
		secret string
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := s.keyring.Get(ServiceName, secretKeyPrefix+identity)
		ch <- result{v, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-time.After(keyringGetTimeout):
		return "", syncerr.ErrKeyringUnavailable
	}

	if errors.Is(r.err, keyring.ErrNotFound) {
		return "", syncerr.WithDetails(syncerr.ErrSecretNotFound, map[string]string{"identity": identity})
	}
	if r.err != nil {
		return "", syncerr.WithCause(syncerr.ErrKeyringUnavailable, r.err)
	}
	return r.secret, nil
}

// Delete removes the stored secret for identity. Missing secrets are not an error.
func (s *Secrets) Delete(identity string) error {
	err := s.keyring.Delete(ServiceName, secretKeyPrefix+identity)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return syncerr.WithCause(syncerr.ErrKeyringUnavailable, err)
	}
	return nil
}
