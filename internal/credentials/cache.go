package credentials

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"filippo.io/age"

	"github.com/mrz1836/replisync/internal/fileutil"
	"github.com/mrz1836/replisync/internal/secmem"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

const (
	cacheFileExtension = ".tokens"
	cacheKeyLength     = 32
)

// fingerprintPattern guards cache paths built from fingerprints.
var fingerprintPattern = regexp.MustCompile(`^[a-f0-9]{8,64}$`)

var errInvalidFingerprint = errors.New("invalid credentials fingerprint")

// cacheFile is the on-disk layout of one cache entry.
type cacheFile struct {
	SavedAt   time.Time `json:"saved_at"`
	Encrypted []byte    `json:"encrypted"`
}

// FileCache persists tokens in age-encrypted files. Each entry is encrypted
// with a random key held in the OS keyring, so the file alone is useless.
type FileCache struct {
	dir        string
	keyring    Keyring
	workFactor int
	mu         sync.Mutex
}

// CacheOption configures a FileCache.
type CacheOption func(*FileCache)

// WithWorkFactor sets the scrypt work factor (log2 N) used for new entries.
func WithWorkFactor(logN int) CacheOption {
	return func(c *FileCache) {
		c.workFactor = logN
	}
}

// NewFileCache creates a token cache rooted at dir. A nil keyring uses the OS keyring.
func NewFileCache(dir string, kr Keyring, opts ...CacheOption) *FileCache {
	if kr == nil {
		kr = NewOSKeyring()
	}
	c := &FileCache{dir: dir, keyring: kr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save encrypts and writes tokens for fingerprint.
func (c *FileCache) Save(fingerprint string, tokens Tokens) error {
	if !fingerprintPattern.MatchString(fingerprint) {
		return errInvalidFingerprint
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := make([]byte, cacheKeyLength)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating cache key: %w", err)
	}
	defer secmem.Zero(key)
	passphrase := hex.EncodeToString(key)

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshaling tokens: %w", err)
	}
	defer secmem.Zero(plaintext)

	encrypted, err := c.encrypt(plaintext, passphrase)
	if err != nil {
		return err
	}

	if err := c.keyring.Set(ServiceName, cacheKeyPrefix+fingerprint, passphrase); err != nil {
		return syncerr.WithCause(syncerr.ErrKeyringUnavailable, err)
	}

	entry := cacheFile{SavedAt: time.Now().UTC(), Encrypted: encrypted}
	if err := fileutil.WriteJSONAtomic(c.path(fingerprint), entry, fileutil.PrivateFilePerm); err != nil {
		_ = c.keyring.Delete(ServiceName, cacheKeyPrefix+fingerprint)
		return fmt.Errorf("writing token cache: %w", err)
	}
	return nil
}

// Load reads and decrypts tokens for fingerprint. Corrupt or orphaned entries
// are removed and reported as ErrCacheNotFound.
func (c *FileCache) Load(fingerprint string) (Tokens, error) {
	if !fingerprintPattern.MatchString(fingerprint) {
		return Tokens{}, errInvalidFingerprint
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var entry cacheFile
	if err := fileutil.ReadJSON(c.path(fingerprint), &entry); err != nil {
		if os.IsNotExist(err) {
			return Tokens{}, syncerr.ErrCacheNotFound
		}
		_ = c.cleanup(fingerprint)
		return Tokens{}, syncerr.ErrCacheNotFound
	}

	passphrase, err := c.keyring.Get(ServiceName, cacheKeyPrefix+fingerprint)
	if err != nil {
		_ = c.cleanup(fingerprint)
		return Tokens{}, syncerr.ErrCacheNotFound
	}

	plaintext, err := decrypt(entry.Encrypted, passphrase)
	if err != nil {
		_ = c.cleanup(fingerprint)
		return Tokens{}, syncerr.WithCause(syncerr.ErrDecryptionFailed, err)
	}
	defer secmem.Zero(plaintext)

	var tokens Tokens
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		_ = c.cleanup(fingerprint)
		return Tokens{}, syncerr.ErrCacheNotFound
	}
	return tokens, nil
}

// Delete removes the cache entry and its key.
func (c *FileCache) Delete(fingerprint string) error {
	if !fingerprintPattern.MatchString(fingerprint) {
		return errInvalidFingerprint
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanup(fingerprint)
}

// Must be called with c.mu held.
func (c *FileCache) cleanup(fingerprint string) error {
	_ = c.keyring.Delete(ServiceName, cacheKeyPrefix+fingerprint)
	if err := os.Remove(c.path(fingerprint)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token cache: %w", err)
	}
	return nil
}

func (c *FileCache) path(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+cacheFileExtension)
}

func (c *FileCache) encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if c.workFactor > 0 {
		recipient.SetWorkFactor(c.workFactor)
	}

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func decrypt(ciphertext []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("initializing decryption: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted data: %w", err)
	}
	return plaintext, nil
}
