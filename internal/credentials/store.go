package credentials

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of a Store at one instant.
type Snapshot struct {
	Credentials Credentials
	Tokens      Tokens
	// Rejected is set once the server definitively refused these credentials.
	Rejected bool
	// Generation increments on every Replace, so holders can tell whether the
	// credentials they authenticated with are still current.
	Generation uint64
}

// HasValidAccess reports whether the snapshot carries an access token usable at now.
func (s Snapshot) HasValidAccess(now time.Time) bool {
	return s.Tokens.Access.ValidAt(now)
}

// TokenCache persists tokens across restarts, keyed by credential fingerprint.
type TokenCache interface {
	Load(fingerprint string) (Tokens, error)
	Save(fingerprint string, tokens Tokens) error
	Delete(fingerprint string) error
}

// Store is a single slot holding the current credentials and their tokens.
// Every mutation swaps in a new immutable entry.
type Store struct {
	current atomic.Pointer[Snapshot]
	cache   TokenCache
}

// NewStore creates a store holding c. A nil cache disables persistence.
func NewStore(c Credentials, cache TokenCache) *Store {
	s := &Store{cache: cache}
	s.current.Store(&Snapshot{Credentials: c.Clone()})
	return s
}

// Snapshot returns the current contents. The result is safe to hold across
// later Replace calls.
func (s *Store) Snapshot() Snapshot {
	snap := *s.current.Load()
	snap.Credentials = snap.Credentials.Clone()
	return snap
}

// Replace swaps in new credentials. Tokens derived from the previous
// credentials are dropped, and cached tokens for the new ones are restored.
func (s *Store) Replace(c Credentials) {
	var cached Tokens
	if s.cache != nil && !c.IsZero() {
		if tokens, err := s.cache.Load(c.Fingerprint()); err == nil {
			cached = tokens
		}
	}

	c = c.Clone()
	for {
		prev := s.current.Load()
		next := &Snapshot{
			Credentials: c,
			Tokens:      cached,
			Generation:  prev.Generation + 1,
		}
		if s.current.CompareAndSwap(prev, next) {
			return
		}
	}
}

// Restore loads cached tokens for the current credentials, if any.
func (s *Store) Restore() bool {
	if s.cache == nil {
		return false
	}
	for {
		prev := s.current.Load()
		if prev.Credentials.IsZero() {
			return false
		}
		tokens, err := s.cache.Load(prev.Credentials.Fingerprint())
		if err != nil || tokens.IsZero() {
			return false
		}
		next := *prev
		next.Tokens = tokens
		if s.current.CompareAndSwap(prev, &next) {
			return true
		}
	}
}

// SetTokens records tokens for the credentials of the given generation.
// It reports false, and stores nothing, if the credentials were replaced since.
func (s *Store) SetTokens(generation uint64, tokens Tokens) bool {
	for {
		prev := s.current.Load()
		if prev.Generation != generation {
			return false
		}
		next := *prev
		next.Tokens = tokens
		next.Rejected = false
		if s.current.CompareAndSwap(prev, &next) {
			if s.cache != nil {
				_ = s.cache.Save(prev.Credentials.Fingerprint(), tokens)
			}
			return true
		}
	}
}

// MarkRejected flags the credentials of the given generation as refused by
// the server and drops their tokens.
func (s *Store) MarkRejected(generation uint64) bool {
	for {
		prev := s.current.Load()
		if prev.Generation != generation {
			return false
		}
		next := *prev
		next.Tokens = Tokens{}
		next.Rejected = true
		if s.current.CompareAndSwap(prev, &next) {
			if s.cache != nil {
				_ = s.cache.Delete(prev.Credentials.Fingerprint())
			}
			return true
		}
	}
}

// InvalidateAccess drops the access token but keeps the refresh token.
func (s *Store) InvalidateAccess() {
	for {
		prev := s.current.Load()
		next := *prev
		next.Tokens.Access = Token{}
		if s.current.CompareAndSwap(prev, &next) {
			return
		}
	}
}

// Clear releases the credentials and tokens held by the store.
// Cached tokens on disk are kept so a later run can reuse them.
func (s *Store) Clear() {
	for {
		prev := s.current.Load()
		if s.current.CompareAndSwap(prev, &Snapshot{Generation: prev.Generation + 1}) {
			return
		}
	}
}
