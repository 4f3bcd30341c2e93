package credential

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cardpay-gateway/internal/obs"
)

// TTL bounds how long a stored credential stays resolvable after creation.
const TTL = 12 * time.Hour

// Store maps opaque tokens to verified credentials. Entries expire lazily on
// lookup; Sweep may be run periodically to reclaim memory early.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]Credential
	ttl      time.Duration
	now      func() time.Time
	newToken func() string
	logger   zerolog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger for sweep events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]Credential),
		ttl:      TTL,
		now:      time.Now,
		newToken: uuid.NewString,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores cred under a freshly generated token and returns the token.
func (s *Store) Save(cred Credential) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.newToken()
	for {
		if _, taken := s.entries[token]; !taken {
			break
		}
		token = s.newToken()
	}
	s.entries[token] = cred
	s.recordSizeLocked()
	return token
}

// Find resolves token to its credential. Expired entries are evicted and
// reported as absent, so Find mutates the store even though it reads.
func (s *Store) Find(token string) (Credential, bool) {
	if _, err := uuid.Parse(token); err != nil {
		return Credential{}, false
	}

	s.mu.RLock()
	cred, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, false
	}

	now := s.now()
	if !s.expired(cred, now) {
		return cred, true
	}

	s.mu.Lock()
	if current, ok := s.entries[token]; ok && s.expired(current, now) {
		delete(s.entries, token)
		s.recordSizeLocked()
	}
	s.mu.Unlock()
	return Credential{}, false
}

// Len reports the number of entries currently held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, cred := range s.entries {
		if s.expired(cred, now) {
			delete(s.entries, token)
			removed++
		}
	}
	if removed > 0 {
		s.recordSizeLocked()
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled. A non-positive interval
// returns immediately.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("credential_sweep")
			}
		}
	}
}

func (s *Store) expired(cred Credential, now time.Time) bool {
	return now.Sub(cred.CreatedAt()) >= s.ttl
}

func (s *Store) recordSizeLocked() {
	if obs.CredentialStoreEntries == nil {
		return
	}
	obs.CredentialStoreEntries.Set(float64(len(s.entries)))
}
