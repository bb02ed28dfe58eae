// Package ticket issues single-use nonces that stand in for the bearer
// token on WebSocket upgrades, where browsers cannot set an Authorization
// header.
package ticket

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"
)

const (
	nonceLen   = 32
	nonceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	ttl        = 30 * time.Second
	maxEntries = 1024
)

// ErrFull is returned when the store holds the maximum number of live
// tickets after pruning expired ones.
var ErrFull = errors.New("ticket store full")

// Store holds pending tickets. A ticket is consumed on first validation
// whether or not it is still fresh.
type Store struct {
	mu      sync.Mutex
	pending map[string]time.Time
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		pending: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Create mints a new ticket. Expired entries are pruned first; if the store
// is still at capacity, Create fails.
func (s *Store) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for n, issued := range s.pending {
		if now.Sub(issued) > ttl {
			delete(s.pending, n)
		}
	}
	if len(s.pending) >= maxEntries {
		return "", ErrFull
	}

	nonce := generateNonce(nonceLen)
	s.pending[nonce] = now
	return nonce, nil
}

// Validate consumes the nonce. It returns true only if the nonce existed and
// was issued within the TTL; the entry is removed either way.
func (s *Store) Validate(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	issued, ok := s.pending[nonce]
	if !ok {
		return false
	}
	delete(s.pending, nonce)
	return s.now().Sub(issued) <= ttl
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func generateNonce(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(nonceChars))))
		b[i] = nonceChars[idx.Int64()]
	}
	return string(b)
}
