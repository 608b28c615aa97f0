package revocation

import (
	"sync"
	"time"
)

// Store is a concurrency safe set of revoked token identifiers with their
// expiry times.
type Store struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]time.Time)}
}

// IsRevoked reports whether id has been revoked.
func (s *Store) IsRevoked(id string) bool {
	if s == nil || id == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Add marks id as revoked until expiry. Re-adding an identifier keeps the
// later expiry.
func (s *Store) Add(id string, expiry time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[id]; !ok || expiry.After(current) {
		s.entries[id] = expiry
	}
}

// Cleanup removes entries whose expiry is at or before now and returns how
// many were removed.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, expiry := range s.entries {
		if !expiry.After(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of revoked identifiers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
