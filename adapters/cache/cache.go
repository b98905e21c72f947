// Package cache provides the in-process cache backing session-token and
// role lookups. Eviction here is best-effort bookkeeping; the store
// remains the source of truth.
package cache

import (
	"sync"
	"time"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a TTL cache with separate session-token and role namespaces.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]entry // session token -> user object
	roles  map[string]entry // user id -> []string role names
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:    ttl,
		tokens: make(map[string]entry),
		roles:  make(map[string]entry),
	}
}

// GetUser returns the cached user for a session token.
func (s *Store) GetUser(token string) (object.Map, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[token]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.tokens, token)
		return nil, false
	}
	return e.value.(object.Map), true
}

// PutUser caches the user resolved from a session token.
func (s *Store) PutUser(token string, user object.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = entry{value: user, expiresAt: time.Now().Add(s.ttl)}
}

// DropUserToken evicts one cached session token.
func (s *Store) DropUserToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// GetRoles returns the cached role names for a user.
func (s *Store) GetRoles(userID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.roles[userID]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.roles, userID)
		return nil, false
	}
	return e.value.([]string), true
}

// PutRoles caches the role names for a user.
func (s *Store) PutRoles(userID string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = entry{value: names, expiresAt: time.Now().Add(s.ttl)}
}

// ClearRoles drops every cached role entry.
func (s *Store) ClearRoles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = make(map[string]entry)
}

// Ensure interface compliance.
var _ ports.CacheController = (*Store)(nil)
