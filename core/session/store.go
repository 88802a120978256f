package session

import (
	"sync"
	"time"
)

// Store is a concurrency-safe map of open sessions keyed by order id.
// Critical sections are short map operations only; callers never hold the
// store lock across network calls.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]*Session),
	}
}

// Put registers a new session. It reports false without overwriting when a
// session for the same order id already exists.
func (s *Store) Put(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.OrderID]; exists {
		return false
	}
	s.sessions[sess.OrderID] = sess
	return true
}

// Get returns the session for an order if present.
func (s *Store) Get(orderID int64) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[orderID]
	return sess, ok
}

// ByBuyer returns the open session owned by the given buyer, if any.
// When a buyer has several open orders the oldest session wins, so replies
// resolve conversations in the order they started.
func (s *Store) ByBuyer(buyerID int64) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Session
	for _, sess := range s.sessions {
		if sess.BuyerID != buyerID {
			continue
		}
		if found == nil ||
			sess.CreatedAt.Before(found.CreatedAt) ||
			(sess.CreatedAt.Equal(found.CreatedAt) && sess.OrderID < found.OrderID) {
			found = sess
		}
	}
	return found, found != nil
}

// Remove deletes the session for an order. Removing an absent order is a no-op.
func (s *Store) Remove(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, orderID)
}

// Len reports the number of open sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepExpired removes and returns sessions idle longer than ttl.
// A ttl of zero disables expiry.
func (s *Store) SweepExpired(ttl time.Duration, now time.Time) []*Session {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > ttl {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	return expired
}

// Clear drops every open session and reports how many were discarded.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions)
	s.sessions = make(map[int64]*Session)
	return n
}
