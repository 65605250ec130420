package memory

import (
	"sync"

	"github.com/stupiduntilnot/glmrelay/internal/model"
)

// DefaultLimit is the default number of remembered exchange pairs.
const DefaultLimit = 50

// Store keeps a bounded, per-user conversation history in process memory.
// Histories are never shared across users and are lost on restart.
type Store struct {
	limit int

	mu        sync.Mutex
	histories map[int64][]model.Message
	users     map[int64]*userLock
}

// userLock is dropped from Store.users once nobody holds or waits on it.
type userLock struct {
	sync.Mutex
	refs int
}

// NewStore creates a store remembering at most limit exchange pairs per user.
// A limit of zero disables memory.
func NewStore(limit int) *Store {
	if limit < 0 {
		limit = 0
	}
	return &Store{
		limit:     limit,
		histories: map[int64][]model.Message{},
		users:     map[int64]*userLock{},
	}
}

// Limit returns the configured number of exchange pairs.
func (s *Store) Limit() int { return s.limit }

// MaxMessages is the history length bound, two entries per exchange.
func (s *Store) MaxMessages() int { return 2 * s.limit }

// Get returns a copy of the user's history, oldest first.
func (s *Store) Get(userID int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[userID]
	if !ok {
		s.histories[userID] = nil
		return []model.Message{}
	}
	out := make([]model.Message, len(h))
	copy(out, h)
	return out
}

// Append adds one exchange and evicts the oldest pairs beyond the bound.
func (s *Store) Append(userID int64, user, assistant model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.histories[userID], user, assistant)
	if bound := s.MaxMessages(); len(h) > bound {
		trimmed := make([]model.Message, bound)
		copy(trimmed, h[len(h)-bound:])
		h = trimmed
	}
	s.histories[userID] = h
}

// Clear drops the user's history entirely.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, userID)
}

// Count returns the number of remembered messages for the user.
func (s *Store) Count(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories[userID])
}

// Users returns how many users currently have a history entry.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

// Lock serializes a read-modify-append sequence for one user. Other users are
// not blocked. The returned func releases the lock.
func (s *Store) Lock(userID int64) func() {
	s.mu.Lock()
	l, ok := s.users[userID]
	if !ok {
		l = &userLock{}
		s.users[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.users, userID)
		}
		s.mu.Unlock()
	}
}
