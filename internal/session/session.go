// Package session holds the client-side evidence of authentication: an auth
// token and the username it belongs to, persisted per client.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/raine/skinanalyze/internal/storage"
	"github.com/rs/zerolog/log"
)

// ErrIncomplete is returned by Set when token or username is empty.
var ErrIncomplete = errors.New("token and username are both required")

// Session is the current authentication state of one client.
// The zero value means logged out.
type Session struct {
	Token    string
	Username string
}

// LoggedIn reports whether the session carries a token.
func (s Session) LoggedIn() bool {
	return s.Token != "" && s.Username != ""
}

// Change is published to subscribers whenever a client's session is set or cleared.
type Change struct {
	ClientID string
	Session  Session
}

// Store is the single source of truth for "is this client logged in".
type Store struct {
	backend storage.SessionStore

	mu          sync.Mutex
	subscribers map[string]map[int]chan Change
	nextID      int
}

// NewStore wraps a persistent session backend.
func NewStore(backend storage.SessionStore) *Store {
	return &Store{
		backend:     backend,
		subscribers: make(map[string]map[int]chan Change),
	}
}

// Get returns the client's session. Read failures are logged and reported as
// logged out.
func (s *Store) Get(clientID string) Session {
	stored, err := s.backend.Get(clientID)
	if err != nil {
		log.Warn().Err(err).Str("clientId", clientID).Msg("failed to read session, treating as logged out")
		return Session{}
	}
	if stored == nil || stored.Token == "" || stored.Username == "" {
		return Session{}
	}
	return Session{Token: stored.Token, Username: stored.Username}
}

// Set persists token and username together. It returns after the write is
// durable, so a navigation issued afterwards observes the new session.
func (s *Store) Set(clientID, token, username string) error {
	if token == "" || username == "" {
		return ErrIncomplete
	}
	err := s.backend.Save(&storage.StoredSession{
		ClientID: clientID,
		Username: username,
		Token:    token,
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	log.Info().Str("clientId", clientID).Str("username", username).Msg("session set")
	s.publish(Change{ClientID: clientID, Session: Session{Token: token, Username: username}})
	return nil
}

// Clear removes both token and username.
func (s *Store) Clear(clientID string) error {
	if err := s.backend.Delete(clientID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	log.Info().Str("clientId", clientID).Msg("session cleared")
	s.publish(Change{ClientID: clientID})
	return nil
}

// Subscribe registers for session changes of one client. The returned cancel
// func must be called to release the subscription.
func (s *Store) Subscribe(clientID string) (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Change, 4)
	if s.subscribers[clientID] == nil {
		s.subscribers[clientID] = make(map[int]chan Change)
	}
	s.subscribers[clientID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[clientID], id)
			if len(s.subscribers[clientID]) == 0 {
				delete(s.subscribers, clientID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publish(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[change.ClientID] {
		// Slow subscribers miss intermediate changes; they re-read on the next navigation anyway
		select {
		case ch <- change:
		default:
			log.Debug().Str("clientId", change.ClientID).Msg("dropped session change for slow subscriber")
		}
	}
}
