package storage

import (
	"sync"
	"time"
)

// MemoryStore is a SessionStore that keeps sessions in process memory.
// Used in tests and when no database path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]StoredSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]StoredSession)}
}

func (m *MemoryStore) Get(clientID string) (*StoredSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Save(session *StoredSession) error {
	if session.Token == "" || session.Username == "" {
		return ErrIncompleteSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.LastUpdated = time.Now()
	m.sessions[session.ClientID] = *session
	return nil
}

func (m *MemoryStore) Delete(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, clientID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
