// Package handoff carries an analysis result from the view that produced it
// to the results view. Entries live in memory only and are consumed once.
package handoff

import (
	"sync"
	"time"

	"github.com/raine/skinanalyze/internal/analysis"
)

// Entry is what the results view renders.
type Entry struct {
	Result analysis.Result
	// ImageRef is a preview data URL for fresh analyses, or the stored image
	// path for history records.
	ImageRef    string
	FromHistory bool

	created time.Time
}

type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{entries: make(map[string]Entry), now: time.Now}
}

// Put replaces any pending entry for the client.
func (s *Store) Put(clientID string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.created = s.now()
	s.entries[clientID] = e
}

// Take returns and removes the pending entry. A second Take, such as a page
// reload, finds nothing.
func (s *Store) Take(clientID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[clientID]
	if ok {
		delete(s.entries, clientID)
	}
	return e, ok
}

// Prune drops entries older than maxAge and returns how many were dropped.
func (s *Store) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	n := 0
	for id, e := range s.entries {
		if e.created.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
