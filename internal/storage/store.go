package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrIncompleteSession is returned when a session would be persisted without
// both a token and a username.
var ErrIncompleteSession = errors.New("session requires both token and username")

// StoredSession represents a persisted client session.
type StoredSession struct {
	ClientID    string
	Username    string
	Token       string
	LastUpdated time.Time
}

// SessionStore defines the interface for session persistence.
type SessionStore interface {
	Get(clientID string) (*StoredSession, error)
	Save(session *StoredSession) error
	Delete(clientID string) error
	Close() error
}

// SQLiteStore implements SessionStore using SQLite with encrypted tokens.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based session store.
// The dbPath is the path to the SQLite database file.
// The encryptionKey is used to encrypt/decrypt the auth token.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// WAL mode and busy timeout so concurrent HTTP handlers don't trip over each other
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		client_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		encrypted_token TEXT NOT NULL,
		last_updated DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// Get retrieves a session by client ID.
// Returns nil, nil if the session doesn't exist.
func (s *SQLiteStore) Get(clientID string) (*StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var username, encryptedToken string
	var lastUpdated time.Time

	err := s.db.QueryRow(
		"SELECT username, encrypted_token, last_updated FROM sessions WHERE client_id = ?",
		clientID,
	).Scan(&username, &encryptedToken, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	token, err := Decrypt(encryptedToken, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	return &StoredSession{
		ClientID:    clientID,
		Username:    username,
		Token:       string(token),
		LastUpdated: lastUpdated,
	}, nil
}

// Save stores or updates a session. Token and username are written in a
// single statement so a reader never sees one without the other.
func (s *SQLiteStore) Save(session *StoredSession) error {
	if session.Token == "" || session.Username == "" {
		return ErrIncompleteSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encryptedToken, err := Encrypt([]byte(session.Token), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	session.LastUpdated = time.Now()

	_, err = s.db.Exec(`
		INSERT INTO sessions (client_id, username, encrypted_token, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			username = excluded.username,
			encrypted_token = excluded.encrypted_token,
			last_updated = excluded.last_updated
	`, session.ClientID, session.Username, encryptedToken, session.LastUpdated)

	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Delete removes a session by client ID.
func (s *SQLiteStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM sessions WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
