package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mjuhola/sessionguard/internal/api"
)

// ErrNoCredentials is returned by Load when no pair has been persisted.
var ErrNoCredentials = errors.New("no stored credentials")

// CredentialStore persists the token pair across process restarts. Both
// tokens are saved and deleted together; there is no partial state.
type CredentialStore interface {
	Save(ctx context.Context, pair api.TokenPair) error
	Load(ctx context.Context) (*api.TokenPair, error)
	Delete(ctx context.Context) error
	Close() error
}

// SQLiteStore implements CredentialStore using SQLite with the token pair
// encrypted at rest.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based credential store.
// The encryptionKey is used to encrypt/decrypt the stored token pair.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Best effort; the file may not exist until the first write.
	_ = os.Chmod(dbPath, 0600)

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		encrypted_pair TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}

	return nil
}

// Save stores or replaces the persisted token pair.
func (s *SQLiteStore) Save(ctx context.Context, pair api.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairJSON, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal token pair: %w", err)
	}

	encrypted, err := Encrypt(pairJSON, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt token pair: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, encrypted_pair, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			encrypted_pair = excluded.encrypted_pair,
			updated_at = excluded.updated_at
	`, encrypted, time.Now())

	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	return nil
}

// Load retrieves the persisted token pair. Returns ErrNoCredentials if
// nothing has been saved.
func (s *SQLiteStore) Load(ctx context.Context) (*api.TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	err := s.db.QueryRowContext(ctx,
		"SELECT encrypted_pair FROM credentials WHERE id = 1",
	).Scan(&encrypted)

	if err == sql.ErrNoRows {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	pairJSON, err := Decrypt(encrypted, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token pair: %w", err)
	}

	var pair api.TokenPair
	if err := json.Unmarshal(pairJSON, &pair); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token pair: %w", err)
	}

	return &pair, nil
}

// Delete removes the persisted token pair. Deleting an empty store is not
// an error.
func (s *SQLiteStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = 1")
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-memory CredentialStore for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.Mutex
	pair *api.TokenPair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, pair api.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pair
	s.pair = &p
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (*api.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return nil, ErrNoCredentials
	}
	p := *s.pair
	return &p, nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
