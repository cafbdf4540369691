// Package store persists the API token and first-run state in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Well-known names.
const (
	APIKeyName   = "ycstats.apiKey"
	SeenSetupKey = "ycstats.hasSeenSetup"
)

// KV is the secret and state capability the rest of ycstats depends on.
// Missing secrets read as "" and missing flags as false.
type KV interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
	Flag(key string) (bool, error)
	SetFlag(key string, value bool) error
}

// Store is the SQLite-backed KV.
type Store struct {
	db *sql.DB
}

var _ KV = (*Store)(nil)

// Open opens or creates the state database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// The token is a secret; keep the file private to the user.
	_ = os.Chmod(dbPath, 0o600)

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the secret stored under name, or "" if there is none.
func (s *Store) Get(name string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM secrets WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", name, err)
	}
	return value, nil
}

// Set stores value under name, replacing any previous value.
func (s *Store) Set(name, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO secrets (name, value, updated_at)
		VALUES (?, ?, ?)`, name, value, now())
	if err != nil {
		return fmt.Errorf("writing secret %s: %w", name, err)
	}
	return nil
}

// Delete removes the secret stored under name. Deleting a missing name is not an error.
func (s *Store) Delete(name string) error {
	if _, err := s.db.Exec("DELETE FROM secrets WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting secret %s: %w", name, err)
	}
	return nil
}

// Flag reads a boolean state flag.
func (s *Store) Flag(key string) (bool, error) {
	var v int
	err := s.db.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading flag %s: %w", key, err)
	}
	return v != 0, nil
}

// SetFlag writes a boolean state flag.
func (s *Store) SetFlag(key string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO state (key, value, updated_at)
		VALUES (?, ?, ?)`, key, v, now())
	if err != nil {
		return fmt.Errorf("writing flag %s: %w", key, err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
