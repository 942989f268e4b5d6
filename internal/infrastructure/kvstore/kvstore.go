// Package kvstore is a namespaced string key/value store on top of the
// SQLite database. It holds small integration settings such as the
// selected timer type.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/timerly-core/internal/infrastructure/database"
)

// ErrEmptyKey is returned when a key is blank.
var ErrEmptyKey = errors.New("kvstore: empty key")

// Store reads and writes keys within one namespace.
type Store struct {
	db        *database.DB
	namespace string
}

// New returns a Store scoped to namespace.
func New(db *database.DB, namespace string) *Store {
	return &Store{db: db, namespace: namespace}
}

// Get returns the value for key. The boolean is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE namespace = ? AND key = ?",
		s.namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s: %w", s.namespace, key, err)
	}
	return value, true, nil
}

// Set inserts or replaces key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.namespace, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_store WHERE namespace = ? AND key = ?", s.namespace, key,
	); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", s.namespace, key, err)
	}
	return nil
}
