// Package auth persists the login credentials issued by the remote service.
//
// The store is an explicit dependency passed to the API client rather than
// package-level state: it is loaded once at startup, written on login, and
// cleared on logout or when the server reports a 401.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sdetpro/tcgen/internal/models"
)

// Credentials is the persisted login state.
type Credentials struct {
	AccessToken string      `json:"accessToken"`
	User        models.User `json:"user"`
}

// Store reads and writes credentials under a state directory.
type Store struct {
	path  string
	creds *Credentials
}

// NewStore creates a store backed by credentials.json in stateDir.
// Existing credentials are loaded eagerly; a missing file is not an error.
func NewStore(stateDir string) (*Store, error) {
	s := &Store{path: filepath.Join(stateDir, "credentials.json")}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		// A corrupt file behaves like being logged out.
		return s, nil
	}
	if creds.AccessToken != "" {
		s.creds = &creds
	}
	return s, nil
}

// Token returns the access token, or "" when logged out.
func (s *Store) Token() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.AccessToken
}

// User returns the logged-in user and whether one exists.
func (s *Store) User() (models.User, bool) {
	if s.creds == nil {
		return models.User{}, false
	}
	return s.creds.User, true
}

// Save persists the credentials with owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	s.creds = &creds
	return nil
}

// Clear removes persisted credentials. Clearing an already-empty store is a
// no-op, so a 401 arriving after logout clears at most once.
func (s *Store) Clear() error {
	if s.creds == nil {
		return nil
	}
	s.creds = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
