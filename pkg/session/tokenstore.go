package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// TokenStore persists the backend auth token, the only artifact this
// subsystem ever persists. Two locations exist: a tab-scoped in-memory
// slot and an optional durable file. Clear wipes both synchronously;
// logout must not return while a copy of the token survives anywhere.
type TokenStore struct {
	mu      sync.Mutex
	session string
	path    string // durable file; empty disables durable storage
	log     *logrus.Logger
}

// NewTokenStore creates a store. durablePath may be empty for
// memory-only operation.
func NewTokenStore(durablePath string, log *logrus.Logger) *TokenStore {
	return &TokenStore{path: durablePath, log: log}
}

// Save records the token in the tab-scoped slot and, when requested and
// configured, in the durable file.
func (t *TokenStore) Save(token string, durable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.session = token

	if !durable || t.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(t.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// Load returns the stored token, preferring the tab-scoped slot over the
// durable file. An empty string means no token is stored.
func (t *TokenStore) Load() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != "" {
		return t.session
	}
	if t.path == "" {
		return ""
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.WithError(err).Warn("Failed to read durable token")
		}
		return ""
	}
	return string(data)
}

// Clear erases the token from every location before returning. Removal
// errors other than absence are reported, but the in-memory slot is gone
// regardless.
func (t *TokenStore) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.session = ""

	if t.path == "" {
		return nil
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove durable token: %w", err)
	}
	return nil
}
