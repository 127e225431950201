// Package secrets provides the secrets store contract and an in-memory
// implementation. Secrets are owner-scoped named strings, typically LLM
// API keys following the LLM_<FAMILY>_API_KEY convention.
package secrets

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// Secret names are uppercase env-var style identifiers.
var nameRE = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidateName rejects secret names outside the uppercase identifier
// convention.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("invalid secret name %q: must match %s", name, nameRE)
	}
	return nil
}

// Store resolves owner-scoped secrets.
type Store interface {
	// Get returns the secret value for (name, ownerID), or false when the
	// owner has no such secret. An empty ownerID addresses shared secrets.
	Get(ctx context.Context, name, ownerID string) (string, bool)

	// Set stores or replaces a secret for an owner.
	Set(ctx context.Context, name, ownerID, value string) error

	// Delete removes a secret. Deleting a missing secret is not an error.
	Delete(ctx context.Context, name, ownerID string) error
}

// MemStore is a thread-safe in-memory Store for tests and development.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore creates an empty in-memory secrets store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

func secretKey(name, ownerID string) string { return ownerID + "\x00" + name }

// Get returns the secret for (name, ownerID), falling back to the shared
// scope when the owner has no entry.
func (m *MemStore) Get(_ context.Context, name, ownerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[secretKey(name, ownerID)]; ok {
		return v, true
	}
	if ownerID != "" {
		if v, ok := m.values[secretKey(name, "")]; ok {
			return v, true
		}
	}
	return "", false
}

// Set stores or replaces a secret for an owner.
func (m *MemStore) Set(_ context.Context, name, ownerID, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[secretKey(name, ownerID)] = value
	return nil
}

// Delete removes a secret.
func (m *MemStore) Delete(_ context.Context, name, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, secretKey(name, ownerID))
	return nil
}
