package credential

import (
	"context"
	"sync"

	"github.com/raphaelgruber/ragone/internal/models"
)

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	stored *Stored
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, token string, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = &Stored{Token: token, User: user}
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (Stored, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stored == nil {
		return Stored{}, false, nil
	}
	return *s.stored, true, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = nil
	return nil
}

func (s *MemoryStore) Token(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stored == nil {
		return "", false
	}
	return s.stored.Token, true
}
