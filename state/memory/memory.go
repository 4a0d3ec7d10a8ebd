package memory

import (
	"context"
	"sync"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/state"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]migration.Token
}

// NewStore returns a process-local store. Its content does not survive a restart.
func NewStore() state.Store {
	return &memoryStore{
		values: make(map[string]migration.Token),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) (migration.Token, bool, error) {
	if key == "" {
		return "", false, state.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.values[key]
	return token, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, token migration.Token) error {
	if key == "" {
		return state.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = token
	return nil
}

func (s *memoryStore) CompareAndSet(_ context.Context, key string, expected, next migration.Token) (bool, error) {
	if key == "" {
		return false, state.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.values[key]
	if !ok || current != expected {
		return false, nil
	}
	s.values[key] = next

	return true, nil
}
