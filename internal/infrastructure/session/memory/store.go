package memory

import (
	"context"
	"sync"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// Store keeps conversation history in process memory. The default backend
// when no database is configured; history disappears on restart.
type Store struct {
	mu         sync.RWMutex
	maxHistory int
	sessions   map[string][]domain.ChatMessage
}

func New(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Store{
		maxHistory: maxHistory,
		sessions:   make(map[string][]domain.ChatMessage),
	}
}

func (s *Store) History(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChatMessage(nil), s.sessions[sessionID]...), nil
}

func (s *Store) Append(_ context.Context, sessionID string, messages ...domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = domain.TrimHistory(append(s.sessions[sessionID], messages...), s.maxHistory)
	return nil
}

func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}
