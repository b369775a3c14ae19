package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	messages map[string][]Message
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

// Save creates or replaces the session record
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

// Get returns a copy of the session
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Complete marks the session completed
func (m *MemoryStore) Complete(ctx context.Context, id, feedback string, score *float64) error {
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = StatusCompleted
	s.Feedback = feedback
	s.Score = score
	m.sessions[id] = s
	return nil
}

// Append adds a message to the session log
func (m *MemoryStore) Append(ctx context.Context, id string, msg Message) error {
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append(m.messages[id], msg)
	return nil
}

// Messages returns the session log in append order
func (m *MemoryStore) Messages(ctx context.Context, id string) ([]Message, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages[id]))
	copy(out, m.messages[id])
	return out, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
