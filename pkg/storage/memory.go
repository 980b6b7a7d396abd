package storage

import (
	"errors"
	"sort"
	"sync"

	"hearing-processor/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// SessionStore is the registry of in-flight and finished sessions. Readers
// always receive copies; mutations go through Update under the write lock.
type SessionStore interface {
	Create(session *models.ProcessingSession) error
	Get(id string) (*models.ProcessingSession, error)
	Update(id string, fn func(*models.ProcessingSession) error) (*models.ProcessingSession, error)
	List(limit int) []*models.ProcessingSession
	Delete(id string) error
}

type memoryStore struct {
	sessions map[string]*models.ProcessingSession
	mu       sync.RWMutex
}

func NewMemoryStore() SessionStore {
	return &memoryStore{
		sessions: make(map[string]*models.ProcessingSession),
	}
}

func (s *memoryStore) Create(session *models.ProcessingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *memoryStore) Get(id string) (*models.ProcessingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Update applies fn to the stored session. If fn returns an error the
// session is left unchanged. The updated snapshot is returned.
func (s *memoryStore) Update(id string, fn func(*models.ProcessingSession) error) (*models.ProcessingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	working := session.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.sessions[id] = working
	return working.Clone(), nil
}

// List returns the newest sessions first. A non-positive limit means all.
func (s *memoryStore) List(limit int) []*models.ProcessingSession {
	s.mu.RLock()
	out := make([]*models.ProcessingSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}
