package services

import (
	"context"
	"sync"
	"time"

	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/ports"
)

// MemorySessionStore keeps sessions in process memory. Sessions are lost on
// restart; batches and assets live in the Repository and survive.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
	now      func() time.Time
}

var _ ports.SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[domain.SessionID]domain.Session),
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Create(_ context.Context) (domain.Session, error) {
	s := domain.NewSession(m.now().UTC())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemorySessionStore) Get(_ context.Context, id domain.SessionID) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, nil
}

// Update runs fn under the store lock, so concurrent updates of one session
// serialize and none is lost.
func (m *MemorySessionStore) Update(_ context.Context, id domain.SessionID, fn func(domain.Session) (domain.Session, error)) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	m.sessions[id] = next
	return next, nil
}
