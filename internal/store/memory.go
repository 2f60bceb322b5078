package store

import (
	"context"
	"sync"
	"time"
)

type memorySession struct {
	session Session
	turns   []Turn
}

// MemoryStore keeps transcripts in process memory. It does not survive a
// restart and is meant for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &memorySession{
		session: Session{ID: sessionID, CreatedAt: m.now(), ExpiresAt: expiresAt},
	}
	return nil
}

func (m *MemoryStore) Lookup(ctx context.Context, sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.session.Expired(m.now()) {
		return Session{}, ErrSessionExpired
	}
	return s.session, nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return []Turn{}, nil
	}
	if s.session.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	now := m.now()
	if !ok || s.session.Expired(now) {
		return ErrSessionExpired
	}
	s.turns = append(s.turns, stamp(turns, now)...)
	return nil
}

func (m *MemoryStore) Destroy(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int
	for id, s := range m.sessions {
		if s.session.Expired(now) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}
