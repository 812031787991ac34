// Package session persists conversation states between messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/BTreeMap/BookingPipe/internal/store"
)

// ErrNotFound is returned by Load for an unknown session.
var ErrNotFound = errors.New("session not found")

// Store loads and saves conversation states by session id.
type Store interface {
	Load(ctx context.Context, sessionID string) (*models.ConversationState, error)
	Save(ctx context.Context, st *models.ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*SQLStore)(nil)
)

// MemoryStore keeps states in process memory. Loaded states are copies.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*models.ConversationState
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*models.ConversationState)}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, st *models.ConversationState) error {
	if st == nil || st.SessionID == "" {
		return fmt.Errorf("session: state without session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.SessionID] = st.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// SQLStore keeps states in the conversation_sessions table of an SQL appointment store.
type SQLStore struct {
	repo store.SessionRepo
}

// NewSQLStore wraps a SQL backend's session table.
func NewSQLStore(repo store.SessionRepo) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	data, err := s.repo.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: failed to load %s: %w", sessionID, err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	st, err := models.UnmarshalState(data)
	if err != nil {
		return nil, fmt.Errorf("session: failed to decode %s: %w", sessionID, err)
	}
	return st, nil
}

func (s *SQLStore) Save(ctx context.Context, st *models.ConversationState) error {
	if st == nil || st.SessionID == "" {
		return fmt.Errorf("session: state without session id")
	}
	data, err := models.MarshalState(st)
	if err != nil {
		return fmt.Errorf("session: failed to encode %s: %w", st.SessionID, err)
	}
	return s.repo.SaveSession(ctx, st.SessionID, data)
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID)
}

// For picks the session store that matches an appointment store: SQL
// backends share their database, anything else keeps sessions in memory.
func For(appts store.Store) Store {
	if repo, ok := appts.(store.SessionRepo); ok {
		slog.Debug("session.For: using SQL session table")
		return NewSQLStore(repo)
	}
	slog.Debug("session.For: using in-memory sessions")
	return NewMemoryStore()
}
