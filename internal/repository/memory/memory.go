// Package memory provides in-memory repository implementations, used by
// tests and for running the service without a database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scriptoria/scriptoria-backend/internal/repository"
)

// SessionRepository is a map-backed repository.SessionRepository
type SessionRepository struct {
	sessions map[string]*repository.Session
	order    []string
	mu       sync.RWMutex
}

// NewSessionRepository creates an in-memory session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*repository.Session),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session repository.Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session.ID = uuid.New().String()
	if session.Status == "" {
		session.Status = repository.SessionActive
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt

	s := session
	r.sessions[s.ID] = &s
	r.order = append(r.order, s.ID)
	return s.ID, nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	copied := *s
	return &copied, nil
}

func (r *SessionRepository) GetActive(ctx context.Context, projectID, userID string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Last created wins, matching the SQL ORDER BY updated_at DESC
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.sessions[r.order[i]]
		if s.ProjectID == projectID && s.UserID == userID && s.Status == repository.SessionActive {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *SessionRepository) List(ctx context.Context, userID string) ([]*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*repository.Session
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.sessions[r.order[i]]
		if s.UserID == userID {
			copied := *s
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (r *SessionRepository) ApplyCounters(ctx context.Context, id string, delta repository.CounterDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.MessageCount += delta.Messages
	s.ToolCallCount += delta.ToolCalls
	s.InputTokens += delta.InputTokens
	s.OutputTokens += delta.OutputTokens
	s.TotalCost += delta.Cost
	s.UpdatedAt = time.Now()
	return nil
}

func (r *SessionRepository) SetModelPreference(ctx context.Context, id, provider, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Provider.String = provider
	s.Provider.Valid = provider != ""
	s.Model.String = model
	s.Model.Valid = model != ""
	s.UpdatedAt = time.Now()
	return nil
}

func (r *SessionRepository) SetStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

// MessageRepository is a slice-backed repository.MessageRepository
type MessageRepository struct {
	messages map[string][]repository.Message // keyed by session id
	nextSeq  int64
	mu       sync.RWMutex
}

// NewMessageRepository creates an in-memory message repository
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[string][]repository.Message),
	}
}

func (r *MessageRepository) Create(ctx context.Context, message repository.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	r.nextSeq++
	message.Seq = r.nextSeq
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	if len(message.Metadata) == 0 {
		message.Metadata = []byte("{}")
	}

	r.messages[message.SessionID] = append(r.messages[message.SessionID], message)
	return message.ID, nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string) ([]repository.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[sessionID]
	out := make([]repository.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
