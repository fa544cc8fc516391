package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/scriptoria/scriptoria-backend/internal/repository"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, session repository.Session) (string, error) {
	session.ID = uuid.New().String()
	if session.Status == "" {
		session.Status = repository.SessionActive
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt

	query := `
		INSERT INTO sessions (id, project_id, user_id, title, status, provider, model,
			message_count, tool_call_count, input_tokens, output_tokens, total_cost,
			created_at, updated_at)
		VALUES (:id, :project_id, :user_id, :title, :status, :provider, :model,
			:message_count, :tool_call_count, :input_tokens, :output_tokens, :total_cost,
			:created_at, :updated_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return "", err
	}

	return session.ID, nil
}

// Get retrieves a session by id
func (r *SessionRepository) Get(ctx context.Context, id string) (*repository.Session, error) {
	var session repository.Session
	query := `SELECT * FROM sessions WHERE id = $1`

	err := r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// GetActive retrieves the active session for (project, user), or nil
func (r *SessionRepository) GetActive(ctx context.Context, projectID, userID string) (*repository.Session, error) {
	var session repository.Session
	query := `
		SELECT * FROM sessions
		WHERE project_id = $1 AND user_id = $2 AND status = $3
		ORDER BY updated_at DESC
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &session, query, projectID, userID, repository.SessionActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// List retrieves all sessions for a user
func (r *SessionRepository) List(ctx context.Context, userID string) ([]*repository.Session, error) {
	var sessions []*repository.Session
	query := `SELECT * FROM sessions WHERE user_id = $1 ORDER BY updated_at DESC`

	err := r.db.SelectContext(ctx, &sessions, query, userID)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// ApplyCounters atomically increments session counters
func (r *SessionRepository) ApplyCounters(ctx context.Context, id string, delta repository.CounterDelta) error {
	query := `
		UPDATE sessions SET
			message_count = message_count + $2,
			tool_call_count = tool_call_count + $3,
			input_tokens = input_tokens + $4,
			output_tokens = output_tokens + $5,
			total_cost = total_cost + $6,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id,
		delta.Messages, delta.ToolCalls, delta.InputTokens, delta.OutputTokens, delta.Cost)
	return err
}

// SetModelPreference updates the session's default provider and model
func (r *SessionRepository) SetModelPreference(ctx context.Context, id, provider, model string) error {
	query := `UPDATE sessions SET provider = $2, model = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, provider, model)
	return err
}

// SetStatus transitions the session lifecycle status
func (r *SessionRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE sessions SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status)
	return err
}
