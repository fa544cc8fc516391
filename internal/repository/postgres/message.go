package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/scriptoria/scriptoria-backend/internal/repository"
)

// MessageRepository implements repository.MessageRepository using PostgreSQL
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a new message
func (r *MessageRepository) Create(ctx context.Context, message repository.Message) (string, error) {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	if len(message.Metadata) == 0 {
		message.Metadata = []byte("{}")
	}

	query := `
		INSERT INTO messages (id, session_id, role, content, stop_reason, tool_calls,
			tool_call_id, tool_name, is_error, created_at, metadata)
		VALUES (:id, :session_id, :role, :content, :stop_reason, :tool_calls,
			:tool_call_id, :tool_name, :is_error, :created_at, :metadata)
	`

	_, err := r.db.NamedExecContext(ctx, query, message)
	if err != nil {
		return "", err
	}

	return message.ID, nil
}

// ListBySession retrieves messages for a session in append order. The seq
// sequence orders appends even when timestamps collide.
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string) ([]repository.Message, error) {
	var messages []repository.Message
	query := `
		SELECT id, seq, session_id, role, content, stop_reason, tool_calls,
			tool_call_id, tool_name, is_error, created_at, metadata
		FROM messages
		WHERE session_id = $1
		ORDER BY seq ASC
	`

	err := r.db.SelectContext(ctx, &messages, query, sessionID)
	if err != nil {
		return nil, err
	}

	return messages, nil
}
