package repository

import (
	"context"
	"database/sql"
	"time"
)

// Session lifecycle states. Sessions are never physically deleted;
// archiving is the only delete.
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// Session is one (project, user) conversation with running counters.
type Session struct {
	ID            string         `db:"id"`
	ProjectID     string         `db:"project_id"`
	UserID        string         `db:"user_id"`
	Title         string         `db:"title"`
	Status        string         `db:"status"`
	Provider      sql.NullString `db:"provider"`
	Model         sql.NullString `db:"model"`
	MessageCount  int            `db:"message_count"`
	ToolCallCount int            `db:"tool_call_count"`
	InputTokens   int            `db:"input_tokens"`
	OutputTokens  int            `db:"output_tokens"`
	TotalCost     float64        `db:"total_cost"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Message is one appended conversation message. Role decides which of the
// optional columns are set: assistant messages carry stop_reason and
// tool_calls (JSON array), tool messages carry tool_call_id, tool_name,
// and is_error. Seq is assigned by the store on append and is the sole
// ordering key; timestamps are informational.
type Message struct {
	ID         string         `db:"id"`
	Seq        int64          `db:"seq"`
	SessionID  string         `db:"session_id"`
	Role       string         `db:"role"`
	Content    string         `db:"content"`
	StopReason sql.NullString `db:"stop_reason"`
	ToolCalls  sql.NullString `db:"tool_calls"`
	ToolCallID sql.NullString `db:"tool_call_id"`
	ToolName   sql.NullString `db:"tool_name"`
	IsError    bool           `db:"is_error"`
	CreatedAt  time.Time      `db:"created_at"`
	Metadata   []byte         `db:"metadata"`
}

// CounterDelta is the atomic increment applied to a session alongside one
// message append.
type CounterDelta struct {
	Messages     int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// SessionRepository defines session storage operations
type SessionRepository interface {
	Create(ctx context.Context, session Session) (string, error)
	Get(ctx context.Context, id string) (*Session, error)
	// GetActive returns the active session for (project, user), or nil
	// when none exists
	GetActive(ctx context.Context, projectID, userID string) (*Session, error)
	List(ctx context.Context, userID string) ([]*Session, error)
	ApplyCounters(ctx context.Context, id string, delta CounterDelta) error
	SetModelPreference(ctx context.Context, id, provider, model string) error
	SetStatus(ctx context.Context, id, status string) error
}

// MessageRepository defines message storage operations. The log is
// append-only; there is no update or delete.
type MessageRepository interface {
	Create(ctx context.Context, message Message) (string, error)
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
}
