package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
	"github.com/scriptoria/scriptoria-backend/internal/repository"
)

// DocumentContext snapshots what the user had selected in the editor
// when they sent a message.
type DocumentContext struct {
	FileName     string `json:"file_name"`
	LineStart    int    `json:"line_start,omitempty"`
	LineEnd      int    `json:"line_end,omitempty"`
	SelectedText string `json:"selected_text,omitempty"`
}

// AssistantMetadata is persisted with every assistant message.
type AssistantMetadata struct {
	Model       string          `json:"model"`
	Provider    string          `json:"provider"`
	TokensUsed  providers.Usage `json:"tokens_used"`
	LatencyMs   int64           `json:"latency_ms"`
	Interrupted bool            `json:"interrupted,omitempty"`
}

// userMetadata is the metadata envelope on user messages.
type userMetadata struct {
	DocumentContext *DocumentContext `json:"document_context,omitempty"`
}

// ConversationStore owns session and message lifecycles: append-only
// message log per (project, user) session with atomically maintained
// counters. Appends validate before persisting and fail loudly; a
// silently dropped message would corrupt downstream token accounting.
type ConversationStore struct {
	sessions repository.SessionRepository
	messages repository.MessageRepository
	tracker  *llm.CostTracker
	logger   *logrus.Logger
}

// NewConversationStore creates a conversation store
func NewConversationStore(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	tracker *llm.CostTracker,
	logger *logrus.Logger,
) *ConversationStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConversationStore{
		sessions: sessions,
		messages: messages,
		tracker:  tracker,
		logger:   logger,
	}
}

// GetOrCreateSession returns the active session for (project, user),
// creating one lazily when none exists
func (s *ConversationStore) GetOrCreateSession(ctx context.Context, projectID, userID string) (*repository.Session, error) {
	session, err := s.sessions.GetActive(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	id, err := s.sessions.Create(ctx, repository.Session{
		ProjectID: projectID,
		UserID:    userID,
		Title:     "New conversation",
		Status:    repository.SessionActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session": id,
		"project": projectID,
		"user":    userID,
	}).Debug("session created")

	return s.sessions.Get(ctx, id)
}

// GetSession returns a session by id
func (s *ConversationStore) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	return s.sessions.Get(ctx, id)
}

// ListSessions returns all sessions for a user
func (s *ConversationStore) ListSessions(ctx context.Context, userID string) ([]*repository.Session, error) {
	return s.sessions.List(ctx, userID)
}

// ArchiveSession transitions a session to archived. Sessions are never
// physically deleted.
func (s *ConversationStore) ArchiveSession(ctx context.Context, id string) error {
	return s.sessions.SetStatus(ctx, id, repository.SessionArchived)
}

// SetModelPreference records the session's default (provider, model)
func (s *ConversationStore) SetModelPreference(ctx context.Context, id, provider, model string) error {
	return s.sessions.SetModelPreference(ctx, id, provider, model)
}

// AddUserMessage appends a user message
func (s *ConversationStore) AddUserMessage(ctx context.Context, sessionID, content string, docCtx *DocumentContext) (string, error) {
	metadata, err := json.Marshal(userMetadata{DocumentContext: docCtx})
	if err != nil {
		return "", err
	}

	id, err := s.messages.Create(ctx, repository.Message{
		SessionID: sessionID,
		Role:      providers.RoleUser,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist user message: %w", err)
	}

	if err := s.sessions.ApplyCounters(ctx, sessionID, repository.CounterDelta{Messages: 1}); err != nil {
		return "", fmt.Errorf("failed to update session counters: %w", err)
	}

	return id, nil
}

// AddAssistantMessage appends an assistant message and bumps the message,
// tool-call, token, and cost counters in one delta
func (s *ConversationStore) AddAssistantMessage(
	ctx context.Context,
	sessionID, content, stopReason string,
	toolCalls []providers.ToolCall,
	meta AssistantMetadata,
) (string, error) {
	metadata, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	msg := repository.Message{
		SessionID:  sessionID,
		Role:       providers.RoleAssistant,
		Content:    content,
		StopReason: sql.NullString{String: stopReason, Valid: stopReason != ""},
		Metadata:   metadata,
	}

	if len(toolCalls) > 0 {
		encoded, err := json.Marshal(toolCalls)
		if err != nil {
			return "", err
		}
		msg.ToolCalls = sql.NullString{String: string(encoded), Valid: true}
	}

	id, err := s.messages.Create(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to persist assistant message: %w", err)
	}

	cost := 0.0
	if s.tracker != nil {
		cost = s.tracker.Cost(meta.Provider, meta.Model, meta.TokensUsed)
	}

	err = s.sessions.ApplyCounters(ctx, sessionID, repository.CounterDelta{
		Messages:     1,
		ToolCalls:    len(toolCalls),
		InputTokens:  meta.TokensUsed.InputTokens,
		OutputTokens: meta.TokensUsed.OutputTokens,
		Cost:         cost,
	})
	if err != nil {
		return "", fmt.Errorf("failed to update session counters: %w", err)
	}

	return id, nil
}

// AddToolResultMessage appends a tool-result message. The referenced call
// id must belong to a preceding assistant message and must not have been
// answered yet; anything else is rejected before persistence.
func (s *ConversationStore) AddToolResultMessage(
	ctx context.Context,
	sessionID, toolCallID, toolName, content string,
	isError bool,
) (string, error) {
	msgs, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load session messages: %w", err)
	}

	pending, err := pendingToolCalls(msgs)
	if err != nil {
		return "", err
	}
	if _, ok := pending[toolCallID]; !ok {
		return "", &llm.ValidationError{
			Reason: fmt.Sprintf("tool result references call %q with no pending tool call", toolCallID),
		}
	}

	id, err := s.messages.Create(ctx, repository.Message{
		SessionID:  sessionID,
		Role:       providers.RoleTool,
		Content:    content,
		ToolCallID: sql.NullString{String: toolCallID, Valid: true},
		ToolName:   sql.NullString{String: toolName, Valid: true},
		IsError:    isError,
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist tool result: %w", err)
	}

	if err := s.sessions.ApplyCounters(ctx, sessionID, repository.CounterDelta{Messages: 1}); err != nil {
		return "", fmt.Errorf("failed to update session counters: %w", err)
	}

	return id, nil
}

// GetMessages returns the full message log for a session
func (s *ConversationStore) GetMessages(ctx context.Context, sessionID string) ([]repository.Message, error) {
	return s.messages.ListBySession(ctx, sessionID)
}

// GetRecentMessages returns up to limit trailing messages. The window is
// extended backward so that it never opens on a tool-result whose tool
// call was truncated away: tool results immediately follow their owning
// assistant message, so walking back to the first non-tool message keeps
// every emitted pair intact.
func (s *ConversationStore) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]repository.Message, error) {
	msgs, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || len(msgs) <= limit {
		return msgs, nil
	}

	start := len(msgs) - limit
	for start > 0 && msgs[start].Role == providers.RoleTool {
		start--
	}

	return msgs[start:], nil
}

// BuildContext converts persisted messages into the canonical request
// shape sent to providers
func BuildContext(msgs []repository.Message) ([]providers.Message, error) {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		pm := providers.Message{
			Role:    m.Role,
			Content: m.Content,
			IsError: m.IsError,
		}
		if m.ToolCalls.Valid {
			if err := json.Unmarshal([]byte(m.ToolCalls.String), &pm.ToolCalls); err != nil {
				return nil, fmt.Errorf("corrupt tool_calls on message %s: %w", m.ID, err)
			}
		}
		if m.ToolCallID.Valid {
			pm.ToolCallID = m.ToolCallID.String
		}
		if m.ToolName.Valid {
			pm.ToolName = m.ToolName.String
		}
		out = append(out, pm)
	}
	return out, nil
}

// ReplayUsage re-feeds a session's persisted assistant usage into a cost
// tracker. The tracker is a cache; this rebuilds it from the source of
// truth.
func (s *ConversationStore) ReplayUsage(ctx context.Context, sessionID string, tracker *llm.CostTracker) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	msgs, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if m.Role != providers.RoleAssistant {
			continue
		}
		var meta AssistantMetadata
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			return fmt.Errorf("corrupt metadata on message %s: %w", m.ID, err)
		}
		tracker.Track(llm.TrackInput{
			Provider:  meta.Provider,
			Model:     meta.Model,
			Usage:     meta.TokensUsed,
			UserID:    session.UserID,
			ProjectID: session.ProjectID,
		})
	}
	return nil
}

// pendingToolCalls collects tool calls emitted by assistant messages that
// have no tool-result answer yet, keyed by call id
func pendingToolCalls(msgs []repository.Message) (map[string]string, error) {
	pending := make(map[string]string)
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleAssistant:
			if !m.ToolCalls.Valid {
				continue
			}
			var calls []providers.ToolCall
			if err := json.Unmarshal([]byte(m.ToolCalls.String), &calls); err != nil {
				return nil, fmt.Errorf("corrupt tool_calls on message %s: %w", m.ID, err)
			}
			for _, c := range calls {
				pending[c.ID] = c.Name
			}
		case providers.RoleTool:
			if m.ToolCallID.Valid {
				delete(pending, m.ToolCallID.String)
			}
		}
	}
	return pending, nil
}
