package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
	"github.com/scriptoria/scriptoria-backend/internal/repository"
	"github.com/scriptoria/scriptoria-backend/internal/repository/memory"
)

func newTestStore() (*ConversationStore, *llm.CostTracker) {
	tracker := llm.NewCostTracker()
	store := NewConversationStore(
		memory.NewSessionRepository(),
		memory.NewMessageRepository(),
		tracker,
		nil,
	)
	return store, tracker
}

func TestGetOrCreateSession_Lazy(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	first, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, repository.SessionActive, first.Status)

	// A second call for the same (project, user) reuses the session
	second, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A different project gets its own session
	other, err := store.GetOrCreateSession(ctx, "proj-2", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateSession_ArchivedIsNotReused(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	first, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, store.ArchiveSession(ctx, first.ID))

	second, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAddMessages_MaintainsCounters(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)

	_, err = store.AddUserMessage(ctx, session.ID, "search for papers", nil)
	require.NoError(t, err)

	calls := []providers.ToolCall{
		{ID: "toolu_01", Name: "search", Input: json.RawMessage(`{"query":"llm"}`)},
	}
	_, err = store.AddAssistantMessage(ctx, session.ID, "Let me search.", providers.FinishToolUse, calls, AssistantMetadata{
		Model:      "claude-3-sonnet-20240229",
		Provider:   "anthropic",
		TokensUsed: providers.Usage{InputTokens: 1000, OutputTokens: 200},
	})
	require.NoError(t, err)

	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_01", "search", "3 results", false)
	require.NoError(t, err)

	session, err = store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, session.MessageCount)
	assert.Equal(t, 1, session.ToolCallCount)
	assert.Equal(t, 1000, session.InputTokens)
	assert.Equal(t, 200, session.OutputTokens)
	assert.Greater(t, session.TotalCost, 0.0)
}

func TestAddToolResultMessage_RejectsUnknownCallID(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)

	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_nope", "search", "result", false)
	require.Error(t, err)

	var validation *llm.ValidationError
	assert.ErrorAs(t, err, &validation)

	// Nothing was persisted and the counters are untouched
	msgs, err := store.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAddToolResultMessage_RejectsDuplicateAnswer(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)

	calls := []providers.ToolCall{
		{ID: "toolu_01", Name: "search", Input: json.RawMessage(`{}`)},
	}
	_, err = store.AddAssistantMessage(ctx, session.ID, "", providers.FinishToolUse, calls, AssistantMetadata{})
	require.NoError(t, err)

	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_01", "search", "first", false)
	require.NoError(t, err)

	// The call is answered; a second result for the same id is invalid
	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_01", "search", "second", false)
	var validation *llm.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestGetRecentMessages_KeepsToolPairsIntact(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)

	// user, assistant(2 tool calls), tool, tool, assistant
	_, err = store.AddUserMessage(ctx, session.ID, "analyze and search", nil)
	require.NoError(t, err)

	calls := []providers.ToolCall{
		{ID: "toolu_01", Name: "search", Input: json.RawMessage(`{}`)},
		{ID: "toolu_02", Name: "read_file", Input: json.RawMessage(`{}`)},
	}
	_, err = store.AddAssistantMessage(ctx, session.ID, "", providers.FinishToolUse, calls, AssistantMetadata{})
	require.NoError(t, err)
	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_01", "search", "r1", false)
	require.NoError(t, err)
	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_02", "read_file", "r2", false)
	require.NoError(t, err)
	_, err = store.AddAssistantMessage(ctx, session.ID, "done", providers.FinishEndTurn, nil, AssistantMetadata{})
	require.NoError(t, err)

	// A naive window of 3 would open on a tool result; the window is
	// extended backward to the owning assistant message instead
	recent, err := store.GetRecentMessages(ctx, session.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, providers.RoleAssistant, recent[0].Role)
	assert.True(t, recent[0].ToolCalls.Valid)

	// A window larger than the log returns everything
	all, err := store.GetRecentMessages(ctx, session.ID, 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestBuildContext(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)

	_, err = store.AddUserMessage(ctx, session.ID, "search for papers", nil)
	require.NoError(t, err)
	calls := []providers.ToolCall{
		{ID: "toolu_01", Name: "search", Input: json.RawMessage(`{"query":"llm"}`)},
	}
	_, err = store.AddAssistantMessage(ctx, session.ID, "Searching.", providers.FinishToolUse, calls, AssistantMetadata{})
	require.NoError(t, err)
	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_01", "search", "3 results", false)
	require.NoError(t, err)

	calls = []providers.ToolCall{
		{ID: "toolu_02", Name: "read_file", Input: json.RawMessage(`{}`)},
	}
	_, err = store.AddAssistantMessage(ctx, session.ID, "", providers.FinishToolUse, calls, AssistantMetadata{})
	require.NoError(t, err)
	_, err = store.AddToolResultMessage(ctx, session.ID, "toolu_02", "read_file", "no such file", true)
	require.NoError(t, err)

	msgs, err := store.GetMessages(ctx, session.ID)
	require.NoError(t, err)

	built, err := BuildContext(msgs)
	require.NoError(t, err)
	require.Len(t, built, 5)

	assert.Equal(t, providers.RoleUser, built[0].Role)
	assert.Equal(t, "search for papers", built[0].Content)

	require.Len(t, built[1].ToolCalls, 1)
	assert.Equal(t, "toolu_01", built[1].ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"llm"}`, string(built[1].ToolCalls[0].Input))

	assert.Equal(t, providers.RoleTool, built[2].Role)
	assert.Equal(t, "toolu_01", built[2].ToolCallID)
	assert.Equal(t, "search", built[2].ToolName)
	assert.False(t, built[2].IsError)

	// The failed result keeps its error flag on the way back out
	assert.Equal(t, providers.RoleTool, built[4].Role)
	assert.True(t, built[4].IsError)
	assert.Equal(t, "no such file", built[4].Content)
}

func TestReplayUsage_RebuildsTracker(t *testing.T) {
	store, tracker := newTestStore()
	ctx := context.Background()

	session, err := store.GetOrCreateSession(ctx, "proj-1", "user-1")
	require.NoError(t, err)

	meta := AssistantMetadata{
		Model:      "claude-3-sonnet-20240229",
		Provider:   "anthropic",
		TokensUsed: providers.Usage{InputTokens: 1000, OutputTokens: 500},
	}
	_, err = store.AddAssistantMessage(ctx, session.ID, "answer", providers.FinishEndTurn, nil, meta)
	require.NoError(t, err)

	tracker.Track(llm.TrackInput{
		Provider:  meta.Provider,
		Model:     meta.Model,
		Usage:     meta.TokensUsed,
		UserID:    "user-1",
		ProjectID: "proj-1",
	})
	before := tracker.UserTotals("user-1")

	// Wipe the cache and replay from the persisted log; the totals come
	// back identical
	tracker.Reset()
	require.NoError(t, store.ReplayUsage(ctx, session.ID, tracker))
	assert.Equal(t, before, tracker.UserTotals("user-1"))
	assert.Equal(t, before.Requests, tracker.ProviderTotals("anthropic").Requests)
}
