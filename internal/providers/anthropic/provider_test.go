package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter("anthropic", config.ProviderConfig{
		Type:   "anthropic",
		Name:   "Anthropic",
		APIKey: "test-key",
	})
	require.NoError(t, err)
	return a
}

func TestNewAdapter_RequiresAPIKey(t *testing.T) {
	_, err := NewAdapter("anthropic", config.ProviderConfig{Type: "anthropic"})
	assert.Error(t, err)
}

func TestNormalizeRequest_SplitsSystemMessage(t *testing.T) {
	a := testAdapter(t)

	req := providers.CompletionRequest{
		Model: "claude-3-sonnet-20240229",
		Messages: []providers.Message{
			{Role: "system", Content: "You are a writing assistant."},
			{Role: "user", Content: "Improve this paragraph."},
		},
		MaxTokens: 1024,
	}

	out := a.normalizeRequest(req)

	assert.Equal(t, "You are a writing assistant.", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "Improve this paragraph.", out.Messages[0].Content[0].Text)
	assert.Equal(t, 1024, out.MaxTokens)

	// The system message must not be duplicated into the list
	for _, m := range out.Messages {
		assert.NotEqual(t, "system", m.Role)
	}
}

func TestNormalizeRequest_DefaultMaxTokens(t *testing.T) {
	a := testAdapter(t)

	out := a.normalizeRequest(providers.CompletionRequest{
		Model:    "claude-3-haiku-20240307",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})

	assert.Equal(t, defaultMaxTokens, out.MaxTokens)
}

func TestNormalizeRequest_ToolResultBecomesUserMessage(t *testing.T) {
	a := testAdapter(t)

	out := a.normalizeRequest(providers.CompletionRequest{
		Model: "claude-3-sonnet-20240229",
		Messages: []providers.Message{
			{Role: "user", Content: "search for papers"},
			{
				Role:    "assistant",
				Content: "Let me search.",
				ToolCalls: []providers.ToolCall{
					{ID: "toolu_01", Name: "search", Input: json.RawMessage(`{"query":"llm"}`)},
				},
			},
			{Role: "tool", ToolCallID: "toolu_01", ToolName: "search", Content: "3 results"},
		},
	})

	require.Len(t, out.Messages, 3)

	assistant := out.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)
	assert.Equal(t, "toolu_01", assistant.Content[1].ID)

	result := out.Messages[2]
	assert.Equal(t, "user", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "toolu_01", result.Content[0].ToolUseID)
	assert.Equal(t, "3 results", result.Content[0].Content)
}

func TestNormalizeRequest_FailedToolResultCarriesErrorFlag(t *testing.T) {
	a := testAdapter(t)

	out := a.normalizeRequest(providers.CompletionRequest{
		Model: "claude-3-sonnet-20240229",
		Messages: []providers.Message{
			{Role: "user", Content: "search for papers"},
			{
				Role: "assistant",
				ToolCalls: []providers.ToolCall{
					{ID: "toolu_01", Name: "search", Input: json.RawMessage(`{}`)},
				},
			},
			{Role: "tool", ToolCallID: "toolu_01", ToolName: "search", Content: "connection refused", IsError: true},
		},
	})

	require.Len(t, out.Messages, 3)
	result := out.Messages[2].Content[0]
	assert.Equal(t, "tool_result", result.Type)
	assert.True(t, result.IsError)

	// Successful results stay unflagged
	out = a.normalizeRequest(providers.CompletionRequest{
		Model: "claude-3-sonnet-20240229",
		Messages: []providers.Message{
			{Role: "tool", ToolCallID: "toolu_01", Content: "3 results"},
		},
	})
	assert.False(t, out.Messages[0].Content[0].IsError)
}

func TestNormalizeRequest_ToolDefinitions(t *testing.T) {
	a := testAdapter(t)

	out := a.normalizeRequest(providers.CompletionRequest{
		Model:    "claude-3-sonnet-20240229",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Tools: []providers.Tool{
			{
				Name:        "search",
				Description: "Search the literature",
				InputSchema: map[string]interface{}{"type": "object"},
			},
		},
	})

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "search", out.Tools[0].Name)
	assert.Equal(t, "Search the literature", out.Tools[0].Description)
}

func TestNormalizeResponse(t *testing.T) {
	a := testAdapter(t)

	resp := &anthropicResponse{
		ID:    "msg_01",
		Model: "claude-3-sonnet-20240229",
		Content: []anthropicContent{
			{Type: "text", Text: "I'll search for that."},
			{Type: "tool_use", ID: "toolu_01", Name: "search", Input: json.RawMessage(`{"query":"transformers"}`)},
		},
		StopReason: "tool_use",
		Usage:      anthropicUsage{InputTokens: 120, OutputTokens: 45},
	}

	out := a.normalizeResponse(resp)

	assert.Equal(t, "I'll search for that.", out.Content)
	assert.Equal(t, providers.FinishToolUse, out.FinishReason)
	assert.Equal(t, 120, out.Usage.InputTokens)
	assert.Equal(t, 45, out.Usage.OutputTokens)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "toolu_01", out.ToolCalls[0].ID)
	assert.Equal(t, "search", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"transformers"}`, string(out.ToolCalls[0].Input))
}

func TestNormalizeStopReason(t *testing.T) {
	tests := []struct {
		vendor   string
		expected string
	}{
		{"end_turn", providers.FinishEndTurn},
		{"tool_use", providers.FinishToolUse},
		{"max_tokens", providers.FinishMaxTokens},
		{"stop_sequence", providers.FinishStopSequence},
		{"something-new", providers.FinishEndTurn},
	}

	for _, tt := range tests {
		t.Run(tt.vendor, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeStopReason(tt.vendor))
		})
	}
}

func TestStreamAccumulator_ReassemblesFragmentedToolCall(t *testing.T) {
	acc := newStreamAccumulator()

	events := []anthropicStreamEvent{
		{
			Type:    "message_start",
			Message: &anthropicResponse{Usage: anthropicUsage{InputTokens: 200}},
		},
		{
			Type:         "content_block_start",
			Index:        0,
			ContentBlock: &anthropicContent{Type: "tool_use", ID: "toolu_01", Name: "search"},
		},
		{Type: "content_block_delta", Index: 0, Delta: &anthropicStreamDelta{Type: "input_json_delta", PartialJSON: `{"query":`}},
		{Type: "content_block_delta", Index: 0, Delta: &anthropicStreamDelta{Type: "input_json_delta", PartialJSON: `"deep lear`}},
		{Type: "content_block_delta", Index: 0, Delta: &anthropicStreamDelta{Type: "input_json_delta", PartialJSON: `ning","max":5}`}},
		{
			Type:  "message_delta",
			Delta: &anthropicStreamDelta{StopReason: "tool_use"},
			Usage: &anthropicUsage{OutputTokens: 60},
		},
	}

	var started *providers.ToolCallStart
	for i := range events {
		chunk, done := acc.apply(&events[i])
		assert.False(t, done)
		if chunk != nil && chunk.ToolCallStarted != nil {
			started = chunk.ToolCallStarted
		}
	}

	require.NotNil(t, started)
	assert.Equal(t, "toolu_01", started.ID)
	assert.Equal(t, "search", started.Name)

	terminal := acc.terminalChunk()
	assert.True(t, terminal.Done)
	assert.Equal(t, providers.FinishToolUse, terminal.FinishReason)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 200, terminal.Usage.InputTokens)
	assert.Equal(t, 60, terminal.Usage.OutputTokens)

	require.Len(t, terminal.ToolCalls, 1)
	var input map[string]interface{}
	require.NoError(t, json.Unmarshal(terminal.ToolCalls[0].Input, &input))
	assert.Equal(t, "deep learning", input["query"])
	assert.Equal(t, float64(5), input["max"])
}

func TestStreamAccumulator_TextDeltas(t *testing.T) {
	acc := newStreamAccumulator()

	chunk, done := acc.apply(&anthropicStreamEvent{
		Type:  "content_block_delta",
		Delta: &anthropicStreamDelta{Type: "text_delta", Text: "Hello"},
	})
	assert.False(t, done)
	require.NotNil(t, chunk)
	assert.Equal(t, "Hello", chunk.Content)

	_, done = acc.apply(&anthropicStreamEvent{Type: "message_stop"})
	assert.True(t, done)

	terminal := acc.terminalChunk()
	assert.True(t, terminal.Done)
	assert.Empty(t, terminal.ToolCalls)
	assert.Equal(t, providers.FinishEndTurn, terminal.FinishReason)
}
