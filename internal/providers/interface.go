package providers

import (
	"context"
	"encoding/json"
)

// Adapter defines the interface every LLM backend implements.
// Each adapter owns the translation between the canonical types in this
// package and its vendor's wire format; callers never see vendor shapes
// or partially assembled tool calls.
type Adapter interface {
	// Name returns the adapter's display name
	Name() string

	// Complete performs a non-streaming completion
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream performs a streaming completion. The returned channel is
	// finite and non-restartable; exactly one chunk has Done=true and
	// carries the final usage and any tool calls accumulated during the
	// stream. The channel is closed after the terminal chunk.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// HealthCheck reports whether the backend is reachable and which
	// models it serves
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// ValidateConfig validates the adapter configuration
	ValidateConfig() error
}

// Role values for canonical messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Canonical finish reasons. Every vendor stop reason maps onto one of these.
const (
	FinishEndTurn      = "end_turn"
	FinishToolUse      = "tool_use"
	FinishMaxTokens    = "max_tokens"
	FinishStopSequence = "stop_sequence"
)

// CompletionRequest is the vendor-neutral completion request.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
}

// Message is a single conversation message in canonical form. IsError is
// meaningful only on tool messages: it marks the result as a failure the
// backend should react to.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// Tool is a tool definition offered to the backend.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is a backend's request to invoke a tool. Input is always a
// complete JSON object; adapters reassemble streamed argument fragments
// before emitting it.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage is the token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
}

// CompletionResponse is the vendor-neutral completion result.
type CompletionResponse struct {
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage      `json:"usage"`
	Model        string     `json:"model,omitempty"`
}

// ToolCallStart announces that the backend began emitting a tool call.
// The input is not available yet; it arrives fully assembled on the
// terminal chunk.
type ToolCallStart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StreamChunk is one event in a streaming completion.
type StreamChunk struct {
	Content         string         `json:"content,omitempty"`
	ToolCallStarted *ToolCallStart `json:"tool_call_started,omitempty"`
	ToolCalls       []ToolCall     `json:"tool_calls,omitempty"`
	Usage           *Usage         `json:"usage,omitempty"`
	FinishReason    string         `json:"finish_reason,omitempty"`
	Done            bool           `json:"done"`
	Err             string         `json:"error,omitempty"`
}

// HealthStatus reports the outcome of an adapter health check.
type HealthStatus struct {
	Healthy bool     `json:"healthy"`
	Models  []string `json:"models_available"`
}
