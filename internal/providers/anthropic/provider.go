package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Adapter implements the Anthropic Messages API backend
type Adapter struct {
	id     string
	config config.ProviderConfig
	client *http.Client
}

// anthropicRequest represents a request to Anthropic's API
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

// anthropicMessage represents a message in Anthropic format
type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

// anthropicContent represents one content block
type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// anthropicTool represents a tool definition
type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// anthropicResponse represents a non-streaming response
type anthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []anthropicContent `json:"content"`
	Model        string             `json:"model"`
	StopReason   string             `json:"stop_reason,omitempty"`
	StopSequence string             `json:"stop_sequence,omitempty"`
	Usage        anthropicUsage     `json:"usage"`
}

// anthropicUsage represents token usage
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStreamEvent represents a streaming event
type anthropicStreamEvent struct {
	Type         string                `json:"type"`
	Index        int                   `json:"index,omitempty"`
	Delta        *anthropicStreamDelta `json:"delta,omitempty"`
	Message      *anthropicResponse    `json:"message,omitempty"`
	ContentBlock *anthropicContent     `json:"content_block,omitempty"`
	Usage        *anthropicUsage       `json:"usage,omitempty"`
}

// anthropicStreamDelta represents a delta in streaming
type anthropicStreamDelta struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(id string, cfg config.ProviderConfig) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &Adapter{
		id:     id,
		config: cfg,
		client: &http.Client{},
	}, nil
}

// Name returns the adapter name
func (a *Adapter) Name() string {
	return a.config.Name
}

// ValidateConfig validates the adapter configuration
func (a *Adapter) ValidateConfig() error {
	if a.config.APIKey == "" {
		return errors.New("API key is required")
	}
	return nil
}

// Complete performs a non-streaming completion
func (a *Adapter) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	anthropicReq := a.normalizeRequest(req)
	anthropicReq.Stream = false

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Anthropic API error: %s - %s", resp.Status, string(bodyBytes))
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, err
	}

	return a.normalizeResponse(&anthropicResp), nil
}

// Stream performs a streaming completion. Tool-call argument fragments
// arriving as input_json_delta events are reassembled per content block;
// the finalized tool calls ride on the terminal chunk together with the
// cumulative usage.
func (a *Adapter) Stream(ctx context.Context, req providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	chunks := make(chan providers.StreamChunk)

	go func() {
		defer close(chunks)

		anthropicReq := a.normalizeRequest(req)
		anthropicReq.Stream = true

		body, err := json.Marshal(anthropicReq)
		if err != nil {
			chunks <- providers.StreamChunk{Err: err.Error(), Done: true}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(body))
		if err != nil {
			chunks <- providers.StreamChunk{Err: err.Error(), Done: true}
			return
		}

		a.setHeaders(httpReq)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			chunks <- providers.StreamChunk{Err: err.Error(), Done: true}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			chunks <- providers.StreamChunk{
				Err:  fmt.Sprintf("Anthropic API error: %s - %s", resp.Status, string(bodyBytes)),
				Done: true,
			}
			return
		}

		acc := newStreamAccumulator()
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err == io.EOF {
				break
			}
			if err != nil {
				chunks <- providers.StreamChunk{Err: err.Error(), Done: true}
				return
			}

			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue // Skip malformed events
			}

			if chunk, done := acc.apply(&event); chunk != nil {
				select {
				case chunks <- *chunk:
				case <-ctx.Done():
					return
				}
				if done {
					return
				}
			} else if done {
				select {
				case chunks <- acc.terminalChunk():
				case <-ctx.Done():
				}
				return
			}
		}

		// Stream ended without message_stop; still guarantee a terminal chunk
		select {
		case chunks <- acc.terminalChunk():
		case <-ctx.Done():
		}
	}()

	return chunks, nil
}

// HealthCheck reports backend availability
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.HealthStatus, error) {
	// Anthropic has no models endpoint; a configured key plus the static
	// model list is the health signal
	if err := a.ValidateConfig(); err != nil {
		return &providers.HealthStatus{Healthy: false}, nil
	}

	models := a.config.Models
	if len(models) == 0 {
		models = []string{
			"claude-3-opus-20240229",
			"claude-3-sonnet-20240229",
			"claude-3-haiku-20240307",
		}
	}
	return &providers.HealthStatus{Healthy: true, Models: models}, nil
}

// setHeaders sets the required headers for Anthropic API
func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// normalizeRequest converts a canonical request to Anthropic wire format.
// The system message is split out of the list into the top-level system
// field; tool results become tool_result blocks on user messages.
func (a *Adapter) normalizeRequest(req providers.CompletionRequest) anthropicRequest {
	anthropicReq := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
	}

	if req.MaxTokens > 0 {
		anthropicReq.MaxTokens = req.MaxTokens
	}

	anthropicMessages := []anthropicMessage{}
	var systemMessage string

	for _, msg := range req.Messages {
		switch msg.Role {
		case providers.RoleSystem:
			systemMessage = msg.Content

		case providers.RoleTool:
			// Anthropic expects tool results as user messages
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role: providers.RoleUser,
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
					IsError:   msg.IsError,
				}},
			})

		case providers.RoleAssistant:
			content := []anthropicContent{}
			if msg.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Input,
				})
			}
			if len(content) == 0 {
				content = append(content, anthropicContent{Type: "text", Text: ""})
			}
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role:    msg.Role,
				Content: content,
			})

		default:
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role:    msg.Role,
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}

	anthropicReq.Messages = anthropicMessages
	if systemMessage != "" {
		anthropicReq.System = systemMessage
	}

	for _, tool := range req.Tools {
		anthropicReq.Tools = append(anthropicReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	return anthropicReq
}

// normalizeResponse converts an Anthropic response to canonical form
func (a *Adapter) normalizeResponse(resp *anthropicResponse) *providers.CompletionResponse {
	var textContent strings.Builder
	var toolCalls []providers.ToolCall

	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			textContent.WriteString(content.Text)
		case "tool_use":
			toolCalls = append(toolCalls, providers.ToolCall{
				ID:    content.ID,
				Name:  content.Name,
				Input: content.Input,
			})
		}
	}

	return &providers.CompletionResponse{
		Content:      textContent.String(),
		FinishReason: normalizeStopReason(resp.StopReason),
		ToolCalls:    toolCalls,
		Usage: providers.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Model: resp.Model,
	}
}

// normalizeStopReason maps Anthropic stop reasons to the canonical set
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return providers.FinishEndTurn
	case "tool_use":
		return providers.FinishToolUse
	case "max_tokens":
		return providers.FinishMaxTokens
	case "stop_sequence":
		return providers.FinishStopSequence
	default:
		return providers.FinishEndTurn
	}
}

// toolCallBuilder accumulates one tool call's streamed argument fragments
type toolCallBuilder struct {
	id      string
	name    string
	partial strings.Builder
}

// streamAccumulator tracks per-stream state so the terminal chunk can
// carry complete tool calls and final usage
type streamAccumulator struct {
	builders     map[int]*toolCallBuilder
	usage        providers.Usage
	finishReason string
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{
		builders: make(map[int]*toolCallBuilder),
	}
}

// apply folds one SSE event into the accumulator. It returns a chunk to
// emit (nil for bookkeeping-only events) and whether the stream is over.
func (s *streamAccumulator) apply(event *anthropicStreamEvent) (*providers.StreamChunk, bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.usage.InputTokens = event.Message.Usage.InputTokens
		}
		return nil, false

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			s.builders[event.Index] = &toolCallBuilder{
				id:   event.ContentBlock.ID,
				name: event.ContentBlock.Name,
			}
			return &providers.StreamChunk{
				ToolCallStarted: &providers.ToolCallStart{
					ID:   event.ContentBlock.ID,
					Name: event.ContentBlock.Name,
				},
			}, false
		}
		return nil, false

	case "content_block_delta":
		if event.Delta == nil {
			return nil, false
		}
		if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			return &providers.StreamChunk{Content: event.Delta.Text}, false
		}
		if event.Delta.Type == "input_json_delta" {
			if b, ok := s.builders[event.Index]; ok {
				b.partial.WriteString(event.Delta.PartialJSON)
			}
		}
		return nil, false

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			s.finishReason = normalizeStopReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			s.usage.OutputTokens = event.Usage.OutputTokens
		}
		return nil, false

	case "message_stop":
		return nil, true
	}

	return nil, false
}

// terminalChunk finalizes the stream: reassembled tool calls in block
// order, cumulative usage, finish reason
func (s *streamAccumulator) terminalChunk() providers.StreamChunk {
	indexes := make([]int, 0, len(s.builders))
	for idx := range s.builders {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var toolCalls []providers.ToolCall
	for _, idx := range indexes {
		b := s.builders[idx]
		input := b.partial.String()
		if input == "" {
			input = "{}"
		}
		toolCalls = append(toolCalls, providers.ToolCall{
			ID:    b.id,
			Name:  b.name,
			Input: json.RawMessage(input),
		})
	}

	finish := s.finishReason
	if finish == "" {
		finish = providers.FinishEndTurn
	}

	usage := s.usage
	return providers.StreamChunk{
		ToolCalls:    toolCalls,
		Usage:        &usage,
		FinishReason: finish,
		Done:         true,
	}
}
