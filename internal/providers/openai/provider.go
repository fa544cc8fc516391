package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

// Adapter implements the OpenAI backend
type Adapter struct {
	id     string
	config config.ProviderConfig
	client *openai.Client
}

// NewAdapter creates a new OpenAI adapter
func NewAdapter(id string, cfg config.ProviderConfig) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	client := openai.NewClient(cfg.APIKey)

	return &Adapter{
		id:     id,
		config: cfg,
		client: client,
	}, nil
}

// NewAdapterWithClient creates an adapter around an existing client.
// Used by the OpenAI-compatible adapter, which rebases the client URL.
func NewAdapterWithClient(id string, cfg config.ProviderConfig, client *openai.Client) *Adapter {
	return &Adapter{
		id:     id,
		config: cfg,
		client: client,
	}
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
	openAIReq := normalizeRequest(req)
	openAIReq.Stream = false

	resp, err := a.client.CreateChatCompletion(ctx, openAIReq)
	if err != nil {
		return nil, err
	}

	return normalizeResponse(&resp), nil
}

// Stream performs a streaming completion. OpenAI delivers tool-call
// arguments as deltas keyed by array index; they are accumulated here and
// released only on the terminal chunk.
func (a *Adapter) Stream(ctx context.Context, req providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	chunks := make(chan providers.StreamChunk)

	go func() {
		defer close(chunks)

		openAIReq := normalizeRequest(req)
		openAIReq.Stream = true
		openAIReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := a.client.CreateChatCompletionStream(ctx, openAIReq)
		if err != nil {
			chunks <- providers.StreamChunk{Err: err.Error(), Done: true}
			return
		}
		defer stream.Close()

		acc := newStreamAccumulator()
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case chunks <- acc.terminalChunk():
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				chunks <- providers.StreamChunk{Err: err.Error(), Done: true}
				return
			}

			if response.Usage != nil {
				acc.usage = providers.Usage{
					InputTokens:  response.Usage.PromptTokens,
					OutputTokens: response.Usage.CompletionTokens,
				}
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			for _, started := range acc.applyToolCallDeltas(choice.Delta.ToolCalls) {
				select {
				case chunks <- providers.StreamChunk{ToolCallStarted: started}:
				case <-ctx.Done():
					return
				}
			}

			if choice.FinishReason != "" {
				acc.finishReason = normalizeFinishReason(string(choice.FinishReason))
			}

			if choice.Delta.Content != "" {
				select {
				case chunks <- providers.StreamChunk{Content: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return chunks, nil
}

// HealthCheck reports backend availability by listing models
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.HealthStatus, error) {
	modelList, err := a.client.ListModels(ctx)
	if err != nil {
		return &providers.HealthStatus{Healthy: false}, nil
	}

	models := make([]string, 0, len(modelList.Models))
	for _, m := range modelList.Models {
		models = append(models, m.ID)
	}
	return &providers.HealthStatus{Healthy: true, Models: models}, nil
}

// normalizeRequest converts a canonical request to OpenAI wire format.
// The system message stays in the message list; OpenAI takes it inline.
func normalizeRequest(req providers.CompletionRequest) openai.ChatCompletionRequest {
	openAIReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}

	if req.Temperature != nil {
		openAIReq.Temperature = *req.Temperature
	}

	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		openAIReq.Messages = append(openAIReq.Messages, m)
	}

	for _, tool := range req.Tools {
		openAIReq.Tools = append(openAIReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return openAIReq
}

// normalizeResponse converts an OpenAI response to canonical form
func normalizeResponse(resp *openai.ChatCompletionResponse) *providers.CompletionResponse {
	out := &providers.CompletionResponse{
		FinishReason: providers.FinishEndTurn,
		Usage: providers.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}

	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = normalizeFinishReason(string(choice.FinishReason))

	for _, tc := range choice.Message.ToolCalls {
		input := tc.Function.Arguments
		if input == "" {
			input = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(input),
		})
	}

	return out
}

// normalizeFinishReason maps OpenAI finish reasons to the canonical set
func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop":
		return providers.FinishEndTurn
	case "length":
		return providers.FinishMaxTokens
	case "tool_calls", "function_call":
		return providers.FinishToolUse
	default:
		return providers.FinishEndTurn
	}
}

// toolCallBuilder accumulates one tool call's argument deltas
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// streamAccumulator reassembles tool calls and tracks final usage across
// one streaming response
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

// applyToolCallDeltas folds tool-call deltas into the accumulator and
// returns start events for newly opened calls
func (s *streamAccumulator) applyToolCallDeltas(deltas []openai.ToolCall) []*providers.ToolCallStart {
	var started []*providers.ToolCallStart
	for _, tc := range deltas {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		b, ok := s.builders[idx]
		if !ok {
			b = &toolCallBuilder{}
			s.builders[idx] = b
		}
		if tc.ID != "" {
			b.id = tc.ID
		}
		if tc.Function.Name != "" {
			isNew := b.name == ""
			b.name = tc.Function.Name
			if isNew {
				started = append(started, &providers.ToolCallStart{ID: b.id, Name: b.name})
			}
		}
		if tc.Function.Arguments != "" {
			b.args.WriteString(tc.Function.Arguments)
		}
	}
	return started
}

// terminalChunk finalizes the stream with complete tool calls and usage
func (s *streamAccumulator) terminalChunk() providers.StreamChunk {
	indexes := make([]int, 0, len(s.builders))
	for idx := range s.builders {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var toolCalls []providers.ToolCall
	for _, idx := range indexes {
		b := s.builders[idx]
		input := b.args.String()
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
	if len(toolCalls) > 0 && finish == providers.FinishEndTurn {
		finish = providers.FinishToolUse
	}

	usage := s.usage
	return providers.StreamChunk{
		ToolCalls:    toolCalls,
		Usage:        &usage,
		FinishReason: finish,
		Done:         true,
	}
}
