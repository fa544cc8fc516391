package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

const (
	defaultMaxIterations      = 10
	defaultMaxContextMessages = 50
)

// TurnObserver receives tool lifecycle notifications during a turn.
type TurnObserver interface {
	ToolStarted(callID, name string)
	ToolFinished(callID, name string, isError bool)
}

// TurnRequest is one user turn entering the agent loop.
type TurnRequest struct {
	ProjectID   string
	UserID      string
	Content     string
	DocContext  *DocumentContext
	Provider    string
	Model       string
	Tier        string
	MaxTokens   int
	Temperature *float32
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	SessionID    string `json:"session_id"`
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	Rounds       int    `json:"rounds"`
	HitIteration bool   `json:"hit_iteration_limit,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

// AgentRunner drives the agentic tool-use loop: gateway call, tool
// execution, persistence, repeat — bounded by maxIterations. One turn is
// strictly sequential; round n+1's request is built from round n's
// persisted results.
type AgentRunner struct {
	gateway       *llm.Gateway
	router        *llm.Router
	store         *ConversationStore
	tools         *ToolDispatcher
	maxIterations int
	maxContext    int
	logger        *logrus.Logger
}

// NewAgentRunner creates an agent runner. maxIterations <= 0 selects the
// default of 10.
func NewAgentRunner(
	gateway *llm.Gateway,
	router *llm.Router,
	store *ConversationStore,
	tools *ToolDispatcher,
	maxIterations int,
	maxContext int,
	logger *logrus.Logger,
) *AgentRunner {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if maxContext <= 0 {
		maxContext = defaultMaxContextMessages
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &AgentRunner{
		gateway:       gateway,
		router:        router,
		store:         store,
		tools:         tools,
		maxIterations: maxIterations,
		maxContext:    maxContext,
		logger:        logger,
	}
}

// resolveModel picks (provider, model) for this turn: explicit request,
// then session preference, then router recommendation from the detected
// task type.
func (r *AgentRunner) resolveModel(req TurnRequest, sessionProvider, sessionModel string) (string, string) {
	provider := req.Provider
	model := req.Model

	if provider == "" {
		provider = sessionProvider
		if model == "" {
			model = sessionModel
		}
	}

	if provider == "" || model == "" {
		tier := req.Tier
		if tier == "" {
			tier = "free"
		}
		choice := r.router.Recommend(r.router.DetectTaskType(req.Content), tier)
		if provider == "" {
			provider = choice.Provider
		}
		if model == "" {
			model = choice.Model
		}
	}

	return provider, model
}

// RunTurn processes one user turn to completion. Reaching the iteration
// ceiling is a soft condition: the best partial result is returned and a
// warning logged, never an error.
func (r *AgentRunner) RunTurn(ctx context.Context, req TurnRequest, obs TurnObserver) (*TurnResult, error) {
	session, err := r.store.GetOrCreateSession(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}

	provider, model := r.resolveModel(req, session.Provider.String, session.Model.String)

	// The gateway rejects unavailable providers before anything is
	// persisted, so a bad provider leaves the session untouched
	if !r.gateway.HasProvider(providerOrDefault(provider, r.gateway)) {
		return nil, &llm.ProviderUnavailableError{Provider: providerOrDefault(provider, r.gateway)}
	}

	if provider != session.Provider.String || model != session.Model.String {
		if err := r.store.SetModelPreference(ctx, session.ID, provider, model); err != nil {
			return nil, err
		}
	}

	if _, err := r.store.AddUserMessage(ctx, session.ID, req.Content, req.DocContext); err != nil {
		return nil, err
	}

	tools, err := r.tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		SessionID: session.ID,
		Provider:  provider,
		Model:     model,
	}

	for round := 0; round < r.maxIterations; round++ {
		recent, err := r.store.GetRecentMessages(ctx, session.ID, r.maxContext)
		if err != nil {
			return nil, err
		}
		messages, err := BuildContext(recent)
		if err != nil {
			return nil, err
		}

		resp, err := r.gateway.Complete(ctx, llm.Request{
			Provider:    provider,
			Model:       model,
			Messages:    messages,
			Tools:       tools,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			UserID:      req.UserID,
			ProjectID:   req.ProjectID,
		})
		if err != nil {
			return nil, err
		}

		if _, err := r.store.AddAssistantMessage(ctx, session.ID, resp.Content, resp.FinishReason, resp.ToolCalls, AssistantMetadata{
			Model:      model,
			Provider:   resp.Provider,
			TokensUsed: resp.Usage,
			LatencyMs:  resp.LatencyMs,
		}); err != nil {
			return nil, err
		}

		result.Content = resp.Content
		result.StopReason = resp.FinishReason
		result.Rounds = round + 1

		if resp.FinishReason != providers.FinishToolUse || len(resp.ToolCalls) == 0 {
			return result, nil
		}

		// Tool calls within a round run in the order received; all of a
		// round's results must exist before the next round is built
		for _, call := range resp.ToolCalls {
			if obs != nil {
				obs.ToolStarted(call.ID, call.Name)
			}
			outcome := r.tools.Execute(ctx, call)
			if obs != nil {
				obs.ToolFinished(call.ID, call.Name, outcome.IsError)
			}
			if _, err := r.store.AddToolResultMessage(ctx, session.ID, call.ID, call.Name, outcome.Content, outcome.IsError); err != nil {
				return nil, err
			}
		}
	}

	r.logger.WithFields(logrus.Fields{
		"session":    session.ID,
		"iterations": r.maxIterations,
	}).Warn("agent loop hit iteration ceiling; returning partial result")
	result.HitIteration = true
	return result, nil
}

// StreamTurn processes one non-agentic streaming round: the user message
// is persisted, the backend streamed, and chunks forwarded to emit. If
// the consumer disconnects mid-stream, whatever partial content arrived
// is persisted with an interrupted marker rather than dropped.
func (r *AgentRunner) StreamTurn(ctx context.Context, req TurnRequest, emit func(providers.StreamChunk) error) (*TurnResult, error) {
	session, err := r.store.GetOrCreateSession(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}

	provider, model := r.resolveModel(req, session.Provider.String, session.Model.String)

	if !r.gateway.HasProvider(providerOrDefault(provider, r.gateway)) {
		return nil, &llm.ProviderUnavailableError{Provider: providerOrDefault(provider, r.gateway)}
	}

	if _, err := r.store.AddUserMessage(ctx, session.ID, req.Content, req.DocContext); err != nil {
		return nil, err
	}

	recent, err := r.store.GetRecentMessages(ctx, session.ID, r.maxContext)
	if err != nil {
		return nil, err
	}
	messages, err := BuildContext(recent)
	if err != nil {
		return nil, err
	}

	chunks, err := r.gateway.Stream(ctx, llm.Request{
		Provider:    provider,
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
	})
	if err != nil {
		return nil, err
	}

	var content string
	var finishReason string
	var usage providers.Usage
	interrupted := true

	for chunk := range chunks {
		content += chunk.Content
		if chunk.Done {
			interrupted = false
			finishReason = chunk.FinishReason
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		}
		if emit != nil {
			if err := emit(chunk); err != nil {
				// Consumer gone; stop pulling so the adapter's ctx
				// cancellation can unwind the remote call
				break
			}
		}
	}

	if finishReason == "" {
		finishReason = providers.FinishEndTurn
	}

	// Persist even when the consumer's ctx is already cancelled; a partial
	// assistant message must never be dropped
	persistCtx := context.WithoutCancel(ctx)
	if _, err := r.store.AddAssistantMessage(persistCtx, session.ID, content, finishReason, nil, AssistantMetadata{
		Model:       model,
		Provider:    provider,
		TokensUsed:  usage,
		Interrupted: interrupted,
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:  session.ID,
		Content:    content,
		StopReason: finishReason,
		Rounds:     1,
		Provider:   provider,
		Model:      model,
	}, nil
}

func providerOrDefault(provider string, g *llm.Gateway) string {
	if provider == "" {
		return g.DefaultProvider()
	}
	return provider
}
