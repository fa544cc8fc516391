package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
)

// Request is a completion request entering the gateway. Provider may be
// empty, in which case the configured default provider handles it.
type Request struct {
	Provider    string
	Model       string
	Messages    []providers.Message
	Tools       []providers.Tool
	MaxTokens   int
	Temperature *float32
	UserID      string
	ProjectID   string
}

// Response is the gateway's normalized completion result.
type Response struct {
	*providers.CompletionResponse
	Provider  string
	LatencyMs int64
}

// Gateway is the single entry point for completions. It resolves the
// adapter, delegates, and feeds usage into the cost tracker. It never
// retries; retry policy is a caller concern.
type Gateway struct {
	registry        *providers.Registry
	tracker         *CostTracker
	defaultProvider string
	logger          *logrus.Logger
}

// NewGateway creates a new completion gateway
func NewGateway(registry *providers.Registry, tracker *CostTracker, defaultProvider string, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		registry:        registry,
		tracker:         tracker,
		defaultProvider: defaultProvider,
		logger:          logger,
	}
}

// resolve finds the adapter for a request, falling back to the default
// provider when none is named
func (g *Gateway) resolve(name string) (string, providers.Adapter, error) {
	if name == "" {
		name = g.defaultProvider
	}
	adapter := g.registry.Get(name)
	if adapter == nil {
		return name, nil, &ProviderUnavailableError{Provider: name}
	}
	return name, adapter, nil
}

// Complete performs a synchronous completion
func (g *Gateway) Complete(ctx context.Context, req Request) (*Response, error) {
	providerID, adapter, err := g.resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"provider": providerID,
		"model":    req.Model,
		"user":     req.UserID,
	}).Debug("dispatching completion")

	start := time.Now()
	resp, err := adapter.Complete(ctx, providers.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, &VendorCallError{Provider: providerID, Err: err}
	}

	latency := time.Since(start).Milliseconds()

	if g.tracker != nil {
		g.tracker.Track(TrackInput{
			Provider:  providerID,
			Model:     req.Model,
			Usage:     resp.Usage,
			UserID:    req.UserID,
			ProjectID: req.ProjectID,
		})
	}

	return &Response{
		CompletionResponse: resp,
		Provider:           providerID,
		LatencyMs:          latency,
	}, nil
}

// Stream performs a streaming completion. Chunks are forwarded as the
// adapter produces them; usage is tracked exactly once, from the terminal
// chunk.
func (g *Gateway) Stream(ctx context.Context, req Request) (<-chan providers.StreamChunk, error) {
	providerID, adapter, err := g.resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"provider": providerID,
		"model":    req.Model,
		"user":     req.UserID,
	}).Debug("dispatching streaming completion")

	upstream, err := adapter.Stream(ctx, providers.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, &VendorCallError{Provider: providerID, Err: err}
	}

	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Done && chunk.Usage != nil && g.tracker != nil {
				g.tracker.Track(TrackInput{
					Provider:  providerID,
					Model:     req.Model,
					Usage:     *chunk.Usage,
					UserID:    req.UserID,
					ProjectID: req.ProjectID,
				})
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// HasProvider reports whether a provider is registered
func (g *Gateway) HasProvider(name string) bool {
	return g.registry.Has(name)
}

// DefaultProvider returns the configured default provider id
func (g *Gateway) DefaultProvider() string {
	return g.defaultProvider
}
