package local

import (
	"context"
	"errors"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
	"github.com/scriptoria/scriptoria-backend/internal/providers/openai"
)

// Adapter serves OpenAI-compatible local backends (Ollama, LM Studio).
// The wire protocol is identical to OpenAI's, so it delegates to the
// OpenAI adapter with a rebased client.
type Adapter struct {
	config config.ProviderConfig
	inner  *openai.Adapter
}

// NewOpenAICompatibleAdapter creates an adapter for an OpenAI-compatible API
func NewOpenAICompatibleAdapter(id string, cfg config.ProviderConfig) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required for OpenAI-compatible provider")
	}

	// Local servers usually ignore the key but the client requires one
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	clientConfig := goopenai.DefaultConfig(apiKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1"
	client := goopenai.NewClientWithConfig(clientConfig)

	return &Adapter{
		config: cfg,
		inner:  openai.NewAdapterWithClient(id, cfg, client),
	}, nil
}

// Name returns the adapter name
func (a *Adapter) Name() string {
	return a.config.Name
}

// ValidateConfig validates the adapter configuration
func (a *Adapter) ValidateConfig() error {
	if a.config.BaseURL == "" {
		return errors.New("base URL is required")
	}
	return nil
}

// Complete performs a non-streaming completion
func (a *Adapter) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return a.inner.Complete(ctx, req)
}

// Stream performs a streaming completion
func (a *Adapter) Stream(ctx context.Context, req providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	return a.inner.Stream(ctx, req)
}

// HealthCheck reports backend availability
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.HealthStatus, error) {
	return a.inner.HealthCheck(ctx)
}
