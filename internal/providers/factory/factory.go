package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
	"github.com/scriptoria/scriptoria-backend/internal/providers/anthropic"
	"github.com/scriptoria/scriptoria-backend/internal/providers/local"
	"github.com/scriptoria/scriptoria-backend/internal/providers/openai"
)

const healthCheckTimeout = 5 * time.Second

// CreateAdapter creates an adapter instance based on configuration.
// The constructor table is static; there is no runtime discovery.
func CreateAdapter(id string, cfg config.ProviderConfig) (providers.Adapter, error) {
	switch cfg.Type {
	case "openai":
		return openai.NewAdapter(id, cfg)
	case "anthropic":
		return anthropic.NewAdapter(id, cfg)
	case "openai-compatible", "ollama":
		return local.NewOpenAICompatibleAdapter(id, cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// BuildRegistry constructs and health-checks adapters for every configured
// provider. Providers with missing credentials are skipped, not failed;
// only a registry with zero usable adapters aborts startup.
func BuildRegistry(cfg *config.Config, logger *logrus.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	for id, providerCfg := range cfg.Providers {
		adapter, err := CreateAdapter(id, providerCfg)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"provider": id,
				"error":    err,
			}).Info("skipping provider")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		health, err := adapter.HealthCheck(ctx)
		cancel()
		if err != nil || !health.Healthy {
			// Health is advisory at startup; the backend may come up later
			logger.WithField("provider", id).Warn("provider registered but unhealthy")
		} else {
			logger.WithFields(logrus.Fields{
				"provider": id,
				"models":   len(health.Models),
			}).Info("provider registered")
		}

		registry.Register(id, adapter)
	}

	if len(registry.List()) == 0 {
		return nil, &llm.ConfigError{Reason: "no usable providers configured"}
	}

	return registry, nil
}
