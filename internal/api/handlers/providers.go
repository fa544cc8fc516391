package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/scriptoria/scriptoria-backend/internal/services"
)

// GetProviders returns all registered providers
func GetProviders(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids := svc.Registry.List()

		providerList := make([]fiber.Map, 0, len(ids))
		for _, id := range ids {
			adapter := svc.Registry.Get(id)
			providerList = append(providerList, fiber.Map{
				"id":   id,
				"name": adapter.Name(),
			})
		}

		return c.JSON(fiber.Map{
			"providers": providerList,
			"default":   svc.Gateway.DefaultProvider(),
		})
	}
}

// GetProviderHealth health-checks one provider
func GetProviderHealth(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		adapter := svc.Registry.Get(id)
		if adapter == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "provider not found",
			})
		}

		health, err := adapter.HealthCheck(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(health)
	}
}

// RecommendModel classifies the given text and recommends a model
func RecommendModel(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		text := c.Query("text")
		tier := c.Query("tier", "free")

		taskType := svc.Router.DetectTaskType(text)
		choice := svc.Router.Recommend(taskType, tier)

		return c.JSON(fiber.Map{
			"task_type": taskType,
			"provider":  choice.Provider,
			"model":     choice.Model,
		})
	}
}
