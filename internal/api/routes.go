package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/api/handlers"
	"github.com/scriptoria/scriptoria-backend/internal/services"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, svc *services.Services, logger *logrus.Logger) {
	api := app.Group("/api/v1")

	// Chat
	api.Post("/chat", handlers.Chat(svc))
	api.Use("/chat/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/chat/stream", handlers.ChatStream(svc, logger))

	// Providers
	api.Get("/providers", handlers.GetProviders(svc))
	api.Get("/providers/:id/health", handlers.GetProviderHealth(svc))
	api.Get("/models/recommend", handlers.RecommendModel(svc))

	// Sessions
	api.Get("/sessions", handlers.GetSessions(svc))
	api.Get("/sessions/:id", handlers.GetSession(svc))
	api.Get("/sessions/:id/messages", handlers.GetSessionMessages(svc))
	api.Delete("/sessions/:id", handlers.DeleteSession(svc))

	// Usage
	api.Get("/usage/:userId", handlers.GetUsage(svc))

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "scriptoria-backend",
		})
	})
}
