package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/scriptoria/scriptoria-backend/internal/services"
)

// GetSessions returns all sessions for a user
func GetSessions(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id is required",
			})
		}

		sessions, err := svc.Conversation.ListSessions(c.Context(), userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"sessions": sessions,
		})
	}
}

// GetSession returns a specific session
func GetSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := svc.Conversation.GetSession(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "session not found",
			})
		}

		return c.JSON(session)
	}
}

// GetSessionMessages returns the message log for a session
func GetSessionMessages(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		messages, err := svc.Conversation.GetMessages(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"messages": messages,
		})
	}
}

// DeleteSession archives a session. Nothing is physically deleted.
func DeleteSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Conversation.ArchiveSession(c.Context(), c.Params("id")); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"status": "archived",
		})
	}
}

// GetUsage returns a user's lifetime totals and today's limit standing
func GetUsage(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		tier := c.Query("tier", "free")

		return c.JSON(fiber.Map{
			"totals": svc.Tracker.UserTotals(userID),
			"limits": svc.Tracker.CheckLimits(userID, tier),
		})
	}
}
