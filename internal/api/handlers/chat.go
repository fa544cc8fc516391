package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"github.com/scriptoria/scriptoria-backend/internal/llm"
	"github.com/scriptoria/scriptoria-backend/internal/providers"
	"github.com/scriptoria/scriptoria-backend/internal/services"
)

// ChatRequest is the body of POST /chat and the first frame on the
// streaming socket
type ChatRequest struct {
	ProjectID   string                    `json:"project_id"`
	UserID      string                    `json:"user_id"`
	Content     string                    `json:"content"`
	Provider    string                    `json:"provider,omitempty"`
	Model       string                    `json:"model,omitempty"`
	Tier        string                    `json:"tier,omitempty"`
	MaxTokens   int                       `json:"max_tokens,omitempty"`
	Temperature *float32                  `json:"temperature,omitempty"`
	DocContext  *services.DocumentContext `json:"document_context,omitempty"`
}

func (r ChatRequest) toTurnRequest() services.TurnRequest {
	return services.TurnRequest{
		ProjectID:   r.ProjectID,
		UserID:      r.UserID,
		Content:     r.Content,
		DocContext:  r.DocContext,
		Provider:    r.Provider,
		Model:       r.Model,
		Tier:        r.Tier,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
}

func validateChatRequest(req ChatRequest) string {
	if req.ProjectID == "" {
		return "project_id is required"
	}
	if req.UserID == "" {
		return "user_id is required"
	}
	if req.Content == "" {
		return "content is required"
	}
	return ""
}

// Chat runs one agentic turn and returns the final result
func Chat(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ChatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		if msg := validateChatRequest(req); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": msg,
			})
		}

		result, err := svc.Agent.RunTurn(c.Context(), req.toTurnRequest(), nil)
		if err != nil {
			return chatError(c, err)
		}

		return c.JSON(result)
	}
}

// chatError maps the error taxonomy onto HTTP statuses
func chatError(c *fiber.Ctx, err error) error {
	var unavailable *llm.ProviderUnavailableError
	if errors.As(err, &unavailable) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": unavailable.Error(),
		})
	}
	var validation *llm.ValidationError
	if errors.As(err, &validation) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validation.Error(),
		})
	}
	var vendor *llm.VendorCallError
	if errors.As(err, &vendor) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": vendor.Error(),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// ChatStream streams one completion round over a websocket. The client
// sends a ChatRequest frame; normalized chunks flow back until the
// terminal chunk. A dropped connection cancels the upstream call; partial
// content is persisted by the agent.
func ChatStream(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			conn.WriteJSON(fiber.Map{"error": "invalid request frame"})
			return
		}
		if msg := validateChatRequest(req); msg != "" {
			conn.WriteJSON(fiber.Map{"error": msg})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		emit := func(chunk providers.StreamChunk) error {
			payload, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				cancel()
				return err
			}
			return nil
		}

		if _, err := svc.Agent.StreamTurn(ctx, req.toTurnRequest(), emit); err != nil {
			logger.WithError(err).Warn("stream turn failed")
			conn.WriteJSON(fiber.Map{"error": err.Error()})
		}
	})
}
