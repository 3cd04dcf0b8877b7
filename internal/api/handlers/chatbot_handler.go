package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/smartclass/backend/internal/chatbot"
	"github.com/smartclass/backend/internal/storage/models"
)

type ChatEngine interface {
	Ask(ctx context.Context, req chatbot.AskRequest) (*chatbot.AskResponse, error)
	History(ctx context.Context, classID, userID string, limit int) ([]models.ChatRecord, error)
}

type ChatbotHandler struct {
	engine ChatEngine
}

func NewChatbotHandler(engine ChatEngine) *ChatbotHandler {
	return &ChatbotHandler{
		engine: engine,
	}
}

func (h *ChatbotHandler) Ask(c *fiber.Ctx) error {
	var req chatbot.AskRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	resp, err := h.engine.Ask(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(resp)
}

func (h *ChatbotHandler) History(c *fiber.Ctx) error {
	records, err := h.engine.History(c.UserContext(), c.Query("class_id"), c.Query("user_id"), c.QueryInt("limit", 20))
	if err != nil {
		return respondError(c, err)
	}
	if records == nil {
		records = []models.ChatRecord{}
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
