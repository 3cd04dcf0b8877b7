package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/smartclass/backend/internal/results"
	"github.com/smartclass/backend/internal/storage/models"
)

type ResultFetcher interface {
	Fetch(ctx context.Context, req results.Request) (*models.StudentResult, error)
}

type ResultsHandler struct {
	scraper ResultFetcher
}

func NewResultsHandler(scraper ResultFetcher) *ResultsHandler {
	return &ResultsHandler{scraper: scraper}
}

func (h *ResultsHandler) GetResult(c *fiber.Ctx) error {
	var req results.Request
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	result, err := h.scraper.Fetch(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}
