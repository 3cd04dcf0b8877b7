package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/pkg/logger"
)

// respondError writes {"error": detail, "kind": kind} with the status for the error's kind.
func respondError(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	fields := []zap.Field{
		zap.String("path", c.Path()),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed", fields...)
	} else {
		logger.Warn("Request rejected", fields...)
	}

	return c.Status(status).JSON(fiber.Map{
		"error": apperr.DetailOf(err),
		"kind":  kind,
	})
}

func badBody(c *fiber.Ctx, err error) error {
	logger.Error("Failed to parse request body", zap.Error(err))
	return respondError(c, apperr.InvalidInput("Invalid request body"))
}
