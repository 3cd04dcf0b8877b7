package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/smartclass/backend/internal/exam"
	"github.com/smartclass/backend/internal/ingestion"
)

type UploadProcessor interface {
	ProcessUpload(ctx context.Context, req ingestion.MaterialRequest) (*ingestion.UploadResponse, error)
	StoreQuiz(ctx context.Context, req ingestion.StoreQuizRequest) (*ingestion.StoreQuizResponse, error)
}

type ExamGenerator interface {
	Generate(ctx context.Context, req ingestion.MaterialRequest) (*exam.Response, error)
}

type MaterialHandler struct {
	processor UploadProcessor
	exams     ExamGenerator
}

func NewMaterialHandler(processor UploadProcessor, exams ExamGenerator) *MaterialHandler {
	return &MaterialHandler{
		processor: processor,
		exams:     exams,
	}
}

func (h *MaterialHandler) Upload(c *fiber.Ctx) error {
	var req ingestion.MaterialRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	resp, err := h.processor.ProcessUpload(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(resp)
}

func (h *MaterialHandler) StoreQuiz(c *fiber.Ctx) error {
	var req ingestion.StoreQuizRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	resp, err := h.processor.StoreQuiz(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(resp)
}

func (h *MaterialHandler) GenerateExam(c *fiber.Ctx) error {
	var req ingestion.MaterialRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	resp, err := h.exams.Generate(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(resp)
}
