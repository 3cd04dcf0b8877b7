package exam

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/ingestion"
	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
)

type TextLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

type QuestionGenerator interface {
	GenerateExam(ctx context.Context, text string) (*models.ExamQuestions, error)
}

type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type Store interface {
	InsertExam(ctx context.Context, exam *models.ExamRecord) error
}

type Generator struct {
	loader    TextLoader
	generator QuestionGenerator
	uploader  Uploader
	store     Store
}

func NewGenerator(loader TextLoader, generator QuestionGenerator, uploader Uploader, store Store) *Generator {
	return &Generator{
		loader:    loader,
		generator: generator,
		uploader:  uploader,
		store:     store,
	}
}

type Response struct {
	Message   string                `json:"message"`
	Questions *models.ExamQuestions `json:"questions"`
	FileURL   string                `json:"file_url"`
}

// Generate drafts exam questions from a PDF, renders them as a paper and publishes it.
func (g *Generator) Generate(ctx context.Context, req ingestion.MaterialRequest) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meta := req.Metadata

	logger.Info("Generating exam",
		zap.String("pdf_url", req.PDFURL),
		zap.String("class_id", meta.ClassID),
		zap.String("subject", meta.Subject),
	)

	text, err := g.loader.Load(ctx, strings.TrimSpace(req.PDFURL))
	if err != nil {
		metrics.ExamsGenerated.WithLabelValues("fetch_error").Inc()
		return nil, apperr.Upstream("failed to download PDF", err)
	}
	if strings.TrimSpace(text) == "" {
		metrics.ExamsGenerated.WithLabelValues("empty").Inc()
		return nil, apperr.InvalidInput("no text extracted from PDF")
	}

	questions, err := g.generator.GenerateExam(ctx, text)
	if err != nil {
		metrics.ExamsGenerated.WithLabelValues("generation_error").Inc()
		return nil, err
	}

	paper, err := RenderPaper(meta.Subject, questions)
	if err != nil {
		metrics.ExamsGenerated.WithLabelValues("render_error").Inc()
		return nil, apperr.Wrap(apperr.KindInternal, "failed to render exam paper", err)
	}

	fileName := fmt.Sprintf("exam_%s.pdf", uuid.New().String())
	fileURL, err := g.uploader.Upload(ctx, fileName, paper, "application/pdf")
	if err != nil {
		metrics.ExamsGenerated.WithLabelValues("upload_error").Inc()
		return nil, apperr.Upstream("failed to upload exam paper", err)
	}

	record := &models.ExamRecord{
		Subject:    meta.Subject,
		FileURL:    fileURL,
		TeacherID:  meta.TeacherID,
		MaterialID: meta.MaterialID,
		ClassID:    meta.ClassID,
	}
	if err := g.store.InsertExam(ctx, record); err != nil {
		metrics.ExamsGenerated.WithLabelValues("store_error").Inc()
		return nil, apperr.Upstream("failed to store exam record", err)
	}

	metrics.ExamsGenerated.WithLabelValues("success").Inc()
	logger.Info("Exam generated",
		zap.String("exam_id", record.ID),
		zap.String("file_url", fileURL),
		zap.Int("bytes", len(paper)),
	)

	return &Response{
		Message:   "Exam generated and stored successfully",
		Questions: questions,
		FileURL:   fileURL,
	}, nil
}
