package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
	"github.com/smartclass/backend/pkg/utils"
)

// PreviewChars is the prefix of extracted text kept with each quiz for chatbot scoring.
const PreviewChars = 3000

type TextLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

type QuizGenerator interface {
	GenerateQuiz(ctx context.Context, text string) ([]models.MCQ, error)
}

type QuizStore interface {
	InsertQuiz(ctx context.Context, quiz *models.Quiz) error
}

type Processor struct {
	loader    TextLoader
	generator QuizGenerator
	store     QuizStore
}

func NewProcessor(loader TextLoader, generator QuizGenerator, store QuizStore) *Processor {
	return &Processor{
		loader:    loader,
		generator: generator,
		store:     store,
	}
}

// MaterialRequest names an uploaded PDF and the class it belongs to.
type MaterialRequest struct {
	PDFURL   string                  `json:"pdf_url"`
	Metadata models.MaterialMetadata `json:"metadata"`
}

func (r *MaterialRequest) Validate() error {
	if err := ValidatePDFURL(r.PDFURL); err != nil {
		return err
	}

	missing := make([]string, 0, 4)
	for _, f := range []struct{ name, value string }{
		{"class_id", r.Metadata.ClassID},
		{"material_id", r.Metadata.MaterialID},
		{"subject", r.Metadata.Subject},
		{"teacher_id", r.Metadata.TeacherID},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.InvalidInput("missing metadata keys: " + strings.Join(missing, ", "))
	}
	return nil
}

// ValidatePDFURL accepts absolute http and https URLs only.
func ValidatePDFURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.InvalidInput("pdf_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.InvalidInput("invalid pdf_url")
	}
	return nil
}

type UploadResponse struct {
	Status      string                  `json:"status"`
	Questions   []models.MCQ            `json:"questions"`
	TextPreview string                  `json:"text_preview"`
	Metadata    models.MaterialMetadata `json:"metadata"`
}

// ProcessUpload extracts a PDF's text and drafts a quiz from it. Nothing is stored;
// the teacher reviews the quiz and saves it with StoreQuiz.
func (p *Processor) ProcessUpload(ctx context.Context, req MaterialRequest) (*UploadResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Processing upload",
		zap.String("pdf_url", req.PDFURL),
		zap.String("class_id", req.Metadata.ClassID),
		zap.String("material_id", req.Metadata.MaterialID),
	)

	text, err := p.loader.Load(ctx, strings.TrimSpace(req.PDFURL))
	if err != nil {
		metrics.MaterialsProcessed.WithLabelValues("fetch_error").Inc()
		return nil, apperr.Upstream("failed to fetch PDF", err)
	}
	if strings.TrimSpace(text) == "" {
		metrics.MaterialsProcessed.WithLabelValues("empty").Inc()
		return nil, apperr.Upstream("text extraction failed or empty content", nil)
	}

	questions, err := p.generator.GenerateQuiz(ctx, text)
	if err != nil {
		metrics.MaterialsProcessed.WithLabelValues("generation_error").Inc()
		return nil, err
	}

	metrics.MaterialsProcessed.WithLabelValues("success").Inc()
	logger.Info("Upload processed",
		zap.String("material_id", req.Metadata.MaterialID),
		zap.Int("text_length", len(text)),
		zap.Int("questions", len(questions)),
	)

	return &UploadResponse{
		Status:      "success",
		Questions:   questions,
		TextPreview: utils.Truncate(text, PreviewChars),
		Metadata:    req.Metadata,
	}, nil
}

type StoreQuizRequest struct {
	TeacherID   string          `json:"teacher_id"`
	ClassID     string          `json:"class_id"`
	Subject     string          `json:"subject"`
	Questions   json.RawMessage `json:"questions"`
	MaterialID  string          `json:"material_id"`
	PDFURL      string          `json:"pdf_url"`
	TextPreview string          `json:"text_preview"`
}

func (r *StoreQuizRequest) Validate() error {
	missing := make([]string, 0, 7)
	for _, f := range []struct{ name, value string }{
		{"teacher_id", r.TeacherID},
		{"class_id", r.ClassID},
		{"subject", r.Subject},
		{"material_id", r.MaterialID},
		{"pdf_url", r.PDFURL},
		{"text_preview", r.TextPreview},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	q := bytes.TrimSpace(r.Questions)
	if len(q) == 0 || bytes.Equal(q, []byte("null")) {
		missing = append(missing, "questions")
	}
	if len(missing) > 0 {
		return apperr.InvalidInput("missing fields: " + strings.Join(missing, ", "))
	}
	if !json.Valid(q) {
		return apperr.InvalidInput("questions must be valid JSON")
	}
	return ValidatePDFURL(r.PDFURL)
}

type StoreQuizResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (p *Processor) StoreQuiz(ctx context.Context, req StoreQuizRequest) (*StoreQuizResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	quiz := &models.Quiz{
		CreatedBy:   req.TeacherID,
		ClassID:     req.ClassID,
		Subject:     req.Subject,
		Questions:   json.RawMessage(bytes.TrimSpace(req.Questions)),
		MaterialID:  req.MaterialID,
		PDFURL:      req.PDFURL,
		TextPreview: req.TextPreview,
	}

	if err := p.store.InsertQuiz(ctx, quiz); err != nil {
		return nil, apperr.Upstream("failed to store quiz", fmt.Errorf("failed to insert quiz: %w", err))
	}

	logger.Info("Quiz stored",
		zap.String("quiz_id", quiz.ID),
		zap.String("class_id", quiz.ClassID),
		zap.String("created_by", quiz.CreatedBy),
	)

	return &StoreQuizResponse{Message: "Quiz stored successfully", ID: quiz.ID}, nil
}
