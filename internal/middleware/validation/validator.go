package validation

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxQuestionLength   int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// pdfRoutes take a pdf_url that is downloaded server side.
var pdfRoutes = []string{"/upload", "/question/generate-exam"}

// Middleware rejects malformed requests before they reach a handler. Handlers still
// validate the full request shape; this layer only screens cheap structural problems.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEApplicationForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		path := strings.TrimSuffix(c.Path(), "/")

		if path == "/chatbot" {
			var req struct {
				Question string `json:"question"`
			}
			if err := c.BodyParser(&req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			if utf8.RuneCountInString(req.Question) > cfg.MaxQuestionLength {
				cfg.Logger.Warn("Question too long",
					zap.String("ip", c.IP()),
					zap.Int("length", utf8.RuneCountInString(req.Question)),
				)
				return reject(c, fiber.StatusBadRequest, "Question exceeds maximum length")
			}
			if strings.ContainsRune(req.Question, 0) {
				return reject(c, fiber.StatusBadRequest, "Invalid question content")
			}
		}

		for _, route := range pdfRoutes {
			if path != route {
				continue
			}
			var req struct {
				PDFURL string `json:"pdf_url"`
			}
			if err := c.BodyParser(&req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			if req.PDFURL != "" && !isValidURL(req.PDFURL) {
				cfg.Logger.Warn("Rejected pdf_url", zap.String("ip", c.IP()), zap.String("pdf_url", req.PDFURL))
				return reject(c, fiber.StatusBadRequest, "invalid pdf_url")
			}
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.HasPrefix(strings.ToLower(contentType), t) {
			return true
		}
	}
	return false
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"kind":  "invalid_input",
	})
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
