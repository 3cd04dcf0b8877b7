package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/smartclass/backend/pkg/logger"
)

var horizontalSpace = regexp.MustCompile(`[ \t\f\v\r]+`)

type Extractor struct{}

// Extract returns the plain text of a PDF, or "" if the bytes cannot be parsed.
func (Extractor) Extract(data []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("PDF extraction panicked", zap.Any("panic", r))
			text = ""
		}
	}()

	if len(data) < 5 || string(data[:5]) != "%PDF-" {
		logger.Warn("PDF extraction skipped: missing %PDF header", zap.Int("bytes", len(data)))
		return ""
	}

	text, err := extractPDF(data)
	if err != nil {
		logger.Warn("PDF extraction failed", zap.Error(err))
		return ""
	}
	return text
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return normalize(string(b)), nil
}

func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

type fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Loader downloads a PDF and extracts its text.
type Loader struct {
	fetcher   fetcher
	extractor Extractor
}

func NewLoader(f fetcher) *Loader {
	return &Loader{fetcher: f}
}

// Load returns the fetch error if the download fails; an unparseable PDF yields "" and no error.
func (l *Loader) Load(ctx context.Context, url string) (string, error) {
	logger.Info("Extracting text", zap.String("url", url))

	data, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return l.extractor.Extract(data), nil
}
