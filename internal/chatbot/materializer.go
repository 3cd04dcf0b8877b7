package chatbot

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
	"github.com/smartclass/backend/pkg/utils"
)

const DefaultDocumentChars = 2000

// TextLoader downloads a document and returns its extracted text.
type TextLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

// TextCache remembers extracted text by document URL.
type TextCache interface {
	GetText(ctx context.Context, url string) (string, bool, error)
	SetText(ctx context.Context, url, text string) error
}

type Materializer struct {
	loader   TextLoader
	cache    TextCache
	maxChars int
}

// NewMaterializer builds a Materializer. cache may be nil.
func NewMaterializer(loader TextLoader, cache TextCache, maxChars int) *Materializer {
	if maxChars <= 0 {
		maxChars = DefaultDocumentChars
	}
	return &Materializer{loader: loader, cache: cache, maxChars: maxChars}
}

// Materialize loads the selected documents concurrently and returns them in selection order.
// Documents that fail to load or yield no text are logged and left out.
func (m *Materializer) Materialize(ctx context.Context, selected []Candidate) []models.GroundingDocument {
	if len(selected) == 0 {
		return nil
	}

	texts := make([]string, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range selected {
		i, url := i, c.Preview.PDFURL
		g.Go(func() error {
			texts[i] = m.load(gctx, url)
			return nil
		})
	}
	_ = g.Wait()

	docs := make([]models.GroundingDocument, 0, len(selected))
	for i, c := range selected {
		if texts[i] == "" {
			continue
		}
		docs = append(docs, models.GroundingDocument{
			Title: utils.LastPathSegment(c.Preview.PDFURL),
			Text:  texts[i],
		})
	}
	return docs
}

func (m *Materializer) load(ctx context.Context, url string) string {
	if m.cache != nil {
		text, ok, err := m.cache.GetText(ctx, url)
		if err != nil {
			logger.Warn("Text cache lookup failed", zap.String("url", url), zap.Error(err))
		} else if ok {
			return text
		}
	}

	text, err := m.loader.Load(ctx, url)
	if err != nil {
		metrics.MaterializeFailures.Inc()
		logger.Warn("Failed to materialize document", zap.String("url", url), zap.Error(err))
		return ""
	}

	text = utils.Truncate(strings.TrimSpace(text), m.maxChars)
	if text == "" {
		metrics.MaterializeFailures.Inc()
		logger.Warn("Document produced no text", zap.String("url", url))
		return ""
	}

	if m.cache != nil {
		if err := m.cache.SetText(ctx, url, text); err != nil {
			logger.Warn("Failed to cache document text", zap.String("url", url), zap.Error(err))
		}
	}
	return text
}
