package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/pkg/logger"
	"github.com/smartclass/backend/pkg/utils"
)

// TextCache stores extracted document text by a hash of the document URL.
type TextCache struct {
	client *redis.Client
	ttl    time.Duration
}

func (c *Client) TextCache(ttl time.Duration) *TextCache {
	return &TextCache{client: c.client, ttl: ttl}
}

func textKey(url string) string {
	return "doctext:" + utils.HashString(url)
}

func (t *TextCache) GetText(ctx context.Context, url string) (string, bool, error) {
	text, err := t.client.Get(ctx, textKey(url)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("document_text").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get document text: %w", err)
	}

	metrics.CacheHits.WithLabelValues("document_text").Inc()
	logger.Debug("Document text cache hit", zap.String("url", url))
	return text, true, nil
}

func (t *TextCache) SetText(ctx context.Context, url, text string) error {
	if err := t.client.Set(ctx, textKey(url), text, t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set document text: %w", err)
	}
	return nil
}
