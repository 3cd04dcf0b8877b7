package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/smartclass/backend/pkg/logger"
)

type Config struct {
	Bucket          string
	PublicBaseURL   string
	CredentialsFile string
	// Endpoint points the client at an emulator such as fake-gcs-server.
	Endpoint string
}

type GCS struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

func NewGCS(ctx context.Context, cfg Config) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	logger.Info("Blob storage initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", cfg.Endpoint),
	)

	return &GCS{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// Upload writes data under name and returns its public URL.
func (g *GCS) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close object writer: %w", err)
	}

	url := PublicURL(g.publicBaseURL, g.bucket, name)
	logger.Info("Blob uploaded",
		zap.String("bucket", g.bucket),
		zap.String("name", name),
		zap.Int("bytes", len(data)),
	)
	return url, nil
}

func PublicURL(baseURL, bucket, name string) string {
	name = strings.TrimLeft(name, "/")
	if baseURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), bucket, name)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, name)
}
