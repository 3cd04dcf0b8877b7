package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/smartclass/backend/pkg/logger"
	"github.com/smartclass/backend/pkg/retry"
)

// FetchError reports a failed download. StatusCode is zero for network failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var ErrTooLarge = errors.New("response body exceeds size limit")

type FetcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	MaxBytes    int64
}

type Fetcher struct {
	httpClient  *http.Client
	maxBytes    int64
	retryConfig retry.Config
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 50 << 20
	}

	rc := retry.DefaultConfig()
	rc.Name = "document fetch"
	rc.Logger = logger.GetLogger()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}

	return &Fetcher{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxBytes:    cfg.MaxBytes,
		retryConfig: rc,
	}
}

// Fetch downloads url. Client errors (4xx) are returned without retrying.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithResult(ctx, f.retryConfig, func() ([]byte, error) {
		return f.fetchOnce(ctx, url)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(&FetchError{URL: url, Err: err})
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fetchErr := &FetchError{URL: url, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(fetchErr)
		}
		return nil, fetchErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, retry.Permanent(&FetchError{URL: url, Err: ErrTooLarge})
	}

	logger.Debug("Document fetched", zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}
