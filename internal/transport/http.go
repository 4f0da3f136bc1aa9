// Package transport is the HTTP collaborator: it fetches a URL into a
// local file and knows nothing about manifests or signatures.
package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/meganz/megacmd-updater/pkg/version"
)

// Fetcher downloads a URL into a destination file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// HTTPClient fetches over plain HTTP with a bounded per-request timeout.
type HTTPClient struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPClient creates a fetcher with the given per-download timeout.
func NewHTTPClient(timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// Fetch downloads url into dest, creating or truncating it. A 200 with an
// empty body produces an empty file, which the transaction layer reads as a
// deletion request.
func (c *HTTPClient) Fetch(ctx context.Context, url, dest string) error {
	c.logger.Info().Str("url", url).Msg("downloading file")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: fetch %s: unexpected HTTP %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("transport: create %s: %w", dest, err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("transport: write %s: %w", dest, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("transport: finalize %s: %w", dest, closeErr)
	}

	c.logger.Info().Str("dest", dest).Int64("bytes", n).Msg("file downloaded")
	return nil
}

// RandomQuerySuffix returns "?" followed by 10 random uppercase ASCII
// letters, appended to every requested URL to defeat intermediary caches.
func RandomQuerySuffix() string {
	suffix := make([]byte, 11)
	suffix[0] = '?'
	for i := 1; i < len(suffix); i++ {
		suffix[i] = byte('A' + rand.Intn(26))
	}
	return string(suffix)
}
