package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/yourusername/episode-offline-go/internal/domain"
	"go.uber.org/zap"
)

// HTTPFetcher implements domain.Fetcher over net/http
type HTTPFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPFetcher creates a fetcher; a nil client uses http.DefaultClient
func NewHTTPFetcher(client *http.Client, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{client: client, logger: logger}
}

// Fetch GETs url tagged with the job id and copies the body into w
func (f *HTTPFetcher) Fetch(ctx context.Context, jobID, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if jobID != "" {
		req.Header.Set(domain.JobHeader, jobID)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetch %s: bad status: %s", url, resp.Status)
	}

	if w == nil {
		w = io.Discard
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", url, err)
	}

	f.logger.Debug("Fetched resource",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.Int64("bytes", n),
		zap.String("cache", resp.Header.Get("X-Cache")))

	return n, nil
}
