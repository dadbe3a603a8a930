package download

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/nselftv/mediastore/pkg/storage"
)

// FetchResult is an open source stream plus the metadata the source
// declared about it. Size is -1 when the source did not send a
// Content-Length.
type FetchResult struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Fetcher opens a byte stream for a source URL. The default implementation
// wraps net/http; tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// HTTPFetcher fetches over HTTP(S) with a standard client.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher creates a fetcher using http.DefaultClient.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: http.DefaultClient}
}

// Fetch issues a GET and returns the response stream. The caller owns the
// body. Non-2xx responses are errors; 404 maps to storage.ErrNotFound.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("source %s: %w", url, storage.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("source %s returned status %d: %w", url, resp.StatusCode, storage.ErrTransferFailed)
	}

	return &FetchResult{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
