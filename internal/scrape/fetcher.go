// Package scrape runs the parallel scrape phase: claiming URL batches
// from the store, fetching pages politely and writing back titles,
// snippets and embeddings.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

const maxBodyBytes = 4 << 20

// HTTPFetcher fetches pages with a shared client and a fixed user
// agent. One instance serves all workers.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

var _ crawl.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch retrieves url. Non-2xx statuses and non-HTML content types are
// returned as errors so callers treat them as scrape failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (crawl.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return crawl.Page{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return crawl.Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawl.Page{URL: url, StatusCode: resp.StatusCode},
			fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return crawl.Page{URL: url, StatusCode: resp.StatusCode},
			fmt.Errorf("fetch %s: unsupported content type %q", url, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return crawl.Page{}, fmt.Errorf("read body of %s: %w", url, err)
	}
	return crawl.Page{URL: url, StatusCode: resp.StatusCode, Body: body}, nil
}
