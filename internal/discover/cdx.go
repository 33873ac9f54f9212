package discover

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/metrics"
)

// CDX discovers URLs from a Common Crawl CDX index instead of crawling
// the live site. It issues paged queries like
// <server>/<index>-index?url=<domain>/*&output=json and follows the
// Link rel="next" header until the page cap is hit.
type CDX struct {
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	policies  *crawl.Policies
	server    string
	index     string
	userAgent string
	maxURLs   int
}

var _ crawl.Discoverer = (*CDX)(nil)

// NewCDX builds a CDX discoverer against server (for example
// http://index.commoncrawl.org) and index (for example CC-MAIN-2024-10).
func NewCDX(policies *crawl.Policies, server, index, userAgent string, maxURLs int, logger *zap.Logger) *CDX {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CDX{
		client:  &http.Client{Timeout: 30 * time.Second},
		// The public CDX endpoint rate limits aggressively; one request
		// per second keeps paging reliable.
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
		logger:    logger,
		policies:  policies,
		server:    strings.TrimRight(server, "/"),
		index:     index,
		userAgent: userAgent,
		maxURLs:   maxURLs,
	}
}

// cdxRecord is one JSON line of a CDX response. Only the URL matters.
type cdxRecord struct {
	URL        string `json:"url"`
	Status     string `json:"status"`
	MimeType   string `json:"mime"`
	StatusCode string `json:"statuscode"`
}

// Discover queries the CDX index for the domain and returns allowed,
// normalized URLs and the domain's robots crawl delay.
func (c *CDX) Discover(ctx context.Context, domain string) ([]string, float64, error) {
	domain = crawl.NormalizeDomain(domain)
	if domain == "" {
		return nil, 0, fmt.Errorf("empty domain")
	}

	policy := c.policies.Get(ctx, domain)
	delay := policy.CrawlDelay()
	filter := NewFilter(domain)

	seen := make(map[string]struct{})
	var urls []string

	pageURL := fmt.Sprintf("%s/%s-index?url=%s&output=json",
		c.server, c.index, url.QueryEscape(domain+"/*"))
	for pageURL != "" {
		if c.maxURLs > 0 && len(urls) >= c.maxURLs {
			break
		}
		next, err := c.fetchPage(ctx, pageURL, func(rec cdxRecord) {
			if !rec.ok() {
				return
			}
			normalized, err := crawl.NormalizeURL(rec.URL)
			if err != nil {
				return
			}
			if !filter.Allow(normalized) || !policy.Allowed(normalized) {
				return
			}
			if _, dup := seen[normalized]; dup {
				return
			}
			if c.maxURLs > 0 && len(urls) >= c.maxURLs {
				return
			}
			seen[normalized] = struct{}{}
			urls = append(urls, normalized)
		})
		if err != nil {
			// Partial results from earlier pages are still useful.
			if len(urls) > 0 {
				c.logger.Warn("cdx paging stopped early",
					zap.String("domain", domain), zap.Error(err))
				break
			}
			return nil, 0, err
		}
		pageURL = next
	}

	metrics.URLsDiscovered(domain, "cdx", len(urls))
	c.logger.Info("cdx discovery finished",
		zap.String("domain", domain),
		zap.String("index", c.index),
		zap.Int("urls", len(urls)),
	)
	return urls, delay, nil
}

func (rec cdxRecord) ok() bool {
	if rec.URL == "" {
		return false
	}
	status := rec.Status
	if status == "" {
		status = rec.StatusCode
	}
	if status != "" && status != "200" {
		return false
	}
	if rec.MimeType != "" && !strings.Contains(rec.MimeType, "html") {
		return false
	}
	return true
}

// fetchPage reads one CDX result page of JSON lines and returns the URL
// of the next page from the Link header, or "" when paging is done.
func (c *CDX) fetchPage(ctx context.Context, pageURL string, emit func(cdxRecord)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("new cdx request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch cdx page: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close cdx response body", zap.Error(cerr))
		}
	}()
	// 404 means the index has no captures for this domain.
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cdx page %s: status %d", pageURL, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec cdxRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			c.logger.Debug("skipping malformed cdx line", zap.Error(err))
			continue
		}
		emit(rec)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read cdx page: %w", err)
	}
	return nextLink(resp.Header.Get("Link")), nil
}

// nextLink extracts the rel="next" target from a Link header value.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.IndexByte(part, '<')
		end := strings.IndexByte(part, '>')
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}
