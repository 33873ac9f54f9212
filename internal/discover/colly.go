package discover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/metrics"
)

// Crawler discovers URLs by breadth-first crawling a domain's pages.
type Crawler struct {
	policies  *crawl.Policies
	logger    *zap.Logger
	userAgent string
	maxDepth  int
	maxURLs   int

	// seedURLs overrides the https://<domain>/ starting points in tests.
	seedURLs []string
}

var _ crawl.Discoverer = (*Crawler)(nil)

// NewCrawler builds a breadth-first discoverer. maxURLs caps how many
// URLs a single Discover call may collect per domain.
func NewCrawler(policies *crawl.Policies, userAgent string, maxDepth, maxURLs int, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		policies:  policies,
		logger:    logger,
		userAgent: userAgent,
		maxDepth:  maxDepth,
		maxURLs:   maxURLs,
	}
}

// Discover crawls the domain from its root and returns the deduplicated
// set of allowed URLs along with the robots crawl delay in seconds.
func (c *Crawler) Discover(ctx context.Context, domain string) ([]string, float64, error) {
	domain = crawl.NormalizeDomain(domain)
	if domain == "" {
		return nil, 0, fmt.Errorf("empty domain")
	}

	policy := c.policies.Get(ctx, domain)
	delay := policy.CrawlDelay()
	filter := NewFilter(domain)

	collector := colly.NewCollector(
		colly.AllowedDomains(domain, "www."+domain),
		colly.MaxDepth(c.maxDepth),
		colly.UserAgent(c.userAgent),
		colly.Async(true),
	)
	collector.AllowURLRevisit = false

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       time.Duration(delay * float64(time.Second)),
	}); err != nil {
		return nil, 0, fmt.Errorf("set collector limits: %w", err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		urls []string
	)
	record := func(rawURL string) bool {
		normalized, err := crawl.NormalizeURL(rawURL)
		if err != nil {
			return false
		}
		if !filter.Allow(normalized) || !policy.Allowed(normalized) {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[normalized]; dup {
			return true
		}
		if c.maxURLs > 0 && len(urls) >= c.maxURLs {
			return false
		}
		seen[normalized] = struct{}{}
		urls = append(urls, normalized)
		return true
	}
	full := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return c.maxURLs > 0 && len(urls) >= c.maxURLs
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || full() {
			r.Abort()
			return
		}
		if !policy.Allowed(r.URL.String()) {
			r.Abort()
		}
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if !record(link) {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			// Depth limits and revisits surface as errors here; only
			// worth a debug line.
			c.logger.Debug("skipping link", zap.String("url", link), zap.Error(err))
		}
	})
	collector.OnHTML("link[href]", func(e *colly.HTMLElement) {
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			record(link)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		record(r.Request.URL.String())
	})
	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("discovery request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	// Seed both the apex and the www host; sites that answer on only
	// one of them still get crawled.
	seeds := []string{"https://" + domain + "/", "https://www." + domain + "/"}
	if len(c.seedURLs) > 0 {
		seeds = c.seedURLs
	}
	var lastErr error
	seeded := false
	for _, seed := range seeds {
		if err := collector.Visit(seed); err != nil {
			lastErr = fmt.Errorf("visit %s: %w", seed, err)
			continue
		}
		seeded = true
	}
	if !seeded {
		return nil, 0, lastErr
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	metrics.URLsDiscovered(domain, "crawl", len(urls))
	c.logger.Info("discovery crawl finished",
		zap.String("domain", domain),
		zap.Int("urls", len(urls)),
		zap.Float64("crawl_delay_seconds", delay),
	)
	return urls, delay, nil
}
