package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const robotsBodyLimit = 1 << 20

// Policy answers allow/deny and crawl-delay queries for one host. A nil
// Policy means robots.txt could not be fetched and callers must treat
// it as allow-all with the default crawl delay.
type Policy struct {
	group *robotstxt.Group
}

// Allowed reports whether the robots directives permit fetching rawURL.
func (p *Policy) Allowed(rawURL string) bool {
	if p == nil || p.group == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	pth := u.Path
	if pth == "" {
		pth = "/"
	}
	return p.group.Test(pth)
}

// CrawlDelay returns the requested delay between fetches in seconds,
// falling back to DefaultCrawlDelay when robots.txt is silent.
func (p *Policy) CrawlDelay() float64 {
	if p == nil || p.group == nil || p.group.CrawlDelay <= 0 {
		return DefaultCrawlDelay
	}
	return p.group.CrawlDelay.Seconds()
}

// Policies fetches and caches robots.txt per host for the duration of
// a crawl session. Fetch failures are never fatal: they yield a nil
// Policy, which allows everything.
type Policies struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// NewPolicies builds a robots.txt cache using the given user agent.
func NewPolicies(userAgent string, logger *zap.Logger) *Policies {
	return &Policies{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Get returns the Policy for a domain, fetching robots.txt on first
// use. A nil result (fetch or parse failure) means allow-all.
func (r *Policies) Get(ctx context.Context, domain string) *Policy {
	hostKey := strings.ToLower(NormalizeDomain(domain))
	if cached, ok := r.cache.Load(hostKey); ok {
		policy, _ := cached.(*Policy)
		return policy
	}

	policy, err := r.fetch(ctx, hostKey)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", hostKey), zap.Error(err))
		policy = nil
	}
	// Negative results are cached too: one failed fetch per session.
	r.cache.Store(hostKey, policy)
	return policy
}

func (r *Policies) fetch(ctx context.Context, host string) (*Policy, error) {
	robotsURL := url.URL{
		Scheme: "https",
		Host:   host,
		Path:   path.Join("/", "robots.txt"),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		group = data.FindGroup("*")
	}
	return &Policy{group: group}, nil
}

// Seed caches a policy parsed from robotsBody without any network
// fetch. Used by tests and offline tooling.
func (r *Policies) Seed(domain string, robotsBody string) error {
	data, err := robotstxt.FromStatusAndBytes(http.StatusOK, []byte(robotsBody))
	if err != nil {
		return fmt.Errorf("parse robots: %w", err)
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		group = data.FindGroup("*")
	}
	r.cache.Store(strings.ToLower(NormalizeDomain(domain)), &Policy{group: group})
	return nil
}
