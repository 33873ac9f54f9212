package scrape

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/metrics"
	"github.com/zerolabs/zeroweb/internal/progress"
)

// Sink receives successfully scraped records, typically the vector
// index. Sink errors are logged, never fatal to the scan.
type Sink interface {
	Add(ctx context.Context, rec crawl.PageRecord) error
}

// Config sizes the scrape worker pool and its polling behavior.
type Config struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	IdlePolls    int
}

// Scheduler runs a scan: a discovery phase that feeds URLs into the
// store, then a pool of workers that claim batches and scrape them.
// Claims are at-most-once per batch; processing is at-least-once, with
// idempotent writes absorbing redelivery after claim expiry.
type Scheduler struct {
	cfg        Config
	store      crawl.ContentStore
	discoverer crawl.Discoverer
	fetcher    crawl.Fetcher
	sink       Sink
	tracker    *progress.Tracker
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewScheduler wires a scheduler. sink and tracker may be nil.
func NewScheduler(
	cfg Config,
	store crawl.ContentStore,
	discoverer crawl.Discoverer,
	fetcher crawl.Fetcher,
	sink Sink,
	tracker *progress.Tracker,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.IdlePolls <= 0 {
		cfg.IdlePolls = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		discoverer: discoverer,
		fetcher:    fetcher,
		sink:       sink,
		tracker:    tracker,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Run discovers URLs for the given domains and scrapes until the
// pending set drains. It returns the number of pages newly discovered.
func (s *Scheduler) Run(ctx context.Context, domains []string) (int, error) {
	discovered, err := s.discover(ctx, domains)
	if err != nil {
		return 0, err
	}

	if s.tracker != nil {
		pending, err := s.store.CountPending(ctx)
		if err != nil {
			return discovered, fmt.Errorf("count pending: %w", err)
		}
		s.tracker.AddTotal(pending)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			return s.workerLoop(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return discovered, err
	}
	return discovered, nil
}

// discover runs the discovery strategy for each domain concurrently and
// upserts the results. An unreachable domain logs and contributes
// nothing; it never fails the scan.
func (s *Scheduler) discover(ctx context.Context, domains []string) (int, error) {
	var (
		mu    sync.Mutex
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, domain := range domains {
		g.Go(func() error {
			urls, delay, err := s.discoverer.Discover(gctx, domain)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("discovery failed; skipping domain",
					zap.String("domain", domain), zap.Error(err))
				return nil
			}
			inserted := 0
			for _, u := range urls {
				_, fresh, err := s.store.UpsertURL(gctx, u, delay)
				if err != nil {
					return fmt.Errorf("upsert %s: %w", u, err)
				}
				if fresh {
					inserted++
				}
			}
			s.logger.Info("domain discovered",
				zap.String("domain", domain),
				zap.Int("urls", len(urls)),
				zap.Int("new", inserted),
			)
			mu.Lock()
			total += inserted
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// claimErrorBudget bounds consecutive ClaimBatch failures a worker
// tolerates before giving up on the store.
const claimErrorBudget = 5

// workerLoop claims and scrapes batches until idle_polls consecutive
// empty claims signal the pending set has drained. Transient claim
// failures back off and retry; only claimErrorBudget failures in a
// row abort the worker.
func (s *Scheduler) workerLoop(ctx context.Context) error {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	idle := 0
	claimErrs := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.store.ClaimBatch(ctx, s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			claimErrs++
			if claimErrs >= claimErrorBudget {
				return fmt.Errorf("claim batch: %w", err)
			}
			s.logger.Warn("claim batch failed; backing off",
				zap.Int("consecutive_errors", claimErrs),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		claimErrs = 0
		if len(batch) == 0 {
			idle++
			if idle >= s.cfg.IdlePolls {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		idle = 0
		metrics.ObserveClaimBatch(len(batch))
		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.scrapeOne(ctx, rec)
		}
	}
}

// scrapeOne fetches and stores a single claimed page. Failures are
// logged and the claim is left to expire, requeueing the URL.
func (s *Scheduler) scrapeOne(ctx context.Context, rec crawl.PageRecord) {
	domain := domainOf(rec.URL)

	if err := s.limiter(domain, rec.CrawlDelay).Wait(ctx); err != nil {
		return
	}

	page, err := s.fetcher.Fetch(ctx, rec.URL)
	if err != nil {
		s.fail(domain, "fetch", rec, err)
		return
	}
	ex, err := Extract(page.Body)
	if err != nil {
		s.fail(domain, "parse", rec, err)
		return
	}

	var fullText *string
	if ex.FullText != "" {
		fullText = &ex.FullText
	}
	if err := s.store.WriteResult(ctx, rec.ID, ex.Title, ex.Snippet, fullText); err != nil {
		s.fail(domain, "store", rec, err)
		return
	}

	metrics.PageScraped(domain)
	if s.tracker != nil {
		s.tracker.Done()
	}

	if s.sink != nil {
		rec.Title = ex.Title
		rec.Snippet = &ex.Snippet
		rec.FullText = fullText
		if err := s.sink.Add(ctx, rec); err != nil {
			s.logger.Warn("index add failed",
				zap.String("url", rec.URL), zap.Error(err))
		}
	}
}

func (s *Scheduler) fail(domain, kind string, rec crawl.PageRecord, err error) {
	metrics.ScrapeFailed(domain, kind)
	if s.tracker != nil {
		s.tracker.Failed()
	}
	s.logger.Warn("scrape failed",
		zap.String("url", rec.URL),
		zap.String("kind", kind),
		zap.Int("retries", rec.Retries),
		zap.Error(err),
	)
}

// limiter returns the per-domain rate limiter, creating it from the
// row's crawl delay on first use.
func (s *Scheduler) limiter(domain string, delaySeconds float64) *rate.Limiter {
	if delaySeconds <= 0 {
		delaySeconds = crawl.DefaultCrawlDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[domain]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(1/delaySeconds), 1)
	s.limiters[domain] = l
	return l
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return crawl.NormalizeDomain(u.Host)
}
