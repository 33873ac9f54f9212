package crawl

import (
	"context"
)

// ContentStore is the durable record of discovered URLs and their
// scraped content. It is the only mutable resource shared between
// workers; all claim semantics live behind this interface.
type ContentStore interface {
	// UpsertURL inserts a URL row if absent. Idempotent under
	// concurrent callers; the bool reports whether a row was created.
	UpsertURL(ctx context.Context, url string, crawlDelay float64) (int64, bool, error)

	// ClaimBatch atomically selects and claims up to limit unscraped
	// rows. Two concurrent callers never receive the same row.
	ClaimBatch(ctx context.Context, limit int) ([]PageRecord, error)

	// WriteResult stores the scrape outcome and releases the claim.
	WriteResult(ctx context.Context, id int64, title string, snippet string, fullText *string) error

	// WriteFullText fills the full_text column for a URL, used by the
	// search engine's lazy retrieval path.
	WriteFullText(ctx context.Context, url string, text string) error

	// FullText returns the stored full text for a URL, if any.
	FullText(ctx context.Context, url string) (string, bool, error)

	// WriteEmbedding persists an embedding vector for a row.
	WriteEmbedding(ctx context.Context, id int64, vec []float32) error

	// ScanAll streams every row to fn in id order. Used for index
	// reconstruction. fn returning an error aborts the scan.
	ScanAll(ctx context.Context, fn func(PageRecord) error) error

	// CountPending reports rows still awaiting a scrape.
	CountPending(ctx context.Context) (int64, error)
}

// DomainStore manages the set of crawl targets.
type DomainStore interface {
	AddDomain(ctx context.Context, name string) (bool, error)
	ListDomains(ctx context.Context) ([]Domain, error)
	RemoveDomain(ctx context.Context, name string) (bool, error)
}

// Discoverer produces candidate URLs for a domain, already filtered by
// robots policy and URL-shape heuristics, plus the crawl delay the
// domain's robots.txt requests. An unreachable domain yields an empty
// slice, not an error.
type Discoverer interface {
	Discover(ctx context.Context, domain string) (urls []string, crawlDelay float64, err error)
}

// Embedder turns text into a fixed-dimension vector. Deterministic for
// a given model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// Reporter compiles retrieved page text into a report. Upstream errors
// surface as returned errors, never panics; callers degrade to the
// bare result list.
type Reporter interface {
	Summarize(ctx context.Context, corpus string, query string) (string, error)
}

// Fetcher retrieves a page body. The scheduler and search engine share
// one implementation (and thus one HTTP client).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Page is a fetched document ready for extraction.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}
