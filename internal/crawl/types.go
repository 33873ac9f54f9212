// Package crawl defines the core types and capability interfaces shared
// across the scrape-and-index pipeline.
package crawl

import (
	"time"
)

// DefaultCrawlDelay is applied when robots.txt is missing or silent.
const DefaultCrawlDelay = 1.0

// PageRecord is the durable row kept for every discovered URL. It moves
// through the pipeline via its nullable columns: discovery creates the
// row with Snippet nil, scraping fills Title/Snippet (and clears the
// claim), indexing fills Embedding.
type PageRecord struct {
	ID         int64
	URL        string
	Title      string
	Snippet    *string
	FullText   *string
	Embedding  []float32
	CrawlDelay float64
	ClaimedAt  *time.Time
	Retries    int
}

// Scraped reports whether the record has passed through the scraper.
func (p PageRecord) Scraped() bool {
	return p.Snippet != nil
}

// Domain is a managed hostname, deduplicated by normalized form.
type Domain struct {
	Name    string
	AddedAt time.Time
}

// SearchResult is a single hit returned by the vector index, ordered by
// descending Score (inner product of L2-normalized embeddings).
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
	Score   float32
}

// Chunk groups retrieved page texts for one report-compilation call.
// Chunks are ephemeral: built per run, discarded after use.
type Chunk struct {
	URLs          []string
	CombinedText  string
	TokenEstimate int
}
