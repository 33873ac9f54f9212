package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/metrics"
	"github.com/zerolabs/zeroweb/internal/scrape"
)

// Searcher is the vector index surface the engine needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]crawl.SearchResult, error)
}

// Engine runs semantic queries and, when a Reporter is available,
// compiles the retrieved pages into a report.
type Engine struct {
	index    Searcher
	store    crawl.ContentStore
	fetcher  crawl.Fetcher
	reporter crawl.Reporter
	logger   *zap.Logger

	maxChunkTokens int
}

// NewEngine wires a search engine. reporter may be nil; report
// requests then degrade to a plain result list.
func NewEngine(
	index Searcher,
	store crawl.ContentStore,
	fetcher crawl.Fetcher,
	reporter crawl.Reporter,
	maxChunkTokens int,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		index:          index,
		store:          store,
		fetcher:        fetcher,
		reporter:       reporter,
		logger:         logger,
		maxChunkTokens: maxChunkTokens,
	}
}

// Search returns the top-k nearest pages, best first.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]crawl.SearchResult, error) {
	start := time.Now()
	results, err := e.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSearch(time.Since(start))
	return results, nil
}

// SearchAndReport retrieves full text for the top-k results and asks
// the reporter to compile a report. Reporter problems are never hard
// errors: the caller always gets at least the result list back.
func (e *Engine) SearchAndReport(ctx context.Context, query string, k int) (string, error) {
	results, err := e.Search(ctx, query, k)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No indexed pages matched the query.", nil
	}

	if e.reporter == nil {
		return resultList(results) + "\n\nNote: report unavailable, no reporter configured.", nil
	}

	pages := e.gatherText(ctx, results)
	chunks := BuildChunks(pages, e.maxChunkTokens)
	if len(chunks) == 0 {
		return resultList(results) + "\n\nNote: report unavailable, no page text could be retrieved.", nil
	}

	var corpus strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			corpus.WriteString("\n\n=====\n\n")
		}
		corpus.WriteString(chunk.CombinedText)
	}

	report, err := e.reporter.Summarize(ctx, corpus.String(), query)
	if err != nil {
		e.logger.Warn("report generation failed", zap.Error(err))
		return resultList(results) + "\n\nNote: report unavailable: " + err.Error(), nil
	}
	return report, nil
}

// gatherText resolves full text per result: stored text when present,
// otherwise a synchronous fetch whose extraction is written back for
// next time. A page that cannot be fetched is simply left out.
func (e *Engine) gatherText(ctx context.Context, results []crawl.SearchResult) []SourceText {
	pages := make([]SourceText, 0, len(results))
	for _, res := range results {
		text, ok, err := e.store.FullText(ctx, res.URL)
		if err != nil {
			e.logger.Warn("full text lookup failed", zap.String("url", res.URL), zap.Error(err))
		}
		if !ok {
			text = e.fetchText(ctx, res.URL)
		}
		if text == "" {
			text = res.Snippet
		}
		if text == "" {
			continue
		}
		pages = append(pages, SourceText{URL: res.URL, Text: text})
	}
	return pages
}

func (e *Engine) fetchText(ctx context.Context, url string) string {
	if e.fetcher == nil {
		return ""
	}
	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		e.logger.Warn("full text fetch failed", zap.String("url", url), zap.Error(err))
		return ""
	}
	ex, err := scrape.Extract(page.Body)
	if err != nil || ex.FullText == "" {
		return ""
	}
	if err := e.store.WriteFullText(ctx, url, ex.FullText); err != nil {
		e.logger.Warn("full text write-back failed", zap.String("url", url), zap.Error(err))
	}
	return ex.FullText
}

func resultList(results []crawl.SearchResult) string {
	var b strings.Builder
	b.WriteString("Results:\n")
	for i, res := range results {
		title := res.Title
		if title == "" {
			title = res.URL
		}
		fmt.Fprintf(&b, "%d. %s (%s, score %.3f)\n", i+1, title, res.URL, res.Score)
	}
	return strings.TrimRight(b.String(), "\n")
}
