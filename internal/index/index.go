// Package index maintains the in-memory ANN index over scraped pages
// and its snapshot persistence. One writer at a time; searches are
// served concurrently from the current graph.
package index

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/vecgo/hnsw"
	"github.com/hupe1980/vecgo/metric"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/metrics"
)

// Entry is the metadata kept alongside one indexed vector.
type Entry struct {
	VectorID uint32
	URL      string
	Title    string
	Snippet  string
	Deleted  bool
}

// Config sizes the HNSW graph.
type Config struct {
	M  int
	EF int
}

// Index is an HNSW graph over L2-normalized embeddings plus the
// url-to-vector bookkeeping. Distances are squared L2, which on unit
// vectors ranks identically to cosine similarity; reported scores are
// 1 - d²/2.
type Index struct {
	mu       sync.RWMutex
	graph    *hnsw.HNSW
	byURL    map[string]uint32
	meta     map[uint32]*Entry
	deadURLs int

	cfg      Config
	embedder crawl.Embedder
	store    crawl.ContentStore
	logger   *zap.Logger
}

// New builds an empty index. The embedder fixes the vector dimension
// and model identity; store is used for embedding write-back and
// Rebuild, and may be nil for read-only use.
func New(cfg Config, embedder crawl.Embedder, store crawl.ContentStore, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EF <= 0 {
		cfg.EF = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		graph:    newGraph(cfg, embedder.Dimension()),
		byURL:    make(map[string]uint32),
		meta:     make(map[uint32]*Entry),
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}, nil
}

func newGraph(cfg Config, dim int) *hnsw.HNSW {
	return hnsw.New(dim, func(o *hnsw.Options) {
		o.M = cfg.M
		o.EF = cfg.EF
		o.DistanceFunc = metric.SquaredL2
	})
}

// Len reports live (non-tombstoned) entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byURL)
}

// Tombstones reports entries removed but still present in the graph.
func (ix *Index) Tombstones() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.deadURLs
}

// Add indexes one scraped page. Pages without title and snippet are
// skipped; a URL already present is left untouched, making redelivery
// after claim expiry harmless. Freshly computed embeddings are written
// back to the store so Rebuild can reuse them.
func (ix *Index) Add(ctx context.Context, rec crawl.PageRecord) error {
	text := embedText(rec)
	if text == "" {
		ix.logger.Debug("skipping page with no indexable text", zap.String("url", rec.URL))
		return nil
	}

	ix.mu.RLock()
	_, exists := ix.byURL[rec.URL]
	ix.mu.RUnlock()
	if exists {
		return nil
	}

	vec := rec.Embedding
	freshlyEmbedded := false
	if len(vec) == 0 {
		var err error
		vec, err = ix.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", rec.URL, err)
		}
		freshlyEmbedded = true
	}
	unit, err := normalize(vec)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", rec.URL, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, dup := ix.byURL[rec.URL]; dup {
		return nil
	}
	id, err := ix.graph.Insert(unit)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.URL, err)
	}
	entry := &Entry{VectorID: id, URL: rec.URL, Title: rec.Title}
	if rec.Snippet != nil {
		entry.Snippet = *rec.Snippet
	}
	ix.byURL[rec.URL] = id
	ix.meta[id] = entry
	metrics.SetIndexSize(len(ix.byURL), ix.deadURLs)

	if freshlyEmbedded && ix.store != nil && rec.ID != 0 {
		if err := ix.store.WriteEmbedding(ctx, rec.ID, unit); err != nil {
			ix.logger.Warn("embedding write-back failed",
				zap.String("url", rec.URL), zap.Error(err))
		}
	}
	return nil
}

// Remove tombstones a URL. The vector stays in the graph until the
// next Rebuild; searches filter it out.
func (ix *Index) Remove(url string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id, ok := ix.byURL[url]
	if !ok {
		return false
	}
	ix.meta[id].Deleted = true
	delete(ix.byURL, url)
	ix.deadURLs++
	metrics.SetIndexSize(len(ix.byURL), ix.deadURLs)
	return true
}

// Search returns up to k live pages nearest to the query, best first.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]crawl.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	qvec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	unit, err := normalize(qvec)
	if err != nil {
		return nil, fmt.Errorf("normalize query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	live := len(ix.byURL)
	if live == 0 {
		return nil, nil
	}
	if k > live {
		k = live
	}
	// Over-fetch to absorb tombstones and the graph's zero sentinel.
	// The candidate pool must grow with the over-fetch or a heavily
	// tombstoned graph can starve the live results.
	fetch := k + ix.deadURLs + 1
	ef := ix.cfg.EF
	if fetch > ef {
		ef = fetch
	}

	pq, err := ix.graph.KNNSearch(unit, fetch, ef)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	// The queue is a max-heap on distance; popping yields worst first.
	ordered := make([]*hnsw.PriorityQueueItem, 0, pq.Len())
	for pq.Len() > 0 {
		item, _ := heap.Pop(pq).(*hnsw.PriorityQueueItem)
		if item != nil {
			ordered = append(ordered, item)
		}
	}

	results := make([]crawl.SearchResult, 0, k)
	for i := len(ordered) - 1; i >= 0 && len(results) < k; i-- {
		item := ordered[i]
		entry, ok := ix.meta[item.Node]
		if !ok || entry.Deleted {
			continue
		}
		results = append(results, crawl.SearchResult{
			URL:     entry.URL,
			Title:   entry.Title,
			Snippet: entry.Snippet,
			Score:   1 - item.Distance/2,
		})
	}
	return results, nil
}

// Rebuild reconstructs the graph from the store, shedding tombstones.
// Stored embeddings are reused; pages without one are embedded and the
// vector written back. The new graph replaces the old atomically.
func (ix *Index) Rebuild(ctx context.Context) error {
	if ix.store == nil {
		return fmt.Errorf("rebuild requires a content store")
	}

	graph := newGraph(ix.cfg, ix.embedder.Dimension())
	byURL := make(map[string]uint32)
	meta := make(map[uint32]*Entry)

	err := ix.store.ScanAll(ctx, func(rec crawl.PageRecord) error {
		if !rec.Scraped() {
			return nil
		}
		text := embedText(rec)
		if text == "" {
			return nil
		}
		vec := rec.Embedding
		if len(vec) == 0 {
			var err error
			vec, err = ix.embedder.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed %s: %w", rec.URL, err)
			}
			if rec.ID != 0 {
				if err := ix.store.WriteEmbedding(ctx, rec.ID, vec); err != nil {
					ix.logger.Warn("embedding write-back failed",
						zap.String("url", rec.URL), zap.Error(err))
				}
			}
		}
		unit, err := normalize(vec)
		if err != nil {
			ix.logger.Warn("skipping page with degenerate embedding",
				zap.String("url", rec.URL), zap.Error(err))
			return nil
		}
		if _, dup := byURL[rec.URL]; dup {
			return nil
		}
		id, err := graph.Insert(unit)
		if err != nil {
			return fmt.Errorf("insert %s: %w", rec.URL, err)
		}
		byURL[rec.URL] = id
		meta[id] = &Entry{VectorID: id, URL: rec.URL, Title: rec.Title, Snippet: derefOrEmpty(rec.Snippet)}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild scan: %w", err)
	}

	ix.mu.Lock()
	ix.graph = graph
	ix.byURL = byURL
	ix.meta = meta
	ix.deadURLs = 0
	size := len(byURL)
	ix.mu.Unlock()

	metrics.SetIndexSize(size, 0)
	ix.logger.Info("index rebuilt", zap.Int("vectors", size))
	return nil
}

func embedText(rec crawl.PageRecord) string {
	parts := make([]string, 0, 2)
	if rec.Title != "" {
		parts = append(parts, rec.Title)
	}
	if rec.Snippet != nil && *rec.Snippet != "" {
		parts = append(parts, *rec.Snippet)
	}
	return strings.TrimSpace(strings.Join(parts, ". "))
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// normalize returns the unit-length copy of vec.
func normalize(vec []float32) ([]float32, error) {
	mag := metric.Magnitude(vec)
	if mag == 0 {
		return nil, fmt.Errorf("zero magnitude vector")
	}
	unit := make([]float32, len(vec))
	for i, v := range vec {
		unit[i] = v / mag
	}
	return unit, nil
}
