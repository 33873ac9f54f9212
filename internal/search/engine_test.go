package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/scrape"
)

type stubSearcher struct {
	results []crawl.SearchResult
	err     error
}

func (s *stubSearcher) Search(context.Context, string, int) ([]crawl.SearchResult, error) {
	return s.results, s.err
}

type stubReporter struct {
	report string
	err    error
	corpus string
	query  string
}

func (r *stubReporter) Summarize(_ context.Context, corpus, query string) (string, error) {
	r.corpus = corpus
	r.query = query
	return r.report, r.err
}

// textStore fakes just the full-text paths of crawl.ContentStore.
type textStore struct {
	mu    sync.Mutex
	texts map[string]string
}

func (s *textStore) UpsertURL(context.Context, string, float64) (int64, bool, error) {
	return 0, false, nil
}
func (s *textStore) ClaimBatch(context.Context, int) ([]crawl.PageRecord, error) { return nil, nil }
func (s *textStore) WriteResult(context.Context, int64, string, string, *string) error {
	return nil
}
func (s *textStore) WriteEmbedding(context.Context, int64, []float32) error { return nil }
func (s *textStore) ScanAll(context.Context, func(crawl.PageRecord) error) error {
	return nil
}
func (s *textStore) CountPending(context.Context) (int64, error) { return 0, nil }

func (s *textStore) WriteFullText(_ context.Context, url, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.texts == nil {
		s.texts = make(map[string]string)
	}
	s.texts[url] = text
	return nil
}

func (s *textStore) FullText(_ context.Context, url string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.texts[url]
	return text, ok, nil
}

func TestSearchAndReportCompilesStoredText(t *testing.T) {
	t.Parallel()

	store := &textStore{texts: map[string]string{
		"https://a.example/1": "everything about cats",
	}}
	searcher := &stubSearcher{results: []crawl.SearchResult{
		{URL: "https://a.example/1", Title: "Cats", Score: 0.9},
	}}
	reporter := &stubReporter{report: "cats are great"}

	e := NewEngine(searcher, store, nil, reporter, 4000, zap.NewNop())
	out, err := e.SearchAndReport(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Equal(t, "cats are great", out)
	require.Contains(t, reporter.corpus, "everything about cats")
	require.Equal(t, "cats", reporter.query)
}

func TestSearchAndReportFetchesMissingTextAndWritesBack(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>fresh text fetched at search time</p></body></html>`))
	}))
	defer server.Close()

	store := &textStore{}
	searcher := &stubSearcher{results: []crawl.SearchResult{
		{URL: server.URL + "/page", Title: "Fresh", Score: 0.8},
	}}
	reporter := &stubReporter{report: "report"}

	e := NewEngine(searcher, store, scrape.NewHTTPFetcher(time.Second, "test-agent"), reporter, 4000, zap.NewNop())
	out, err := e.SearchAndReport(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Equal(t, "report", out)
	require.Contains(t, reporter.corpus, "fresh text fetched")

	stored, ok, err := store.FullText(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, stored, "fresh text fetched")
}

func TestSearchAndReportDegradesOnReporterFailure(t *testing.T) {
	t.Parallel()

	store := &textStore{texts: map[string]string{"https://a.example/1": "text"}}
	searcher := &stubSearcher{results: []crawl.SearchResult{
		{URL: "https://a.example/1", Title: "Cats", Score: 0.9},
	}}
	reporter := &stubReporter{err: errors.New("quota exceeded")}

	e := NewEngine(searcher, store, nil, reporter, 4000, zap.NewNop())
	out, err := e.SearchAndReport(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Contains(t, out, "https://a.example/1")
	require.Contains(t, out, "quota exceeded")
}

func TestSearchAndReportWithoutReporter(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: []crawl.SearchResult{
		{URL: "https://a.example/1", Title: "Cats", Score: 0.9},
	}}
	e := NewEngine(searcher, &textStore{}, nil, nil, 4000, zap.NewNop())
	out, err := e.SearchAndReport(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Contains(t, out, "no reporter configured")
	require.Contains(t, out, "https://a.example/1")
}

func TestSearchAndReportNoResults(t *testing.T) {
	t.Parallel()

	e := NewEngine(&stubSearcher{}, &textStore{}, nil, &stubReporter{}, 4000, zap.NewNop())
	out, err := e.SearchAndReport(context.Background(), "nothing", 5)
	require.NoError(t, err)
	require.Contains(t, out, "No indexed pages matched")
}

func TestBuildChunksRespectsTokenBudget(t *testing.T) {
	t.Parallel()

	pages := []SourceText{
		{URL: "u1", Text: strings.Repeat("a", 400)}, // ~100 tokens
		{URL: "u2", Text: strings.Repeat("b", 400)},
		{URL: "u3", Text: strings.Repeat("c", 400)},
	}
	chunks := BuildChunks(pages, 250)
	require.Len(t, chunks, 2)
	require.Equal(t, []string{"u1", "u2"}, chunks[0].URLs)
	require.Equal(t, []string{"u3"}, chunks[1].URLs)
	for _, c := range chunks {
		require.Contains(t, c.CombinedText, "Source: ")
	}
}

func TestBuildChunksTruncatesOversizedPage(t *testing.T) {
	t.Parallel()

	pages := []SourceText{{URL: "u1", Text: strings.Repeat("x", 10000)}}
	chunks := BuildChunks(pages, 100)
	require.Len(t, chunks, 1)
	require.LessOrEqual(t, len(chunks[0].CombinedText), 500)
}

func TestBuildChunksSkipsEmptyText(t *testing.T) {
	t.Parallel()

	chunks := BuildChunks([]SourceText{{URL: "u1", Text: "   "}}, 100)
	require.Empty(t, chunks)
}
