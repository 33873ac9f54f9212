package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/progress"
)

// memStore is an in-memory crawl.ContentStore for scheduler tests.
// Claims are held until WriteResult, mirroring the SQL claim semantics
// minus TTL expiry.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	byURL   map[string]int64
	records map[int64]*crawl.PageRecord
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1,
		byURL:   make(map[string]int64),
		records: make(map[int64]*crawl.PageRecord),
	}
}

func (m *memStore) UpsertURL(_ context.Context, url string, delay float64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byURL[url]; ok {
		return id, false, nil
	}
	id := m.nextID
	m.nextID++
	m.byURL[url] = id
	m.records[id] = &crawl.PageRecord{ID: id, URL: url, CrawlDelay: delay}
	return id, true, nil
}

func (m *memStore) ClaimBatch(_ context.Context, limit int) ([]crawl.PageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, rec := range m.records {
		if rec.Snippet == nil && rec.ClaimedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	now := time.Now()
	var batch []crawl.PageRecord
	for _, id := range ids {
		m.records[id].ClaimedAt = &now
		batch = append(batch, *m.records[id])
	}
	return batch, nil
}

func (m *memStore) WriteResult(_ context.Context, id int64, title, snippet string, fullText *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	rec.Title = title
	rec.Snippet = &snippet
	rec.FullText = fullText
	rec.ClaimedAt = nil
	return nil
}

func (m *memStore) WriteFullText(_ context.Context, url, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byURL[url]; ok {
		m.records[id].FullText = &text
	}
	return nil
}

func (m *memStore) FullText(_ context.Context, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byURL[url]; ok && m.records[id].FullText != nil {
		return *m.records[id].FullText, true, nil
	}
	return "", false, nil
}

func (m *memStore) WriteEmbedding(_ context.Context, id int64, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].Embedding = vec
	return nil
}

func (m *memStore) ScanAll(_ context.Context, fn func(crawl.PageRecord) error) error {
	m.mu.Lock()
	snapshot := make([]crawl.PageRecord, 0, len(m.records))
	for _, rec := range m.records {
		snapshot = append(snapshot, *rec)
	}
	m.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	for _, rec := range snapshot {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) CountPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.Snippet == nil {
			n++
		}
	}
	return n, nil
}

func (m *memStore) record(url string) crawl.PageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[m.byURL[url]]
}

// flakyStore fails the first failures ClaimBatch calls and then
// behaves like its embedded store.
type flakyStore struct {
	*memStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) ClaimBatch(ctx context.Context, limit int) ([]crawl.PageRecord, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return f.memStore.ClaimBatch(ctx, limit)
}

// timingFetcher records when each fetch started and returns a fixed
// HTML body.
type timingFetcher struct {
	mu    sync.Mutex
	times []time.Time
}

func (f *timingFetcher) Fetch(_ context.Context, url string) (crawl.Page, error) {
	f.mu.Lock()
	f.times = append(f.times, time.Now())
	f.mu.Unlock()
	return crawl.Page{
		URL:        url,
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><head><title>t</title></head><body><p>some page body text here</p></body></html>`),
	}, nil
}

// stubDiscoverer returns a fixed URL list per domain.
type stubDiscoverer struct {
	urls  map[string][]string
	delay float64
}

func (d *stubDiscoverer) Discover(_ context.Context, domain string) ([]string, float64, error) {
	return d.urls[domain], d.delay, nil
}

// recordingSink collects everything the scheduler indexes.
type recordingSink struct {
	mu   sync.Mutex
	recs []crawl.PageRecord
}

func (s *recordingSink) Add(_ context.Context, rec crawl.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func TestSchedulerRunScrapesDiscoveredPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Good Page</title>
			<meta name="description" content="A good page about things.">
			</head><body><p>body</p></body></html>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newMemStore()
	disc := &stubDiscoverer{
		urls: map[string][]string{
			"127.0.0.1": {server.URL + "/good", server.URL + "/broken"},
		},
		delay: 0.01,
	}
	sink := &recordingSink{}
	tracker := progress.NewTracker(0, nil)

	sched := NewScheduler(
		Config{Workers: 4, BatchSize: 10, PollInterval: 10 * time.Millisecond, IdlePolls: 2},
		store, disc, NewHTTPFetcher(2*time.Second, "test-agent"), sink, tracker,
		zap.NewNop(),
	)

	discovered, err := sched.Run(context.Background(), []string{"127.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, 2, discovered)

	good := store.record(server.URL + "/good")
	require.Equal(t, "Good Page", good.Title)
	require.NotNil(t, good.Snippet)
	require.Equal(t, "A good page about things.", *good.Snippet)
	require.True(t, good.Scraped())

	// The failed page keeps its claim so a later run can reclaim it.
	broken := store.record(server.URL + "/broken")
	require.False(t, broken.Scraped())
	require.NotNil(t, broken.ClaimedAt)

	require.Len(t, sink.recs, 1)
	require.Equal(t, server.URL+"/good", sink.recs[0].URL)

	snap := tracker.Snapshot()
	require.Equal(t, int64(2), snap.Processed)
	require.Equal(t, int64(1), snap.Failed)
}

func TestSchedulerRunDrainsWhenNothingPending(t *testing.T) {
	store := newMemStore()
	disc := &stubDiscoverer{urls: map[string][]string{}}

	sched := NewScheduler(
		Config{Workers: 2, BatchSize: 10, PollInterval: 5 * time.Millisecond, IdlePolls: 2},
		store, disc, NewHTTPFetcher(time.Second, "test-agent"), nil, nil,
		zap.NewNop(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		discovered, err := sched.Run(context.Background(), []string{"example.com"})
		require.NoError(t, err)
		require.Zero(t, discovered)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}

func TestSchedulerRunRetriesTransientClaimErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Page</title></head><body><p>enough body text to extract a snippet from</p></body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := &flakyStore{memStore: newMemStore(), failures: 1}
	disc := &stubDiscoverer{
		urls:  map[string][]string{"127.0.0.1": {server.URL + "/page"}},
		delay: 0.01,
	}

	sched := NewScheduler(
		Config{Workers: 1, BatchSize: 10, PollInterval: 5 * time.Millisecond, IdlePolls: 2},
		store, disc, NewHTTPFetcher(2*time.Second, "test-agent"), nil, nil,
		zap.NewNop(),
	)

	discovered, err := sched.Run(context.Background(), []string{"127.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, 1, discovered)
	require.True(t, store.record(server.URL+"/page").Scraped())
}

func TestSchedulerRunAbortsAfterClaimErrorBudget(t *testing.T) {
	store := &flakyStore{memStore: newMemStore(), failures: 1000}

	sched := NewScheduler(
		Config{Workers: 1, BatchSize: 10, PollInterval: time.Millisecond, IdlePolls: 2},
		store, &stubDiscoverer{}, NewHTTPFetcher(time.Second, "test-agent"), nil, nil,
		zap.NewNop(),
	)

	_, err := sched.Run(context.Background(), nil)
	require.ErrorContains(t, err, "claim batch")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, claimErrorBudget, store.calls)
}

func TestSchedulerSpacesSameDomainFetchesByCrawlDelay(t *testing.T) {
	const delay = 0.2

	store := newMemStore()
	disc := &stubDiscoverer{
		urls: map[string][]string{
			"example.com": {"https://example.com/a", "https://example.com/b"},
		},
		delay: delay,
	}
	fetcher := &timingFetcher{}

	// Two workers share one per-domain limiter, so the fetches must
	// still be spaced by the crawl delay.
	sched := NewScheduler(
		Config{Workers: 2, BatchSize: 1, PollInterval: 5 * time.Millisecond, IdlePolls: 2},
		store, disc, fetcher, nil, nil,
		zap.NewNop(),
	)

	_, err := sched.Run(context.Background(), []string{"example.com"})
	require.NoError(t, err)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Len(t, fetcher.times, 2)
	times := append([]time.Time(nil), fetcher.times...)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	gap := times[1].Sub(times[0])
	require.GreaterOrEqual(t, gap, 180*time.Millisecond, "fetches to one domain must honor its crawl delay")
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	store := newMemStore()
	_, _, err := store.UpsertURL(context.Background(), "https://192.0.2.1/a", 10)
	require.NoError(t, err)

	// A 10s crawl delay pins the worker in limiter.Wait; cancel must
	// still stop the run promptly.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	sched := NewScheduler(
		Config{Workers: 1, BatchSize: 10, PollInterval: time.Second, IdlePolls: 100},
		store, &stubDiscoverer{}, NewHTTPFetcher(time.Second, "test-agent"), nil, nil,
		zap.NewNop(),
	)
	_, err = sched.Run(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
