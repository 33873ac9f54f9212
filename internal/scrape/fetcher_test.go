package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetcherSetsUserAgentAndReadsBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(time.Second, "test-agent")
	page, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "hi")
}

func TestFetcherRejectsNonHTML(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(time.Second, "test-agent")
	_, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
}

func TestFetcherRejectsServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	f := NewHTTPFetcher(time.Second, "test-agent")
	page, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, page.StatusCode)
}
