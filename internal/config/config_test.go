package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "store:\n  dsn: postgres://localhost/zeroweb\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "crawl", cfg.Discover.Strategy)
	require.Equal(t, 32, cfg.Scraper.Workers())
	require.Equal(t, 15, cfg.Store.ClaimTTLMinutes)
	require.Equal(t, 768, cfg.GenAI.Dimension)
	require.Equal(t, 10, cfg.Search.TopK)
}

func TestLoadRequiresDSN(t *testing.T) {
	path := writeConfig(t, "logging:\n  development: true\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "store.dsn")
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, `
store:
  dsn: postgres://localhost/zeroweb
discover:
  strategy: oracle
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "discover.strategy")
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  dsn: postgres://localhost/zeroweb
  claim_ttl_minutes: 5
scraper:
  processes: 2
  threads_per_process: 3
discover:
  strategy: cdx
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Scraper.Workers())
	require.Equal(t, "cdx", cfg.Discover.Strategy)
	require.Equal(t, 5, cfg.Store.ClaimTTLMinutes)
}
