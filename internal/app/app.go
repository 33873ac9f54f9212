// Package app builds the dependency container shared by all commands.
// Required capabilities (config, logging, Postgres) fail fast; optional
// ones (Gemini embedder/reporter) degrade with a warning.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/config"
	"github.com/zerolabs/zeroweb/internal/crawl"
	"github.com/zerolabs/zeroweb/internal/discover"
	zwgenai "github.com/zerolabs/zeroweb/internal/genai"
	"github.com/zerolabs/zeroweb/internal/index"
	"github.com/zerolabs/zeroweb/internal/logging"
	"github.com/zerolabs/zeroweb/internal/metrics"
	"github.com/zerolabs/zeroweb/internal/scrape"
	"github.com/zerolabs/zeroweb/internal/store"
)

// App is the dependency container. Index, Embedder and Reporter are
// nil when GEMINI_API_KEY is absent; commands that need them say so.
type App struct {
	Cfg        config.Config
	Logger     *zap.Logger
	Store      *store.Store
	Policies   *crawl.Policies
	Discoverer crawl.Discoverer
	Fetcher    crawl.Fetcher
	Embedder   crawl.Embedder
	Reporter   crawl.Reporter
	Index      *index.Index
}

// New constructs the container from a config file path.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	st, err := store.New(ctx, store.Config{
		DSN:        cfg.Store.DSN,
		MaxConns:   cfg.Store.MaxConns,
		MinConns:   cfg.Store.MinConns,
		ClaimTTL:   cfg.Store.ClaimTTL(),
		MaxRetries: cfg.Store.MaxRetries,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}

	policies := crawl.NewPolicies(cfg.Scraper.UserAgent, logger)

	var discoverer crawl.Discoverer
	switch cfg.Discover.Strategy {
	case "cdx":
		discoverer = discover.NewCDX(policies, cfg.Discover.CDXServer, cfg.Discover.CDXIndex,
			cfg.Scraper.UserAgent, cfg.Discover.MaxURLsPerDomain, logger)
	default:
		discoverer = discover.NewCrawler(policies, cfg.Scraper.UserAgent,
			cfg.Discover.MaxDepth, cfg.Discover.MaxURLsPerDomain, logger)
	}

	a := &App{
		Cfg:        cfg,
		Logger:     logger,
		Store:      st,
		Policies:   policies,
		Discoverer: discoverer,
		Fetcher:    scrape.NewHTTPFetcher(cfg.Scraper.Timeout(), cfg.Scraper.UserAgent),
	}
	a.initGenAI(ctx)
	return a, nil
}

// initGenAI wires the embedder, reporter and vector index when a
// Gemini key is available; otherwise the app runs in scrape-only mode.
func (a *App) initGenAI(ctx context.Context) {
	client, err := zwgenai.NewClient(ctx)
	if err != nil {
		a.Logger.Warn("gemini unavailable; search and indexing disabled", zap.Error(err))
		return
	}
	a.Embedder = zwgenai.NewEmbedder(client, a.Cfg.GenAI.EmbedModel, a.Cfg.GenAI.Dimension)
	a.Reporter = zwgenai.NewReporter(client, a.Cfg.GenAI.ReportModel)

	ix, err := index.New(index.Config{M: a.Cfg.Index.M, EF: a.Cfg.Index.EF},
		a.Embedder, a.Store, a.Logger)
	if err != nil {
		a.Logger.Warn("index construction failed; search disabled", zap.Error(err))
		return
	}
	if err := ix.Load(a.Cfg.Index.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.Logger.Info("no index snapshot found; starting empty",
				zap.String("path", a.Cfg.Index.Path))
		} else {
			a.Logger.Error("index snapshot unusable; starting empty, run 'zeroweb index rebuild'",
				zap.String("path", a.Cfg.Index.Path), zap.Error(err))
		}
	}
	a.Index = ix
}

// SaveIndex persists the index snapshot if an index is loaded.
func (a *App) SaveIndex() error {
	if a.Index == nil {
		return nil
	}
	return a.Index.Save(a.Cfg.Index.Path)
}

// Close releases pooled resources.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
