package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/api"
	"github.com/zerolabs/zeroweb/internal/progress"
	"github.com/zerolabs/zeroweb/internal/scrape"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Discover and scrape all registered domains",
		Long: `Runs the full pipeline for every registered domain: URL discovery,
parallel scraping into Postgres and, when an embedder is configured,
incremental vector indexing.`,
		Args: cobra.NoArgs,
		RunE: runScanCommand,
	}
}

func runScanCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	domains, err := a.Store.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("list domains: %w", err)
	}
	if len(domains) == 0 {
		return errors.New("no domains registered; run 'zeroweb domain add' first")
	}
	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = d.Name
	}

	tracker := progress.NewTracker(0, func(s progress.Snapshot) {
		a.Logger.Info("scan progress",
			zap.Int64("processed", s.Processed),
			zap.Int64("total", s.Total),
			zap.Float64("percent", s.Percent),
		)
	})

	if a.Cfg.Server.Enabled {
		srv := api.New(a.Cfg.Server.Port, tracker, a.Logger)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	var sink scrape.Sink
	if a.Index != nil {
		sink = a.Index
	} else {
		a.Logger.Warn("no embedder configured; pages will be scraped but not indexed")
	}

	sched := scrape.NewScheduler(
		scrape.Config{
			Workers:      a.Cfg.Scraper.Workers(),
			BatchSize:    a.Cfg.Scraper.BatchSize,
			PollInterval: a.Cfg.Scraper.PollInterval(),
			IdlePolls:    a.Cfg.Scraper.IdlePolls,
		},
		a.Store, a.Discoverer, a.Fetcher, sink, tracker, a.Logger,
	)

	discovered, err := sched.Run(ctx, names)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scan: %w", err)
	}

	if err := a.SaveIndex(); err != nil {
		a.Logger.Error("index snapshot save failed", zap.Error(err))
	}

	snap := tracker.Snapshot()
	cmd.Printf("scan finished: %d new urls, %d pages processed (%d failed)\n",
		discovered, snap.Processed, snap.Failed)
	return nil
}
