package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zerolabs/zeroweb/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		topK int
		ai   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the vector index",
		Long: `Searches the indexed pages semantically. With --ai the matching
pages' full text is retrieved and compiled into a report.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Index == nil {
				return errors.New("search requires GEMINI_API_KEY for query embedding")
			}
			query := strings.Join(args, " ")
			if topK <= 0 {
				topK = a.Cfg.Search.TopK
			}

			engine := search.NewEngine(a.Index, a.Store, a.Fetcher, a.Reporter,
				a.Cfg.Search.MaxChunkTokens, a.Logger)

			if ai {
				report, err := engine.SearchAndReport(cmd.Context(), query, topK)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				cmd.Println(report)
				return nil
			}

			results, err := engine.Search(cmd.Context(), query, topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				cmd.Println("no results")
				return nil
			}
			for i, res := range results {
				cmd.Printf("%2d. %.3f  %s\n", i+1, res.Score, res.URL)
				if res.Title != "" {
					cmd.Printf("    %s\n", res.Title)
				}
				if res.Snippet != "" {
					cmd.Printf("    %s\n", res.Snippet)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results (default from config)")
	cmd.Flags().BoolVar(&ai, "ai", false, "compile matching pages into an LLM report")
	return cmd
}
