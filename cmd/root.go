// Package cmd defines the zeroweb CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerolabs/zeroweb/internal/app"
)

var cfgFile string

// appKeyType keys the app container in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is a factory variable so tests can substitute a container
// built around fakes.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfgFile)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zeroweb",
		Short: "Domain-scoped semantic web search",
		Long: `zeroweb crawls the domains you register, scrapes their pages into
Postgres, embeds them into a vector index and answers semantic queries,
optionally compiling an LLM-written report from the matching pages.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./zeroweb.yaml)")

	cmd.AddCommand(newDomainCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newClearCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
