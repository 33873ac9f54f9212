package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerolabs/zeroweb/internal/index"
)

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all scraped pages and index snapshots",
		Long: `Removes every page row from the content store and deletes the index
snapshot files. Registered domains are kept. This is the only deletion
path for page records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Store.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear store: %w", err)
			}
			if err := index.RemoveSnapshot(a.Cfg.Index.Path); err != nil {
				return fmt.Errorf("remove index snapshot: %w", err)
			}
			cmd.Println("cleared all pages and index snapshots")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}
