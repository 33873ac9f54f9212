package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Vector index maintenance",
	}
	cmd.AddCommand(newIndexRebuildCmd())
	return cmd
}

func newIndexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the content store",
		Long: `Reconstructs the index from every scraped page in Postgres. Stored
embeddings are reused; pages without one are embedded. This is the only
operation that sheds tombstones, and the recovery path after a model or
dimension change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Index == nil {
				return errors.New("index rebuild requires GEMINI_API_KEY")
			}
			if err := a.Index.Rebuild(cmd.Context()); err != nil {
				return fmt.Errorf("rebuild index: %w", err)
			}
			if err := a.SaveIndex(); err != nil {
				return fmt.Errorf("save index snapshot: %w", err)
			}
			cmd.Printf("index rebuilt: %d vectors\n", a.Index.Len())
			return nil
		},
	}
}
