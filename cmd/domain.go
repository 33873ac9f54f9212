package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDomainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Manage the crawl target domains",
	}
	cmd.AddCommand(newDomainAddCmd())
	cmd.AddCommand(newDomainListCmd())
	cmd.AddCommand(newDomainRemoveCmd())
	return cmd
}

func newDomainAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <domain>...",
		Short: "Register one or more domains for scanning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range args {
				added, err := a.Store.AddDomain(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("add domain %s: %w", name, err)
				}
				if added {
					cmd.Printf("added %s\n", name)
				} else {
					cmd.Printf("%s already registered\n", name)
				}
			}
			return nil
		},
	}
}

func newDomainListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			domains, err := a.Store.ListDomains(cmd.Context())
			if err != nil {
				return fmt.Errorf("list domains: %w", err)
			}
			if len(domains) == 0 {
				cmd.Println("no domains registered")
				return nil
			}
			for _, d := range domains {
				cmd.Printf("%s\t(added %s)\n", d.Name, d.AddedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func newDomainRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <domain>...",
		Short: "Remove domains from the scan set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range args {
				removed, err := a.Store.RemoveDomain(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("remove domain %s: %w", name, err)
				}
				if removed {
					cmd.Printf("removed %s\n", name)
				} else {
					cmd.Printf("%s was not registered\n", name)
				}
			}
			return nil
		},
	}
}
