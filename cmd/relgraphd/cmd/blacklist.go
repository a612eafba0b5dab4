package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/store"
)

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage the domain blacklist",
	}
	cmd.AddCommand(newBlacklistListCmd(), newBlacklistAddCmd(), newBlacklistRemoveCmd())
	return cmd
}

func newBlacklistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List blacklisted domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer s.Close()

			entries, err := blacklist.New(s).List("")
			if err != nil {
				return fmt.Errorf("list blacklist: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No blacklisted domains.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tCATEGORY\tSOURCE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Domain, e.Category, e.Source)
			}
			w.Flush()
			return nil
		},
	}
}

func newBlacklistAddCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "add <domain>",
		Short: "Add a domain to the blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer s.Close()

			cat := blacklist.Category(category)
			if err := blacklist.New(s).Add(args[0], cat, "manual"); err != nil {
				return fmt.Errorf("add blacklist domain: %w", err)
			}
			fmt.Printf("Blacklisted %s (%s)\n", args[0], cat)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", string(blacklist.CategoryManual), "blacklist category (spam, personal, transactional, manual)")
	return cmd
}

func newBlacklistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <domain>",
		Short: "Remove a domain from the blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer s.Close()

			if err := blacklist.New(s).Remove(args[0]); err != nil {
				return fmt.Errorf("remove blacklist domain: %w", err)
			}
			fmt.Printf("Removed %s from blacklist\n", args[0])
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newBlacklistCmd())
}
