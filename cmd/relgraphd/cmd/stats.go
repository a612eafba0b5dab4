package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show relationship graph statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		return printStats(s, dbPath)
	},
}

func printStats(s *store.Store, dbPath string) error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("  Companies: %d\n", stats.CompanyCount)
	fmt.Printf("  Domains:   %d\n", stats.DomainCount)
	fmt.Printf("  Contacts:  %d\n", stats.ContactCount)
	fmt.Printf("  Emails:    %d\n", stats.EmailCount)
	return nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
